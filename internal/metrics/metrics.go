package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

type ctxKey string

const operationLabelKey ctxKey = "metrics_operation"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildcal_http_requests_total",
		Help: "Total number of HTTP requests processed by the ops server.",
	}, []string{"method", "route"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guildcal_http_request_duration_seconds",
		Help:    "Histogram of latencies for ops server requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	dbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guildcal_db_latency_seconds",
		Help:    "Histogram of database operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "caller"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildcal_reconcile_runs_total",
		Help: "Reconciliation runs by outcome.",
	}, []string{"result"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guildcal_reconcile_run_duration_seconds",
		Help:    "Wall time of complete reconciliation runs.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	changesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildcal_reconcile_changes_total",
		Help: "Events found removed, updated or added by the diff.",
	}, []string{"kind"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildcal_reconcile_operations_total",
		Help: "Apply-phase operations by target, action and result.",
	}, []string{"target", "action", "result"})

	linkedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guildcal_linked_users",
		Help: "Linked users with a usable access token in the last run.",
	})

	tokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildcal_token_refresh_total",
		Help: "Access token refresh attempts by result.",
	}, []string{"result"})

	lastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guildcal_reconcile_last_success_timestamp_seconds",
		Help: "Unix time of the last run whose fetch phase succeeded.",
	})
)

// Middleware records request metrics for the ops router.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routePattern(r)
			status := strconv.Itoa(ww.Status())
			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WithOperation labels database calls made with ctx, e.g. "sync" or "push".
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationLabelKey, op)
}

// ObserveDBLatency records database latency for a given statement.
func ObserveDBLatency(ctx context.Context, operation string, start time.Time) {
	dbLatency.WithLabelValues(operation, callerFromContext(ctx)).Observe(time.Since(start).Seconds())
}

// ObserveRun records a finished run. ok is false when the fetch phase failed.
func ObserveRun(ok bool, start time.Time) {
	runDuration.Observe(time.Since(start).Seconds())
	if ok {
		runsTotal.WithLabelValues(ResultOK).Inc()
		lastSuccess.SetToCurrentTime()
		return
	}
	runsTotal.WithLabelValues(ResultError).Inc()
}

// ObserveChanges records the size of each diff set.
func ObserveChanges(removed, updated, added int) {
	changesTotal.WithLabelValues("removed").Add(float64(removed))
	changesTotal.WithLabelValues("updated").Add(float64(updated))
	changesTotal.WithLabelValues("added").Add(float64(added))
}

// ObserveOperation counts one apply-phase operation.
func ObserveOperation(target, action string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	operationsTotal.WithLabelValues(target, action, result).Inc()
}

// SetLinkedUsers records how many users took part in the last run.
func SetLinkedUsers(n int) {
	linkedUsers.Set(float64(n))
}

// ObserveTokenRefresh counts one refresh attempt.
func ObserveTokenRefresh(err error) {
	if err != nil {
		tokenRefreshTotal.WithLabelValues(ResultError).Inc()
		return
	}
	tokenRefreshTotal.WithLabelValues(ResultOK).Inc()
}

// Push sends the default registry to a Prometheus push gateway. One-shot CLI
// runs use it because nothing scrapes them.
func Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return nil
	}
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

func callerFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(operationLabelKey).(string); ok && op != "" {
		return op
	}
	return "unknown"
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
