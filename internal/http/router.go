package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"gitea.jw6.us/james/guildcal/internal/config"
	httperrors "gitea.jw6.us/james/guildcal/internal/http/errors"
	"gitea.jw6.us/james/guildcal/internal/http/ratelimit"
	"gitea.jw6.us/james/guildcal/internal/metrics"
	"gitea.jw6.us/james/guildcal/internal/reconcile"
)

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Runner performs one reconciliation run.
type Runner interface {
	Run(ctx context.Context) (*reconcile.Report, error)
}

// NewRouter wires the ops endpoints: health, readiness, metrics and the
// sync trigger. The trigger is only mounted when a sync secret is set.
func NewRouter(cfg *config.Config, db HealthChecker, runner Runner) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			httperrors.LogError(r, "readiness check failed", err)
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	if cfg.Sync.Secret != "" {
		// One run per minute per client, burst of 3.
		limiter := ratelimit.NewIPRateLimiter(rate.Every(time.Minute), 3, 10*time.Minute, cfg.TrustedProxies)
		h := &syncHandler{secret: cfg.Sync.Secret, runner: runner}
		r.With(limiter.Middleware()).Post("/sync", h.ServeHTTP)
	}

	return r
}

type syncHandler struct {
	secret string
	runner Runner
	// running is held for the duration of a run; overlapping triggers get 409.
	running sync.Mutex
}

type syncResponse struct {
	RunID    string   `json:"run_id"`
	Removed  int      `json:"removed"`
	Updated  int      `json:"updated"`
	Added    int      `json:"added"`
	Users    int      `json:"users"`
	Failures []string `json:"failures,omitempty"`
}

func (h *syncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
		w.Header().Set("WWW-Authenticate", `Bearer realm="guildcal"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.running.TryLock() {
		http.Error(w, "a run is already in progress", http.StatusConflict)
		return
	}
	defer h.running.Unlock()

	// The run finishes even if the caller hangs up.
	report, err := h.runner.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		httperrors.InternalError(w, r, err, "sync run failed")
		return
	}

	resp := syncResponse{
		RunID:   report.RunID,
		Removed: report.Removed,
		Updated: report.Updated,
		Added:   report.Added,
		Users:   report.Users,
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, f.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
