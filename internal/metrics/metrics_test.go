package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOperationCountsByResult(t *testing.T) {
	okBefore := testutil.ToFloat64(operationsTotal.WithLabelValues("calendar", "upsert", ResultOK))
	errBefore := testutil.ToFloat64(operationsTotal.WithLabelValues("calendar", "upsert", ResultError))

	ObserveOperation("calendar", "upsert", nil)
	ObserveOperation("calendar", "upsert", errors.New("boom"))
	ObserveOperation("calendar", "upsert", nil)

	if got := testutil.ToFloat64(operationsTotal.WithLabelValues("calendar", "upsert", ResultOK)) - okBefore; got != 2 {
		t.Errorf("expected 2 ok operations, got %v", got)
	}
	if got := testutil.ToFloat64(operationsTotal.WithLabelValues("calendar", "upsert", ResultError)) - errBefore; got != 1 {
		t.Errorf("expected 1 failed operation, got %v", got)
	}
}

func TestObserveRunSetsLastSuccess(t *testing.T) {
	ObserveRun(true, time.Now().Add(-time.Second))
	if testutil.ToFloat64(lastSuccess) == 0 {
		t.Fatal("expected last success timestamp to be set")
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/things/{id}"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/7", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/things/{id}")) - before; got != 1 {
		t.Errorf("expected request to be counted under the route pattern, got %v", got)
	}
}

func TestDBLatencyUsesOperationLabel(t *testing.T) {
	ctx := WithOperation(context.Background(), "sync")
	ObserveDBLatency(ctx, "events.read_snapshot", time.Now())

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `guildcal_db_latency_seconds_count{caller="sync",operation="events.read_snapshot"}`) {
		t.Errorf("expected labelled db latency series in metrics output")
	}
}

func TestPushSkipsWithoutGateway(t *testing.T) {
	if err := Push(context.Background(), "", "guildcal"); err != nil {
		t.Fatalf("expected no-op push, got %v", err)
	}
}

func TestPushSendsToGateway(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := Push(context.Background(), srv.URL, "guildcal"); err != nil {
		t.Fatalf("Push returned error: %v", err)
	}
	if gotPath != "/metrics/job/guildcal" {
		t.Errorf("unexpected push path %q", gotPath)
	}
}
