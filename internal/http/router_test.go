package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"gitea.jw6.us/james/guildcal/internal/config"
	"gitea.jw6.us/james/guildcal/internal/reconcile"
)

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck(ctx context.Context) error { return f.err }

type fakeRunner struct {
	report  *reconcile.Report
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context) (*reconcile.Report, error) {
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	return f.report, f.err
}

func testConfig(secret string) *config.Config {
	cfg := &config.Config{PrometheusEnabled: true}
	cfg.Sync.Secret = secret
	return cfg
}

func do(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	h := NewRouter(testConfig(""), fakeDB{}, &fakeRunner{})
	if rec := do(h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}

	down := NewRouter(testConfig(""), fakeDB{err: errors.New("down")}, &fakeRunner{})
	if rec := do(down, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with db down = %d", rec.Code)
	}
}

func TestSyncNotMountedWithoutSecret(t *testing.T) {
	h := NewRouter(testConfig(""), fakeDB{}, &fakeRunner{})
	if rec := do(h, http.MethodPost, "/sync", "anything"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without secret, got %d", rec.Code)
	}
}

func TestSyncRequiresBearer(t *testing.T) {
	h := NewRouter(testConfig("s3cret"), fakeDB{}, &fakeRunner{report: &reconcile.Report{}})
	if rec := do(h, http.MethodPost, "/sync", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSyncReturnsReport(t *testing.T) {
	report := &reconcile.Report{
		RunID: "run-1", Removed: 1, Updated: 2, Added: 3, Users: 4,
		Failures: []reconcile.Failure{{Target: reconcile.TargetCalendar, Action: reconcile.ActionUpsert, EventID: "E", UserID: "u1", Err: errors.New("quota")}},
	}
	h := NewRouter(testConfig("s3cret"), fakeDB{}, &fakeRunner{report: report})

	rec := do(h, http.MethodPost, "/sync", "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got syncResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.RunID != "run-1" || got.Added != 3 || len(got.Failures) != 1 {
		t.Errorf("unexpected response %+v", got)
	}
}

func TestSyncFetchFailure(t *testing.T) {
	h := NewRouter(testConfig("s3cret"), fakeDB{}, &fakeRunner{err: errors.New("discord down")})
	if rec := do(h, http.MethodPost, "/sync", "s3cret"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestSyncRefusesOverlappingRuns(t *testing.T) {
	runner := &fakeRunner{report: &reconcile.Report{}, started: make(chan struct{}), release: make(chan struct{})}
	h := NewRouter(testConfig("s3cret"), fakeDB{}, runner)

	var wg sync.WaitGroup
	wg.Add(1)
	var first int
	go func() {
		defer wg.Done()
		first = do(h, http.MethodPost, "/sync", "s3cret").Code
	}()
	<-runner.started

	if rec := do(h, http.MethodPost, "/sync", "s3cret"); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while a run is in flight, got %d", rec.Code)
	}
	close(runner.release)
	wg.Wait()
	if first != http.StatusOK {
		t.Errorf("first run status = %d", first)
	}
}
