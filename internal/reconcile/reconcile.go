// Package reconcile applies the difference between the mirrored and the
// current guild events to the mirror table and every linked calendar.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gitea.jw6.us/james/guildcal/internal/diff"
	"gitea.jw6.us/james/guildcal/internal/log"
	"gitea.jw6.us/james/guildcal/internal/metrics"
	"gitea.jw6.us/james/guildcal/internal/model"
)

// EventSource lists the guild's current scheduled events.
type EventSource interface {
	ListEvents(ctx context.Context) (model.Snapshot, error)
	GetEvent(ctx context.Context, id string) (model.Event, model.Status, error)
}

// MirrorStore holds the snapshot of the previous run.
type MirrorStore interface {
	ReadSnapshot(ctx context.Context) (model.Snapshot, error)
	Insert(ctx context.Context, event model.Event) error
	Update(ctx context.Context, event model.Event) error
	Remove(ctx context.Context, id string) error
}

// Projector writes events into one user's calendar. Upsert creates or
// overwrites by event id; Remove of an absent entry succeeds.
type Projector interface {
	Upsert(ctx context.Context, cred model.Credential, event model.Event) error
	Remove(ctx context.Context, cred model.Credential, id string) error
}

// CredentialSupplier returns linked users whose tokens are usable right now.
type CredentialSupplier interface {
	LinkedUsers(ctx context.Context) ([]model.Credential, error)
}

// Operation targets and actions, used in reports, logs and metrics.
const (
	TargetMirror   = "mirror"
	TargetCalendar = "calendar"

	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionUpsert = "upsert"
	ActionRemove = "remove"
)

// Failure is one apply-phase operation that did not succeed.
type Failure struct {
	Target  string
	Action  string
	EventID string
	// UserID is empty for mirror operations.
	UserID string
	Err    error
}

func (f Failure) Error() string {
	if f.UserID == "" {
		return fmt.Sprintf("%s %s %s: %v", f.Target, f.Action, f.EventID, f.Err)
	}
	return fmt.Sprintf("%s %s %s for %s: %v", f.Target, f.Action, f.EventID, f.UserID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Report summarises one run. Counts are diff set sizes, not successes.
type Report struct {
	RunID    string
	Removed  int
	Updated  int
	Added    int
	Users    int
	Failures []Failure
	Started  time.Time
	Finished time.Time
}

// Failed reports whether any apply operation failed.
func (r *Report) Failed() bool {
	return len(r.Failures) > 0
}

// Reconciler owns the collaborators and the diff engine for repeated runs.
// It does not guard against overlapping runs.
type Reconciler struct {
	source    EventSource
	mirror    MirrorStore
	projector Projector
	users     CredentialSupplier
	engine    diff.Engine
	now       func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides time.Now for the expiry check of removed events.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithLocation sets where time-of-day is split from the date when diffing.
func WithLocation(loc *time.Location) Option {
	return func(r *Reconciler) { r.engine.Location = loc }
}

// New returns a Reconciler over the given collaborators.
func New(source EventSource, mirror MirrorStore, projector Projector, users CredentialSupplier, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:    source,
		mirror:    mirror,
		projector: projector,
		users:     users,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one fetch, diff and apply cycle. The error is non-nil only
// when fetching failed, in which case nothing was applied. Apply failures are
// collected in the report.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{RunID: uuid.NewString(), Started: started}
	logger := log.With("run_id", report.RunID)
	ctx = metrics.WithOperation(ctx, "sync")

	var (
		current  model.Snapshot
		previous model.Snapshot
		users    []model.Credential
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, err := r.source.ListEvents(gctx)
		if err != nil {
			return fmt.Errorf("fetch current events: %w", err)
		}
		current = snap
		return nil
	})
	g.Go(func() error {
		snap, err := r.mirror.ReadSnapshot(gctx)
		if err != nil {
			return fmt.Errorf("read mirror: %w", err)
		}
		previous = snap
		return nil
	})
	g.Go(func() error {
		creds, err := r.users.LinkedUsers(gctx)
		if err != nil {
			return fmt.Errorf("list linked users: %w", err)
		}
		users = creds
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.ObserveRun(false, started)
		logger.Error("fetch phase failed", err)
		return nil, err
	}

	res := r.engine.Compute(previous, current, r.now())
	report.Removed, report.Updated, report.Added = len(res.Removed), len(res.Updated), len(res.Added)
	report.Users = len(users)
	metrics.ObserveChanges(report.Removed, report.Updated, report.Added)
	if res.Empty() {
		logger.Debug("nothing to apply", "users", report.Users)
	}
	logger.Info("diff computed",
		"removed", report.Removed,
		"updated", report.Updated,
		"added", report.Added,
		"users", report.Users,
	)

	b := newBatch(logger, report)
	for _, ev := range res.Removed {
		id := ev.ID
		b.do(TargetMirror, ActionRemove, id, "", func() error { return r.mirror.Remove(ctx, id) })
		for _, u := range users {
			b.do(TargetCalendar, ActionRemove, id, u.UserID, func() error { return r.projector.Remove(ctx, u, id) })
		}
	}
	for _, ev := range res.Updated {
		b.do(TargetMirror, ActionUpdate, ev.ID, "", func() error { return r.mirror.Update(ctx, ev) })
		r.project(ctx, b, users, ev)
	}
	for _, ev := range res.Added {
		b.do(TargetMirror, ActionInsert, ev.ID, "", func() error { return r.mirror.Insert(ctx, ev) })
		r.project(ctx, b, users, ev)
	}
	b.wait()

	metrics.ObserveRun(true, started)
	logger.Info("run finished", "failures", len(report.Failures), "duration", report.Finished.Sub(started).String())
	return report, nil
}

// Backfill upserts every current event into every linked calendar without
// touching the mirror. It covers users linked after their events were
// mirrored and calendar writes that failed in earlier runs.
func (r *Reconciler) Backfill(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{RunID: uuid.NewString(), Started: started}
	logger := log.With("run_id", report.RunID, "mode", "backfill")
	ctx = metrics.WithOperation(ctx, "backfill")

	var (
		current model.Snapshot
		users   []model.Credential
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, err := r.source.ListEvents(gctx)
		if err != nil {
			return fmt.Errorf("fetch current events: %w", err)
		}
		current = snap
		return nil
	})
	g.Go(func() error {
		creds, err := r.users.LinkedUsers(gctx)
		if err != nil {
			return fmt.Errorf("list linked users: %w", err)
		}
		users = creds
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("fetch phase failed", err)
		return nil, err
	}

	report.Updated = len(current)
	report.Users = len(users)
	logger.Info("backfilling calendars", "events", report.Updated, "users", report.Users)

	b := newBatch(logger, report)
	for _, ev := range current {
		r.project(ctx, b, users, ev)
	}
	b.wait()

	logger.Info("backfill finished", "failures", len(report.Failures), "duration", report.Finished.Sub(started).String())
	return report, nil
}

// Project brings one event into the mirror and every linked calendar, or
// retracts it when the event has completed or been canceled.
func (r *Reconciler) Project(ctx context.Context, id string) (*Report, error) {
	ctx = metrics.WithOperation(ctx, "push")

	var (
		ev     model.Event
		status model.Status
		users  []model.Credential
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ev, status, err = r.source.GetEvent(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		users, err = r.users.LinkedUsers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("project %s: %w", id, err)
	}

	if status.Finished() {
		return r.retract(ctx, id, users), nil
	}

	report := &Report{RunID: uuid.NewString(), Started: time.Now(), Updated: 1, Users: len(users)}
	b := newBatch(log.With("run_id", report.RunID, "event_id", id), report)
	b.do(TargetMirror, ActionInsert, id, "", func() error { return r.mirror.Insert(ctx, ev) })
	r.project(ctx, b, users, ev)
	b.wait()
	return report, nil
}

// Retract removes one event from the mirror and every linked calendar.
func (r *Reconciler) Retract(ctx context.Context, id string) (*Report, error) {
	ctx = metrics.WithOperation(ctx, "retract")
	users, err := r.users.LinkedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("retract %s: %w", id, err)
	}
	return r.retract(ctx, id, users), nil
}

func (r *Reconciler) retract(ctx context.Context, id string, users []model.Credential) *Report {
	report := &Report{RunID: uuid.NewString(), Started: time.Now(), Removed: 1, Users: len(users)}
	b := newBatch(log.With("run_id", report.RunID, "event_id", id), report)
	b.do(TargetMirror, ActionRemove, id, "", func() error { return r.mirror.Remove(ctx, id) })
	for _, u := range users {
		b.do(TargetCalendar, ActionRemove, id, u.UserID, func() error { return r.projector.Remove(ctx, u, id) })
	}
	b.wait()
	return report
}

func (r *Reconciler) project(ctx context.Context, b *batch, users []model.Credential, ev model.Event) {
	for _, u := range users {
		b.do(TargetCalendar, ActionUpsert, ev.ID, u.UserID, func() error { return r.projector.Upsert(ctx, u, ev) })
	}
}

// batch runs independent operations concurrently and records failures.
type batch struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	logger *log.Logger
	report *Report
}

func newBatch(logger *log.Logger, report *Report) *batch {
	return &batch{logger: logger, report: report}
}

func (b *batch) do(target, action, eventID, userID string, fn func() error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := fn()
		metrics.ObserveOperation(target, action, err)
		if err == nil {
			b.logger.Debug("operation applied", "target", target, "action", action, "event_id", eventID, "user_id", userID)
			return
		}
		b.logger.Error("operation failed", err, "target", target, "action", action, "event_id", eventID, "user_id", userID)
		b.mu.Lock()
		b.report.Failures = append(b.report.Failures, Failure{Target: target, Action: action, EventID: eventID, UserID: userID, Err: err})
		b.mu.Unlock()
	}()
}

func (b *batch) wait() {
	b.wg.Wait()
	b.report.Finished = time.Now()
}
