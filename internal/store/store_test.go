package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"gitea.jw6.us/james/guildcal/internal/model"
)

func TestReadSnapshotScansNullableColumns(t *testing.T) {
	start := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	pool := &mockPool{
		t: t,
		selects: []rowsExpectation{{
			expect: regexp.MustCompile(`SELECT id, name, description, starttime, endtime, creatorid, location, recurrence FROM events`),
			rows: [][]any{
				{"1", "Game night", "bring snacks", start, end, "42", "Voice", "RRULE:FREQ=WEEKLY"},
				{"2", "Quiz", nil, start.Add(24 * time.Hour), nil, nil, nil, nil},
			},
		}},
	}

	snap, err := New(pool).Events.ReadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("ReadSnapshot returned error: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 events, got %d", len(snap))
	}
	first := snap[0]
	if first.Description == nil || *first.Description != "bring snacks" || first.EndTime == nil || !first.EndTime.Equal(end) {
		t.Errorf("unexpected first event %+v", first)
	}
	second := snap[1]
	if second.Description != nil || second.EndTime != nil || second.Recurrence != nil {
		t.Errorf("expected null columns to scan as nil, got %+v", second)
	}
	pool.assertDone()
}

func TestReadSnapshotWrapsQueryError(t *testing.T) {
	boom := errors.New("connection reset")
	pool := &mockPool{t: t, selects: []rowsExpectation{{expect: regexp.MustCompile(`FROM events`), err: boom}}}

	if _, err := New(pool).Events.ReadSnapshot(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestInsertUpserts(t *testing.T) {
	start := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	ev := model.Event{ID: "7", Name: "Raid", StartTime: start, Location: model.Ptr("Dungeon")}
	pool := &mockPool{
		t: t,
		execs: []execExpectation{{
			expect: regexp.MustCompile(`(?s)INSERT INTO events .*ON CONFLICT \(id\) DO UPDATE`),
			args:   []any{"7", "Raid", nil, start, nil, nil, model.Ptr("Dungeon"), nil},
			tag:    "INSERT 0 1",
		}},
	}

	if err := New(pool).Events.Insert(context.Background(), ev); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	pool.assertDone()
}

func TestUpdateFallsBackToInsertWhenRowMissing(t *testing.T) {
	ev := model.Event{ID: "9", Name: "Moved", StartTime: time.Now()}
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile(`(?s)UPDATE events SET.*WHERE id = \$1`), args: []any{"9"}, tag: "UPDATE 0"},
			{expect: regexp.MustCompile(`INSERT INTO events`), args: []any{"9"}, tag: "INSERT 0 1"},
		},
	}

	if err := New(pool).Events.Update(context.Background(), ev); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	pool.assertDone()
}

func TestUpdateExistingRow(t *testing.T) {
	ev := model.Event{ID: "9", Name: "Moved", StartTime: time.Now()}
	pool := &mockPool{
		t:     t,
		execs: []execExpectation{{expect: regexp.MustCompile(`UPDATE events SET`), tag: "UPDATE 1"}},
	}

	if err := New(pool).Events.Update(context.Background(), ev); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	pool.assertDone()
}

func TestRemoveDeletesByID(t *testing.T) {
	pool := &mockPool{
		t:     t,
		execs: []execExpectation{{expect: regexp.MustCompile(`DELETE FROM events WHERE id = \$1`), args: []any{"3"}, tag: "DELETE 0"}},
	}

	if err := New(pool).Events.Remove(context.Background(), "3"); err != nil {
		t.Fatalf("Remove of an absent row should succeed, got %v", err)
	}
	pool.assertDone()
}

func TestListLinkedAccounts(t *testing.T) {
	pool := &mockPool{
		t: t,
		selects: []rowsExpectation{{
			expect: regexp.MustCompile(`(?s)JOIN accounts ON accounts."userId" = users.id.*"isLinkedToCalendar" = true AND accounts.provider = 'google'`),
			rows: [][]any{
				{"u1", "refresh-1", "access-1", int64(1700000000)},
				{"u2", "refresh-2", "", int64(0)},
			},
		}},
	}

	accounts, err := New(pool).Accounts.ListLinked(context.Background())
	if err != nil {
		t.Fatalf("ListLinked returned error: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].UserID != "u1" || accounts[0].ExpiresAt != 1700000000 || accounts[0].AccessToken != "access-1" {
		t.Errorf("unexpected first account %+v", accounts[0])
	}
	if accounts[1].ExpiresAt != 0 || accounts[1].AccessToken != "" {
		t.Errorf("unexpected second account %+v", accounts[1])
	}
	pool.assertDone()
}

func TestUpdateTokenReportsMissingAccount(t *testing.T) {
	pool := &mockPool{
		t: t,
		execs: []execExpectation{{
			expect: regexp.MustCompile(`UPDATE accounts SET access_token = \$2, expires_at = \$3`),
			args:   []any{"u1", "fresh", int64(1700003600)},
			tag:    "UPDATE 0",
		}},
	}

	err := New(pool).Accounts.UpdateToken(context.Background(), "u1", "fresh", 1700003600)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	pool.assertDone()
}

func TestHealthCheckPings(t *testing.T) {
	boom := errors.New("down")
	s := New(&mockPool{t: t, pingErr: boom})
	if err := s.HealthCheck(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected ping error, got %v", err)
	}
	s.Close()
}
