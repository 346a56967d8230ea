package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/now-remote/internal/logic"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func report(remote string, at time.Time, events ...logic.ButtonEvent) logic.Report {
	return logic.Report{Remote: remote, Events: events, ReceivedAt: at}
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer j.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("journal file was not created: %v", err)
	}
}

func TestReopenKeepsReports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	j, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := j.Record(ctx, report("02:00:00:00:00:01", now, logic.ButtonEvent{Type: logic.EventClicked, ClickCount: 1})); err != nil {
		t.Fatalf("record: %v", err)
	}
	j.Close()

	j, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	n, err := j.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 report after reopen, got %d", n)
	}
}

func TestRecordAssignsID(t *testing.T) {
	j := newTestJournal(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	got, err := j.Record(context.Background(), report("02:00:00:00:00:01", now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID == "" {
		t.Error("expected a generated ID")
	}

	kept, err := j.Record(context.Background(), logic.Report{ID: "fixed", Remote: "x", ReceivedAt: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kept.ID != "fixed" {
		t.Errorf("expected ID fixed, got %s", kept.ID)
	}
}

func TestRecordDuplicateID(t *testing.T) {
	j := newTestJournal(t)
	r := logic.Report{ID: "dup", Remote: "x", ReceivedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	if _, err := j.Record(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := j.Record(context.Background(), r); err == nil {
		t.Error("expected error for duplicate ID")
	}
}

func TestRecentRoundTrip(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	events := []logic.ButtonEvent{
		{Type: logic.EventClicked, ClickCount: 2},
		{Type: logic.EventReleased, ClickCount: 1},
	}
	if _, err := j.Record(ctx, report("02:00:00:00:00:01", now, events...)); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := j.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 report, got %d", len(got))
	}
	if !got[0].ReceivedAt.Equal(now) {
		t.Errorf("expected %v, got %v", now, got[0].ReceivedAt)
	}
	if len(got[0].Events) != 2 || got[0].Events[0] != events[0] || got[0].Events[1] != events[1] {
		t.Errorf("expected %v, got %v", events, got[0].Events)
	}
}

func TestRecentOrderingAndFilter(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	remotes := []string{"a", "b", "a", "a"}
	for i, remote := range remotes {
		if _, err := j.Record(ctx, report(remote, now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	got, err := j.Recent(ctx, "a", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(got))
	}
	if !got[0].ReceivedAt.Equal(now.Add(3*time.Second)) || !got[1].ReceivedAt.Equal(now.Add(2*time.Second)) {
		t.Errorf("expected newest first, got %v then %v", got[0].ReceivedAt, got[1].ReceivedAt)
	}
	for _, r := range got {
		if r.Remote != "a" {
			t.Errorf("expected remote a, got %s", r.Remote)
		}
	}
}

func TestPrune(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		j.Record(ctx, report("a", now.Add(time.Duration(i)*time.Hour)))
	}

	n, err := j.Prune(ctx, now.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}
	if count, _ := j.Count(ctx); count != 1 {
		t.Errorf("expected 1 left, got %d", count)
	}
}
