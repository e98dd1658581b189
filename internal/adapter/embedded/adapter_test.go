package embedded_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/outpostlabs/jobengine/internal/adapter/embedded"
	"github.com/outpostlabs/jobengine/internal/jobcore"
)

func newTestAdapter(t *testing.T) *embedded.Adapter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	a, err := embedded.Open(path, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestEmbeddedAdapter_ScheduleThenFind(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	record, err := a.Schedule(ctx, jobcore.ScheduleSpec{
		Handler: "WelcomeJob",
		Args:    json.RawMessage(`"a@x.com"`),
		RunAt:   time.Now().Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if record.Queue != "default" || record.Priority != 50 {
		t.Fatalf("unexpected defaults: %+v", record)
	}
	if record.ID == "" {
		t.Fatal("expected a non-empty ID")
	}

	claimed, err := a.Find(ctx, jobcore.FindOptions{ProcessName: "worker-1", MaxRuntime: time.Hour})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimed record")
	}
	if claimed.Attempts != 1 {
		t.Fatalf("expected attempts incremented to 1, got %d", claimed.Attempts)
	}
	if claimed.LockedBy == nil || *claimed.LockedBy != "worker-1" {
		t.Fatalf("expected LockedBy=worker-1, got %v", claimed.LockedBy)
	}
}

func TestEmbeddedAdapter_Find_NotYetDue(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "X", Args: json.RawMessage(`{}`), RunAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	claimed, err := a.Find(ctx, jobcore.FindOptions{MaxRuntime: time.Hour})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected nil, job isn't due yet: %+v", claimed)
	}
}

func TestEmbeddedAdapter_Find_NoDoubleClaimAcrossCallers(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "X", Args: json.RawMessage(`{}`), RunAt: time.Now().Add(-time.Second)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	first, err := a.Find(ctx, jobcore.FindOptions{ProcessName: "w1", MaxRuntime: time.Hour})
	if err != nil {
		t.Fatalf("Find 1: %v", err)
	}
	if first == nil {
		t.Fatal("expected first Find to claim")
	}

	second, err := a.Find(ctx, jobcore.FindOptions{ProcessName: "w2", MaxRuntime: time.Hour})
	if err != nil {
		t.Fatalf("Find 2: %v", err)
	}
	if second != nil {
		t.Fatal("expected second Find to see nothing claimable")
	}
}

func TestEmbeddedAdapter_Find_OrdersByPriorityThenRunAtThenID(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().Add(-time.Minute)

	low, _ := a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "Low", Args: json.RawMessage(`{}`), Queue: "q", Priority: 90, RunAt: now})
	high, _ := a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "High", Args: json.RawMessage(`{}`), Queue: "q", Priority: 1, RunAt: now})

	claimed, err := a.Find(ctx, jobcore.FindOptions{ProcessName: "w1", MaxRuntime: time.Hour, Queue: "q"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if claimed.ID != high.ID {
		t.Fatalf("expected high-priority job %s claimed first, got %s (low=%s)", high.ID, claimed.ID, low.ID)
	}
}

func TestEmbeddedAdapter_Find_RespectsQueueFilter(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().Add(-time.Second)

	_, err := a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "X", Args: json.RawMessage(`{}`), Queue: "mailers", RunAt: now})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	claimed, err := a.Find(ctx, jobcore.FindOptions{MaxRuntime: time.Hour, Queue: "other"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if claimed != nil {
		t.Fatal("expected no match for a different queue")
	}
}

func TestEmbeddedAdapter_Success_Deletes(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	record, _ := a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "X", Args: json.RawMessage(`{}`), RunAt: time.Now()})
	if err := a.Success(ctx, record); err != nil {
		t.Fatalf("Success: %v", err)
	}

	claimed, err := a.Find(ctx, jobcore.FindOptions{MaxRuntime: time.Hour})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if claimed != nil {
		t.Fatal("expected no claimable record after Success")
	}
}

func TestEmbeddedAdapter_Failure_ReschedulesUnderCeiling(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, _ = a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "X", Args: json.RawMessage(`{}`), RunAt: time.Now().Add(-time.Second)})
	claimed, _ := a.Find(ctx, jobcore.FindOptions{ProcessName: "w1", MaxRuntime: time.Hour})

	terminal, err := a.Failure(ctx, claimed, errors.New("boom"), 24)
	if err != nil {
		t.Fatalf("Failure: %v", err)
	}
	if terminal {
		t.Fatal("expected a non-terminal failure")
	}

	again, err := a.Find(ctx, jobcore.FindOptions{MaxRuntime: time.Hour})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if again != nil {
		t.Fatal("backoff should push run_at into the future, not make it immediately claimable")
	}
}

func TestEmbeddedAdapter_Failure_TerminalAtCeiling(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, _ = a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "X", Args: json.RawMessage(`{}`), RunAt: time.Now().Add(-time.Second)})
	claimed, _ := a.Find(ctx, jobcore.FindOptions{ProcessName: "w1", MaxRuntime: time.Hour})

	terminal, err := a.Failure(ctx, claimed, errors.New("boom"), 1)
	if err != nil {
		t.Fatalf("Failure: %v", err)
	}
	if !terminal {
		t.Fatal("expected a terminal failure at the attempts ceiling")
	}

	failed, err := a.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if failed.RunAt != nil {
		t.Fatalf("RunAt = %v, want nil for a terminally failed record", failed.RunAt)
	}

	again, err := a.Find(ctx, jobcore.FindOptions{MaxRuntime: time.Hour})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if again != nil {
		t.Fatal("a terminally failed record must never be claimable again")
	}
}

func TestEmbeddedAdapter_StaleLockIsReclaimed(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, _ = a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "X", Args: json.RawMessage(`{}`), RunAt: time.Now().Add(-time.Second)})

	first, err := a.Find(ctx, jobcore.FindOptions{ProcessName: "w1", MaxRuntime: 10 * time.Millisecond})
	if err != nil || first == nil {
		t.Fatalf("Find 1: record=%v err=%v", first, err)
	}

	time.Sleep(20 * time.Millisecond)

	second, err := a.Find(ctx, jobcore.FindOptions{ProcessName: "w2", MaxRuntime: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Find 2: %v", err)
	}
	if second == nil {
		t.Fatal("expected the stale lock to be reclaimed")
	}
	if second.Attempts != 2 {
		t.Fatalf("expected attempts incremented again on reclaim, got %d", second.Attempts)
	}
}

func TestEmbeddedAdapter_GetJob(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	record, err := a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "X", Args: json.RawMessage(`{}`), RunAt: time.Now()})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	got, err := a.GetJob(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Handler != "X" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := a.GetJob(ctx, "9999"); !errors.Is(err, jobcore.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestEmbeddedAdapter_ListJobs_PaginatesNewestFirst(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		r, err := a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "X", Args: json.RawMessage(`{}`), RunAt: time.Now()})
		if err != nil {
			t.Fatalf("Schedule: %v", err)
		}
		ids = append(ids, r.ID)
		time.Sleep(time.Millisecond)
	}

	page, err := a.ListJobs(ctx, jobcore.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}
	if page.Records[0].ID != ids[4] || page.Records[1].ID != ids[3] {
		t.Fatalf("expected newest-first order, got %s, %s", page.Records[0].ID, page.Records[1].ID)
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor with more pages remaining")
	}

	next, err := a.ListJobs(ctx, jobcore.ListOptions{Limit: 2, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("ListJobs page 2: %v", err)
	}
	if next.Records[0].ID != ids[2] || next.Records[1].ID != ids[1] {
		t.Fatalf("expected continuation of newest-first order, got %s, %s", next.Records[0].ID, next.Records[1].ID)
	}
}

func TestEmbeddedAdapter_Retry_ClearsFailureAndResetsRunAt(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, _ = a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "X", Args: json.RawMessage(`{}`), RunAt: time.Now().Add(-time.Second)})
	claimed, _ := a.Find(ctx, jobcore.FindOptions{ProcessName: "w1", MaxRuntime: time.Hour})

	if _, err := a.Failure(ctx, claimed, errors.New("boom"), 1); err != nil {
		t.Fatalf("Failure: %v", err)
	}

	retried, err := a.Retry(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.FailedAt != nil || retried.LastError != nil {
		t.Fatalf("expected failure state cleared, got %+v", retried)
	}

	again, err := a.Find(ctx, jobcore.FindOptions{MaxRuntime: time.Hour})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if again == nil {
		t.Fatal("expected the retried record to be claimable again")
	}
}

func TestEmbeddedAdapter_Clear(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, _ = a.Schedule(ctx, jobcore.ScheduleSpec{Handler: "X", Args: json.RawMessage(`{}`), RunAt: time.Now()})
	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	claimed, err := a.Find(ctx, jobcore.FindOptions{MaxRuntime: time.Hour})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if claimed != nil {
		t.Fatal("expected nothing claimable after Clear")
	}
}
