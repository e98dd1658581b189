// Package jobcore defines the durable job record, the Adapter contract that
// every storage backend must satisfy, and the process-wide scheduling facade
// application code calls through.
package jobcore

import (
	"encoding/json"
	"time"
)

// JobRecord is one row of durable state for a scheduled invocation.
type JobRecord struct {
	ID      string
	Handler string
	Args    json.RawMessage

	Queue    string
	Priority int

	RunAt *time.Time

	LockedAt *time.Time
	LockedBy *string

	Attempts  int
	LastError *string
	FailedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Claimable reports whether the record is eligible for Find at now, given
// maxRuntime as the stale-lock threshold. It mirrors the predicate the
// adapters evaluate; the adapters do not call it (the Postgres adapter
// evaluates the predicate in SQL, the embedded adapter keeps its own copy).
func (r *JobRecord) Claimable(now time.Time, maxRuntime time.Duration, queue string) bool {
	if r.FailedAt != nil {
		return false
	}
	if r.RunAt == nil || r.RunAt.After(now) {
		return false
	}
	if r.LockedAt != nil && r.LockedAt.After(now.Add(-maxRuntime)) {
		return false
	}
	if queue != "" && r.Queue != queue {
		return false
	}
	return true
}

// ScheduleSpec is the input to Adapter.Schedule.
type ScheduleSpec struct {
	Handler  string
	Args     json.RawMessage
	Queue    string
	Priority int
	RunAt    time.Time
}

// FindOptions is the input to Adapter.Find.
type FindOptions struct {
	ProcessName string
	MaxRuntime  time.Duration
	Queue       string // empty matches any queue
}

// ListOptions is the input to Adapter.ListJobs. Cursor is opaque to callers
// and is echoed back in ListResult.NextCursor; an empty Cursor starts from
// the newest record.
type ListOptions struct {
	Queue  string // empty matches any queue
	Limit  int
	Cursor string
}

// ListResult is the output of Adapter.ListJobs: one page of records in
// (created_at, id) keyset order, newest first, plus a cursor for the next
// page. NextCursor is empty when there is no further page.
type ListResult struct {
	Records    []*JobRecord
	NextCursor string
}

// SetOpts carries the overrides available through the fluent Set(...) builder.
// Wait and WaitUntil are mutually exclusive; WaitUntil wins if both are set.
type SetOpts struct {
	Wait      *time.Duration
	WaitUntil *time.Time
	Queue     *string
	Priority  *int
}

// ResolveRunAt computes RunAt per the set/waitUntil precedence rule.
func (o SetOpts) ResolveRunAt(now time.Time) time.Time {
	if o.WaitUntil != nil {
		return *o.WaitUntil
	}
	if o.Wait != nil {
		return now.Add(*o.Wait)
	}
	return now
}
