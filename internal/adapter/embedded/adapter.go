// Package embedded is the secondary Adapter implementation: a single bbolt
// file, usable for tests, local development, and single-binary
// deployments that don't want a Postgres dependency. It is grounded on the
// pack's bravo1goingdark/mailgrid job-store bucket pattern, including its
// github.com/pkg/errors wrapping idiom, generalized from that source's
// single lock-per-job model to this engine's optimistic-claim algorithm.
package embedded

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/outpostlabs/jobengine/internal/jobcore"
)

const (
	jobsBucket = "jobs"
	metaBucket = "meta"
	nextIDKey  = "next_id"
)

// Adapter is the bbolt-backed implementation of jobcore.Adapter.
type Adapter struct {
	db              *bbolt.DB
	maxClaimRetries int
}

var _ jobcore.Adapter = (*Adapter)(nil)

// storedRecord is the on-disk encoding of a jobcore.JobRecord. Version is
// the CAS token: every mutation increments it, and Find's claim step fails
// if the version it read has since changed.
type storedRecord struct {
	ID        uint64          `json:"id"`
	Handler   string          `json:"handler"`
	Args      json.RawMessage `json:"args"`
	Queue     string          `json:"queue"`
	Priority  int             `json:"priority"`
	RunAt     *time.Time      `json:"run_at,omitempty"`
	LockedAt  *time.Time      `json:"locked_at,omitempty"`
	LockedBy  *string         `json:"locked_by,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"last_error,omitempty"`
	FailedAt  *time.Time      `json:"failed_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Version   int64           `json:"version"`
}

// Open opens (creating if necessary) a bbolt file at path and initializes
// its buckets.
func Open(path string, maxClaimRetries int) (*Adapter, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bbolt db at %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(jobsBucket)); err != nil {
			return errors.Wrapf(err, "create %s bucket", jobsBucket)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucket)); err != nil {
			return errors.Wrapf(err, "create %s bucket", metaBucket)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize bbolt buckets")
	}

	if maxClaimRetries <= 0 {
		maxClaimRetries = 3
	}
	return &Adapter{db: db, maxClaimRetries: maxClaimRetries}, nil
}

// Close closes the underlying bbolt file.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// idKey encodes id as a fixed-width big-endian key so bucket iteration
// order matches numeric ID order.
func idKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func (a *Adapter) nextID(tx *bbolt.Tx) (uint64, error) {
	meta := tx.Bucket([]byte(metaBucket))
	raw := meta.Get([]byte(nextIDKey))
	var next uint64 = 1
	if raw != nil {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := meta.Put([]byte(nextIDKey), buf); err != nil {
		return 0, errors.Wrap(err, "advance next_id counter")
	}
	return next, nil
}

// Schedule inserts a new record under a freshly allocated ID.
func (a *Adapter) Schedule(_ context.Context, spec jobcore.ScheduleSpec) (*jobcore.JobRecord, error) {
	queue := spec.Queue
	if queue == "" {
		queue = "default"
	}
	priority := spec.Priority
	if priority == 0 {
		priority = 50
	}
	runAt := spec.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}

	var stored storedRecord
	err := a.db.Update(func(tx *bbolt.Tx) error {
		id, err := a.nextID(tx)
		if err != nil {
			return err
		}
		now := time.Now()
		stored = storedRecord{
			ID:        id,
			Handler:   spec.Handler,
			Args:      spec.Args,
			Queue:     queue,
			Priority:  priority,
			RunAt:     &runAt,
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		}
		return putRecord(tx, &stored)
	})
	if err != nil {
		return nil, errors.Wrap(err, "schedule job")
	}
	return stored.toRecord(), nil
}

func putRecord(tx *bbolt.Tx, r *storedRecord) error {
	b := tx.Bucket([]byte(jobsBucket))
	encoded, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal job record")
	}
	return errors.Wrap(b.Put(idKey(r.ID), encoded), "put job record")
}

func getRecord(tx *bbolt.Tx, id uint64) (*storedRecord, error) {
	b := tx.Bucket([]byte(jobsBucket))
	val := b.Get(idKey(id))
	if val == nil {
		return nil, jobcore.ErrJobNotFound
	}
	var r storedRecord
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, errors.Wrap(err, "unmarshal job record")
	}
	return &r, nil
}

func (r *storedRecord) claimable(now time.Time, maxRuntime time.Duration, queue string) bool {
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

// Find scans every record in (priority, run_at, id) order and claims the
// first eligible one via the same optimistic-read-then-CAS shape as the
// Postgres adapter, using Version as the CAS token in place of a
// server-assigned updated_at column.
func (a *Adapter) Find(_ context.Context, opts jobcore.FindOptions) (*jobcore.JobRecord, error) {
	for attempt := 0; attempt < a.maxClaimRetries; attempt++ {
		candidate, err := a.selectCandidate(opts)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			return nil, nil
		}

		claimed, err := a.claimCandidate(candidate, opts)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed.toRecord(), nil
		}
	}
	return nil, nil
}

func (a *Adapter) selectCandidate(opts jobcore.FindOptions) (*storedRecord, error) {
	now := time.Now()
	var best *storedRecord

	err := a.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r storedRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Wrap(err, "unmarshal job record during scan")
			}
			if !r.claimable(now, opts.MaxRuntime, opts.Queue) {
				continue
			}
			if best == nil || lessEligible(&r, best) {
				cp := r
				best = &cp
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return best, nil
}

// lessEligible reports whether a should be claimed before b, per the
// (Priority ASC, RunAt ASC, ID ASC) ordering.
func lessEligible(a, b *storedRecord) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.RunAt.Equal(*b.RunAt) {
		return a.RunAt.Before(*b.RunAt)
	}
	return a.ID < b.ID
}

func (a *Adapter) claimCandidate(candidate *storedRecord, opts jobcore.FindOptions) (*storedRecord, error) {
	var claimed *storedRecord
	err := a.db.Update(func(tx *bbolt.Tx) error {
		current, err := getRecord(tx, candidate.ID)
		if errors.Is(err, jobcore.ErrJobNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if current.Version != candidate.Version {
			return nil // lost the race; another worker already claimed or rescheduled it
		}
		if !current.claimable(time.Now(), opts.MaxRuntime, opts.Queue) {
			return nil
		}

		processName := opts.ProcessName
		now := time.Now()
		current.LockedAt = &now
		current.LockedBy = &processName
		current.Attempts++
		current.UpdatedAt = now
		current.Version++

		if err := putRecord(tx, current); err != nil {
			return err
		}
		claimed = current
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "claim job record")
	}
	return claimed, nil
}

// Success deletes record's stored state.
func (a *Adapter) Success(_ context.Context, record *jobcore.JobRecord) error {
	id, err := parseID(record.ID)
	if err != nil {
		return err
	}
	err = a.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		return errors.Wrap(b.Delete(idKey(id)), "delete job record")
	})
	return errors.Wrap(err, "mark job successful")
}

// Failure reschedules record with backoff, or marks it terminally failed
// once record.Attempts reaches maxAttempts.
func (a *Adapter) Failure(_ context.Context, record *jobcore.JobRecord, cause error, maxAttempts int) (bool, error) {
	id, err := parseID(record.ID)
	if err != nil {
		return false, err
	}
	message := jobcore.FormatError(cause)

	var terminal bool
	err = a.db.Update(func(tx *bbolt.Tx) error {
		current, err := getRecord(tx, id)
		if err != nil {
			return err
		}

		now := time.Now()
		current.LockedAt = nil
		current.LockedBy = nil
		current.LastError = &message
		current.UpdatedAt = now
		current.Version++

		if current.Attempts < maxAttempts {
			runAt := jobcore.NextRunAt(now, current.Attempts)
			current.RunAt = &runAt
		} else {
			current.FailedAt = &now
			current.RunAt = nil
			terminal = true
		}
		return putRecord(tx, current)
	})
	if err != nil {
		return false, errors.Wrap(err, "record job failure")
	}
	return terminal, nil
}

// Clear deletes every stored record.
func (a *Adapter) Clear(_ context.Context) error {
	err := a.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(jobsBucket)); err != nil {
			return errors.Wrap(err, "delete jobs bucket")
		}
		_, err := tx.CreateBucket([]byte(jobsBucket))
		return errors.Wrap(err, "recreate jobs bucket")
	})
	return errors.Wrap(err, "clear jobs")
}

// ListJobs returns one page of records newest-first, keyset-paginated on
// (created_at, id) to mirror the Postgres adapter's pagination contract.
// Cursor encodes the last-seen (created_at, id) pair as base64 JSON.
func (a *Adapter) ListJobs(_ context.Context, opts jobcore.ListOptions) (*jobcore.ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var cursor *listCursor
	if opts.Cursor != "" {
		c, err := decodeCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}
		cursor = &c
	}

	var all []*storedRecord
	err := a.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r storedRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Wrap(err, "unmarshal job record during scan")
			}
			if opts.Queue != "" && r.Queue != opts.Queue {
				continue
			}
			all = append(all, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	if cursor != nil {
		start := 0
		for start < len(all) {
			r := all[start]
			if r.CreatedAt.Before(cursor.CreatedAt) || (r.CreatedAt.Equal(cursor.CreatedAt) && r.ID < cursor.ID) {
				break
			}
			start++
		}
		all = all[start:]
	}

	result := &jobcore.ListResult{}
	for i, r := range all {
		if i >= limit {
			last := all[limit-1]
			result.NextCursor = encodeCursor(listCursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		result.Records = append(result.Records, r.toRecord())
	}
	return result, nil
}

// listCursor is the decoded form of a ListOptions.Cursor.
type listCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        uint64    `json:"id"`
}

func encodeCursor(c listCursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (listCursor, error) {
	var c listCursor
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, errors.Wrap(err, "decode cursor")
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, errors.Wrap(err, "decode cursor")
	}
	return c, nil
}

// GetJob returns the record with the given ID.
func (a *Adapter) GetJob(_ context.Context, idStr string) (*jobcore.JobRecord, error) {
	id, err := parseID(idStr)
	if err != nil {
		return nil, err
	}
	var stored *storedRecord
	err = a.db.View(func(tx *bbolt.Tx) error {
		r, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		stored = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored.toRecord(), nil
}

// Retry clears a terminally failed record's FailedAt/LastError and resets
// RunAt to now, making it claimable again on the next poll.
func (a *Adapter) Retry(_ context.Context, idStr string) (*jobcore.JobRecord, error) {
	id, err := parseID(idStr)
	if err != nil {
		return nil, err
	}
	var stored *storedRecord
	err = a.db.Update(func(tx *bbolt.Tx) error {
		current, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		now := time.Now()
		current.FailedAt = nil
		current.LastError = nil
		current.RunAt = &now
		current.UpdatedAt = now
		current.Version++
		if err := putRecord(tx, current); err != nil {
			return err
		}
		stored = current
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "retry job")
	}
	return stored.toRecord(), nil
}

func parseID(id string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(id, "%d", &n)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid job id %q", id)
	}
	return n, nil
}

func (r *storedRecord) toRecord() *jobcore.JobRecord {
	return &jobcore.JobRecord{
		ID:        fmt.Sprintf("%d", r.ID),
		Handler:   r.Handler,
		Args:      r.Args,
		Queue:     r.Queue,
		Priority:  r.Priority,
		RunAt:     r.RunAt,
		LockedAt:  r.LockedAt,
		LockedBy:  r.LockedBy,
		Attempts:  r.Attempts,
		LastError: r.LastError,
		FailedAt:  r.FailedAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
