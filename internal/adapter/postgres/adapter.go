package postgres

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outpostlabs/jobengine/internal/jobcore"
)

// Adapter is the Postgres-backed implementation of jobcore.Adapter.
type Adapter struct {
	pool            *pgxpool.Pool
	maxClaimRetries int
}

var _ jobcore.Adapter = (*Adapter)(nil)

// New wraps pool. maxClaimRetries bounds the optimistic-claim retry loop in
// Find; 0 falls back to the engine default of 3.
func New(pool *pgxpool.Pool, maxClaimRetries int) *Adapter {
	if maxClaimRetries <= 0 {
		maxClaimRetries = 3
	}
	return &Adapter{pool: pool, maxClaimRetries: maxClaimRetries}
}

// Schedule inserts a new row and returns it with its assigned ID and
// timestamps.
func (a *Adapter) Schedule(ctx context.Context, spec jobcore.ScheduleSpec) (*jobcore.JobRecord, error) {
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

	row := a.pool.QueryRow(ctx, `
		INSERT INTO jobs (handler, handler_payload, queue, priority, run_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, handler, handler_payload, queue, priority, run_at,
		          locked_at, locked_by, attempts, last_error, failed_at,
		          created_at, updated_at`,
		spec.Handler, []byte(spec.Args), queue, priority, runAt,
	)
	return scanJobRecord(row)
}

// Find implements the optimistic-read-then-CAS claim algorithm: read the
// best candidate without taking a lock, then attempt a conditional update
// keyed on the row's updated_at as a version token. A zero-row update means
// another worker won the race; retry up to maxClaimRetries times before
// giving up for this poll.
func (a *Adapter) Find(ctx context.Context, opts jobcore.FindOptions) (*jobcore.JobRecord, error) {
	for attempt := 0; attempt < a.maxClaimRetries; attempt++ {
		candidate, preUpdatedAt, err := a.selectCandidate(ctx, opts)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			return nil, nil
		}

		candidateID, err := strconv.ParseInt(candidate.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse candidate id: %w", err)
		}

		claimed, err := a.claimCandidate(ctx, candidateID, opts, preUpdatedAt)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
		// Another worker won the race for this row; loop and try the next
		// best candidate.
	}
	return nil, nil
}

func (a *Adapter) selectCandidate(ctx context.Context, opts jobcore.FindOptions) (*jobcore.JobRecord, time.Time, error) {
	query := `
		SELECT id, handler, handler_payload, queue, priority, run_at,
		       locked_at, locked_by, attempts, last_error, failed_at,
		       created_at, updated_at
		FROM jobs
		WHERE failed_at IS NULL
		  AND run_at <= NOW()
		  AND (locked_at IS NULL OR locked_at < NOW() - make_interval(secs => $1))
		  AND ($2 = '' OR queue = $2)
		ORDER BY priority ASC, run_at ASC, id ASC
		LIMIT 1`

	row := a.pool.QueryRow(ctx, query, opts.MaxRuntime.Seconds(), opts.Queue)
	record, err := scanJobRecord(row)
	if err != nil {
		if errors.Is(err, jobcore.ErrJobNotFound) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, err
	}
	return record, record.UpdatedAt, nil
}

func (a *Adapter) claimCandidate(ctx context.Context, id int64, opts jobcore.FindOptions, preUpdatedAt time.Time) (*jobcore.JobRecord, error) {
	query := `
		UPDATE jobs
		SET locked_at = NOW(), locked_by = $1, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $2
		  AND updated_at = $3
		  AND failed_at IS NULL
		  AND run_at <= NOW()
		  AND (locked_at IS NULL OR locked_at < NOW() - make_interval(secs => $4))
		RETURNING id, handler, handler_payload, queue, priority, run_at,
		          locked_at, locked_by, attempts, last_error, failed_at,
		          created_at, updated_at`

	row := a.pool.QueryRow(ctx, query, opts.ProcessName, id, preUpdatedAt, opts.MaxRuntime.Seconds())
	record, err := scanJobRecord(row)
	if err != nil {
		if errors.Is(err, jobcore.ErrJobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// Success deletes record's row; a successfully performed job leaves no
// durable trace.
func (a *Adapter) Success(ctx context.Context, record *jobcore.JobRecord) error {
	id, err := strconv.ParseInt(record.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse job id: %w", err)
	}
	if _, err := a.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// Failure reschedules record with backoff, or marks it terminally failed
// if record.Attempts has reached maxAttempts.
func (a *Adapter) Failure(ctx context.Context, record *jobcore.JobRecord, cause error, maxAttempts int) (bool, error) {
	message := jobcore.FormatError(cause)

	id, err := strconv.ParseInt(record.ID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse job id: %w", err)
	}

	if record.Attempts < maxAttempts {
		runAt := jobcore.NextRunAt(time.Now(), record.Attempts)
		if _, err := a.pool.Exec(ctx, `
			UPDATE jobs
			SET run_at = $2, locked_at = NULL, locked_by = NULL, last_error = $3, updated_at = NOW()
			WHERE id = $1`, id, runAt, message); err != nil {
			return false, fmt.Errorf("reschedule job: %w", err)
		}
		return false, nil
	}

	if _, err := a.pool.Exec(ctx, `
		UPDATE jobs
		SET failed_at = NOW(), run_at = NULL, locked_at = NULL, locked_by = NULL, last_error = $2, updated_at = NOW()
		WHERE id = $1`, id, message); err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return true, nil
}

// Clear deletes every row. Used by the `jobs clear` CLI subcommand and by
// integration tests that need a pristine table between runs.
func (a *Adapter) Clear(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM jobs`)
	if err != nil {
		return fmt.Errorf("clear jobs: %w", err)
	}
	return nil
}

// listCursor is the decoded form of a ListOptions.Cursor: the
// (created_at, id) keyset position of the last row on the previous page.
type listCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

func encodeCursor(c listCursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (listCursor, error) {
	var c listCursor
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("decode cursor: %w", err)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("decode cursor: %w", err)
	}
	return c, nil
}

// ListJobs returns one page of records newest-first, keyset-paginated on
// (created_at, id) the way the teacher's job_repo.go paginates webhook jobs.
func (a *Adapter) ListJobs(ctx context.Context, opts jobcore.ListOptions) (*jobcore.ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	args := []any{opts.Queue, limit + 1}
	query := `
		SELECT id, handler, handler_payload, queue, priority, run_at,
		       locked_at, locked_by, attempts, last_error, failed_at,
		       created_at, updated_at
		FROM jobs
		WHERE ($1 = '' OR queue = $1)`

	if opts.Cursor != "" {
		cursor, err := decodeCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}
		query += ` AND (created_at, id) < ($3, $4)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []*jobcore.JobRecord
	for rows.Next() {
		record, err := scanJobRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	result := &jobcore.ListResult{Records: records}
	if len(records) > limit {
		last := records[limit-1]
		result.Records = records[:limit]
		id, err := strconv.ParseInt(last.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse job id: %w", err)
		}
		result.NextCursor = encodeCursor(listCursor{CreatedAt: last.CreatedAt, ID: id})
	}
	return result, nil
}

// GetJob returns the record with the given ID.
func (a *Adapter) GetJob(ctx context.Context, idStr string) (*jobcore.JobRecord, error) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	row := a.pool.QueryRow(ctx, `
		SELECT id, handler, handler_payload, queue, priority, run_at,
		       locked_at, locked_by, attempts, last_error, failed_at,
		       created_at, updated_at
		FROM jobs WHERE id = $1`, id)
	return scanJobRecord(row)
}

// Retry clears a terminally failed record's FailedAt/LastError and resets
// RunAt to now, making it claimable again on the next poll.
func (a *Adapter) Retry(ctx context.Context, idStr string) (*jobcore.JobRecord, error) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	row := a.pool.QueryRow(ctx, `
		UPDATE jobs
		SET failed_at = NULL, last_error = NULL, run_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING id, handler, handler_payload, queue, priority, run_at,
		          locked_at, locked_by, attempts, last_error, failed_at,
		          created_at, updated_at`, id)
	return scanJobRecord(row)
}

// rowScanner is implemented by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRecord(row rowScanner) (*jobcore.JobRecord, error) {
	var (
		rec       jobcore.JobRecord
		id        int64
		payload   []byte
		runAt     *time.Time
		lockedAt  *time.Time
		lockedBy  *string
		lastError *string
		failedAt  *time.Time
	)

	err := row.Scan(
		&id, &rec.Handler, &payload, &rec.Queue, &rec.Priority, &runAt,
		&lockedAt, &lockedBy, &rec.Attempts, &lastError, &failedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobcore.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job record: %w", err)
	}

	rec.ID = strconv.FormatInt(id, 10)
	rec.Args = json.RawMessage(payload)
	rec.RunAt = runAt
	rec.LockedAt = lockedAt
	rec.LockedBy = lockedBy
	rec.LastError = lastError
	rec.FailedAt = failedAt
	return &rec, nil
}
