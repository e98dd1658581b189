package jobcore

import "context"

// Adapter is the storage gateway every backend (Postgres, embedded bbolt,
// or a test fake) must implement. Schedule, Find, Success, Failure and
// Clear are the only primitives the rest of the engine needs; everything
// else (backoff, stale-lock reclaim, retry ceilings) is decided by the
// caller and handed to Adapter as plain arguments.
type Adapter interface {
	// Schedule persists a new JobRecord and returns it with its ID and
	// timestamps populated.
	Schedule(ctx context.Context, spec ScheduleSpec) (*JobRecord, error)

	// Find claims one eligible record for processName and returns it, or
	// returns (nil, nil) if nothing is currently claimable. Implementations
	// must guarantee that no two concurrent Find calls can claim the same
	// record.
	Find(ctx context.Context, opts FindOptions) (*JobRecord, error)

	// Success deletes record's durable state. Called after Perform returns
	// nil.
	Success(ctx context.Context, record *JobRecord) error

	// Failure records cause against record and reschedules RunAt via the
	// backoff curve, or marks the record terminally failed if Attempts has
	// reached the caller-supplied ceiling. It leaves Attempts unchanged:
	// Find already incremented it when the record was claimed.
	// terminal reports whether this call pushed the record into its
	// terminal failure state.
	Failure(ctx context.Context, record *JobRecord, cause error, maxAttempts int) (terminal bool, err error)

	// Clear deletes all durable state. Used by the `jobs clear` CLI
	// subcommand and by tests.
	Clear(ctx context.Context) error

	// ListJobs returns one page of records in (created_at, id) keyset
	// order, newest first. Used by the admin API's job listing endpoint.
	ListJobs(ctx context.Context, opts ListOptions) (*ListResult, error)

	// GetJob returns the record with the given ID, or ErrJobNotFound.
	GetJob(ctx context.Context, id string) (*JobRecord, error)

	// Retry clears a terminally failed record's FailedAt/LastError and
	// resets RunAt to now, making it claimable again. It returns
	// ErrJobNotFound if the record does not exist.
	Retry(ctx context.Context, id string) (*JobRecord, error)
}

// Job is implemented by every registered handler. Perform receives the
// raw argument payload exactly as it was scheduled; handlers are
// responsible for unmarshaling it into their own argument type.
type Job interface {
	Perform(ctx context.Context, args []byte) error
}
