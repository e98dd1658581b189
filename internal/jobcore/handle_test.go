package jobcore_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/outpostlabs/jobengine/internal/jobcore"
)

type fakeAdapter struct {
	mu        sync.Mutex
	scheduled []jobcore.ScheduleSpec
	err       error
}

func (f *fakeAdapter) Schedule(_ context.Context, spec jobcore.ScheduleSpec) (*jobcore.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.scheduled = append(f.scheduled, spec)
	return &jobcore.JobRecord{
		ID:       "1",
		Handler:  spec.Handler,
		Args:     spec.Args,
		Queue:    spec.Queue,
		Priority: spec.Priority,
		RunAt:    &spec.RunAt,
	}, nil
}

func (f *fakeAdapter) Find(context.Context, jobcore.FindOptions) (*jobcore.JobRecord, error) {
	return nil, nil
}
func (f *fakeAdapter) Success(context.Context, *jobcore.JobRecord) error { return nil }
func (f *fakeAdapter) Failure(context.Context, *jobcore.JobRecord, error, int) (bool, error) {
	return false, nil
}
func (f *fakeAdapter) Clear(context.Context) error { return nil }
func (f *fakeAdapter) ListJobs(context.Context, jobcore.ListOptions) (*jobcore.ListResult, error) {
	return &jobcore.ListResult{}, nil
}
func (f *fakeAdapter) GetJob(context.Context, string) (*jobcore.JobRecord, error) {
	return nil, jobcore.ErrJobNotFound
}
func (f *fakeAdapter) Retry(context.Context, string) (*jobcore.JobRecord, error) {
	return nil, jobcore.ErrJobNotFound
}

type recordingJob struct {
	args []byte
	err  error
}

func (j *recordingJob) Perform(_ context.Context, args []byte) error {
	j.args = args
	return j.err
}

func TestHandle_PerformLater_UsesClassDefaults(t *testing.T) {
	adapter := &fakeAdapter{}
	jobcore.ConfigureForTest(adapter)
	t.Cleanup(jobcore.Reset)

	h := jobcore.NewHandle("WelcomeJob", "default", 50, 24, func() jobcore.Job { return &recordingJob{} })

	record, err := h.PerformLater(context.Background(), json.RawMessage(`"a@x.com"`))
	if err != nil {
		t.Fatalf("PerformLater: %v", err)
	}
	if record.Queue != "default" || record.Priority != 50 {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestHandle_Set_OverridesQueueAndPriority(t *testing.T) {
	adapter := &fakeAdapter{}
	jobcore.ConfigureForTest(adapter)
	t.Cleanup(jobcore.Reset)

	h := jobcore.NewHandle("WelcomeJob", "default", 50, 24, func() jobcore.Job { return &recordingJob{} })
	queue := "priority-mail"
	priority := 10
	record, err := h.Set(jobcore.SetOpts{Queue: &queue, Priority: &priority}).PerformLater(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("PerformLater: %v", err)
	}
	if record.Queue != "priority-mail" || record.Priority != 10 {
		t.Fatalf("overrides not applied: %+v", record)
	}
}

func TestHandle_Set_DoesNotMutateOriginal(t *testing.T) {
	adapter := &fakeAdapter{}
	jobcore.ConfigureForTest(adapter)
	t.Cleanup(jobcore.Reset)

	h := jobcore.NewHandle("WelcomeJob", "default", 50, 24, func() jobcore.Job { return &recordingJob{} })
	queue := "other"
	_ = h.Set(jobcore.SetOpts{Queue: &queue})

	record, err := h.PerformLater(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("PerformLater: %v", err)
	}
	if record.Queue != "default" {
		t.Fatalf("Set mutated the original handle, queue = %q", record.Queue)
	}
}

func TestHandle_WaitUntil_WinsOverWait(t *testing.T) {
	adapter := &fakeAdapter{}
	jobcore.ConfigureForTest(adapter)
	t.Cleanup(jobcore.Reset)

	h := jobcore.NewHandle("WelcomeJob", "default", 50, 24, func() jobcore.Job { return &recordingJob{} })
	wait := time.Hour
	waitUntil := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	record, err := h.Set(jobcore.SetOpts{Wait: &wait, WaitUntil: &waitUntil}).PerformLater(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("PerformLater: %v", err)
	}
	if !record.RunAt.Equal(waitUntil) {
		t.Fatalf("RunAt = %v, want %v (WaitUntil should win)", record.RunAt, waitUntil)
	}
}

func TestHandle_PerformLater_RejectsInvalidJSON(t *testing.T) {
	adapter := &fakeAdapter{}
	jobcore.ConfigureForTest(adapter)
	t.Cleanup(jobcore.Reset)

	h := jobcore.NewHandle("WelcomeJob", "default", 50, 24, func() jobcore.Job { return &recordingJob{} })
	_, err := h.PerformLater(context.Background(), json.RawMessage(`not json`))
	if err == nil {
		t.Fatal("expected an error for invalid JSON args")
	}
}

func TestHandle_PerformLater_NoAdapterConfigured(t *testing.T) {
	jobcore.Reset()
	h := jobcore.NewHandle("WelcomeJob", "default", 50, 24, func() jobcore.Job { return &recordingJob{} })
	_, err := h.PerformLater(context.Background(), json.RawMessage(`{}`))
	if !errors.Is(err, jobcore.ErrAdapterNotConfigured) {
		t.Fatalf("expected ErrAdapterNotConfigured, got %v", err)
	}
}

func TestHandle_PerformNow_RunsInProcess(t *testing.T) {
	job := &recordingJob{}
	h := jobcore.NewHandle("WelcomeJob", "default", 50, 24, func() jobcore.Job { return job })
	err := h.PerformNow(context.Background(), json.RawMessage(`"a@x.com"`))
	if err != nil {
		t.Fatalf("PerformNow: %v", err)
	}
	if string(job.args) != `"a@x.com"` {
		t.Fatalf("job did not receive args, got %q", job.args)
	}
}

func TestHandle_PerformNow_NilConstructor(t *testing.T) {
	h := jobcore.NewHandle("Broken", "default", 50, 24, nil)
	err := h.PerformNow(context.Background(), json.RawMessage(`{}`))
	if !errors.Is(err, jobcore.ErrPerformNotImplemented) {
		t.Fatalf("expected ErrPerformNotImplemented, got %v", err)
	}
}
