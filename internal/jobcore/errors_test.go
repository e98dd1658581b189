package jobcore_test

import (
	"errors"
	"testing"

	"github.com/outpostlabs/jobengine/internal/jobcore"
	pkgerrors "github.com/pkg/errors"
)

func TestFormatError_PlainError(t *testing.T) {
	err := errors.New("boom")
	got := jobcore.FormatError(err)
	if got != "boom" {
		t.Fatalf("FormatError = %q, want %q", got, "boom")
	}
}

func TestFormatError_StackTracer(t *testing.T) {
	err := pkgerrors.New("boom")
	got := jobcore.FormatError(err)
	if got == "boom" {
		t.Fatal("expected stack trace to be appended, got bare message")
	}
}

func TestFormatError_Nil(t *testing.T) {
	if got := jobcore.FormatError(nil); got != "" {
		t.Fatalf("FormatError(nil) = %q, want empty", got)
	}
}

func TestWrapPerformError_DoesNotDoubleWrap(t *testing.T) {
	inner := jobcore.WrapPerformError(errors.New("boom"))
	outer := jobcore.WrapPerformError(inner)
	if outer != inner {
		t.Fatalf("expected WrapPerformError to be idempotent on an already-wrapped error")
	}
}

func TestSchedulingError_Unwrap(t *testing.T) {
	cause := errors.New("db down")
	err := error(&jobcore.SchedulingError{Cause: cause})
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see through SchedulingError")
	}
}
