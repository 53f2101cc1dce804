// Package corruption reports the fatal class of error defined in spec
// section 7: a record that violates a core invariant. The model is
// useful only when complete, so corruption always terminates the process
// after logging enough context to diagnose the failing record.
package corruption

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tracecore/tracecore/internal/model"
)

// Error wraps an underlying invariant-violation error with the thread
// and record context that produced it.
type Error struct {
	ThreadID      model.ThreadID
	Discriminator string
	TSC           uint64
	Err           error
}

func (e *Error) Error() string {
	return fmt.Sprintf("corruption: thread=%d discriminator=%s tsc=%d: %v", e.ThreadID, e.Discriminator, e.TSC, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a corruption Error carrying the failing record's
// discriminator and thread/tsc context.
func New(threadID model.ThreadID, discriminator string, tsc uint64, err error) *Error {
	return &Error{ThreadID: threadID, Discriminator: discriminator, TSC: tsc, Err: err}
}

// exitFunc is overridden in tests so Fatal's termination path is
// exercisable without killing the test binary.
var exitFunc = os.Exit

// SetExitFuncForTest overrides the process-exit hook Fatal calls; pass
// nil to restore the default os.Exit. Test-only.
func SetExitFuncForTest(f func(int)) {
	if f == nil {
		exitFunc = os.Exit

		return
	}

	exitFunc = f
}

// Fatal logs err at Error level with full diagnostic context and
// terminates the process, per the corruption propagation policy: within
// a per-thread consumer, corruption aborts the whole run.
func Fatal(logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.ErrorContext(context.Background(), "fatal corruption detected", slog.String("error", err.Error()))
	exitFunc(1)
}
