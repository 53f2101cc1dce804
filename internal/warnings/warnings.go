// Package warnings collects the non-fatal diagnostic class spec section 7
// defines: Ret-mismatch stack walks, and similar recoverable anomalies
// that must never abort the run but should reach an operator's stderr.
package warnings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tracecore/tracecore/internal/model"
)

// Warning is one collected diagnostic.
type Warning struct {
	ThreadID model.ThreadID
	TSC      uint64
	Message  string
}

// Collector accumulates warnings and flushes them to a logger at Warn
// level. Safe for concurrent use by multiple per-thread consumers.
type Collector struct {
	mu       sync.Mutex
	logger   *slog.Logger
	warnings []Warning
}

// New returns a Collector that flushes through logger.
func New(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	return &Collector{logger: logger}
}

// Add records a warning and immediately logs it at Warn level; the
// in-memory copy is retained for tests and end-of-run summaries.
func (c *Collector) Add(threadID model.ThreadID, tsc uint64, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := Warning{ThreadID: threadID, TSC: tsc, Message: message}
	c.warnings = append(c.warnings, w)

	c.logger.WarnContext(context.Background(), message,
		slog.Int64("thread_id", int64(threadID)),
		slog.Uint64("tsc", tsc))
}

// RetMismatch records the warning emitted for each frame a Ret-mismatch
// walk pops before finding the matching frame.
func (c *Collector) RetMismatch(threadID model.ThreadID, tsc uint64, expected, popped model.FunctionID) {
	c.Add(threadID, tsc, fmt.Sprintf("ret mismatch: expected function %d, popped frame for function %d", expected, popped))
}

// All returns every warning collected so far, in insertion order.
func (c *Collector) All() []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Warning, len(c.warnings))
	copy(out, c.warnings)

	return out
}

// Len reports how many warnings have been collected.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.warnings)
}
