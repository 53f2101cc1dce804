// Package manager owns the shared, process-wide collaborators (reference
// map, allocation cache, tag index, writer sink) and the registry of
// per-thread consumer goroutines that run against them. It is the
// producer/consumer wiring described by the teacher's diff pipeline
// (pkg/framework/diff_pipeline.go's runDiffProducer/runDiffConsumer
// pattern), adapted from diff batches to record batches: one goroutine
// per observed thread id, fed by a buffered channel, with
// runtime.LockOSThread applied once inside each goroutine (via
// Consumer.StartThread) in place of an OS worker-thread loop.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tracecore/tracecore/internal/alloccache"
	"github.com/tracecore/tracecore/internal/consumer"
	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/record"
	"github.com/tracecore/tracecore/internal/refmap"
	"github.com/tracecore/tracecore/internal/tagstate"
	"github.com/tracecore/tracecore/internal/writer"
	"github.com/tracecore/tracecore/pkg/observability"
)

// delivery is one unit sent down a worker's channel: either a batch of
// records to apply, or (stop == true) the signal to close out the
// thread, carrying the wall-clock/tsc anchors for the final Thread row.
type delivery struct {
	records []record.Record

	stop    bool
	endTime int64
	endTSC  uint64
}

// worker is one observed thread's goroutine state.
type worker struct {
	requests chan delivery
	done     chan struct{}
	err      error
}

// Config bundles the process-wide knobs the manager needs beyond its
// shared collaborators.
type Config struct {
	Sink                     writer.Sink
	Index                    *tagstate.Index
	Logger                   *slog.Logger
	Metrics                  *observability.IngestMetrics
	AllowFunction            func(model.FunctionID) bool
	IgnoreAccess             func(model.FunctionID, int32) bool
	ProcessCallsByDefault    bool
	ProcessAccessesByDefault bool
	// BatchChanSize sizes each worker's delivery channel; default 4 when
	// zero, enough to keep a producer from blocking on a slow consumer
	// for one batch-size's worth of lookahead without unbounded growth.
	BatchChanSize int
}

// Manager owns the shared reference map and allocation cache (C5/C6),
// the id allocator, and the registry of running per-thread workers
// (C7's lifecycle wrapper). Dispatch/DispatchBatch/StopAll are safe for
// concurrent use; the registry mutex is the first of spec section 5's
// three shared-resource locks (the other two, the reference map and the
// Writer sink, guard themselves internally).
type Manager struct {
	mu       sync.Mutex
	workers  map[model.ThreadID]*worker
	firstErr error

	cfg    Config
	ids    *model.IDAllocator
	refs   *refmap.Map
	allocs *alloccache.Cache
	logger *slog.Logger
}

// New constructs a Manager. The returned value owns the shared reference
// map and allocation cache for the whole ingest run.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ids := model.NewIDAllocator()

	return &Manager{
		workers: make(map[model.ThreadID]*worker),
		cfg:     cfg,
		ids:     ids,
		refs:    refmap.New(ids),
		allocs:  alloccache.New(),
		logger:  logger,
	}
}

// DispatchBatch routes a whole batch of same-thread records to
// threadID's worker, starting the worker's goroutine (and its Consumer)
// on first sight of that thread id. startTime/startTSC anchor the
// thread's lifetime and are only consulted the first time a thread id
// is seen.
func (m *Manager) DispatchBatch(ctx context.Context, threadID model.ThreadID, recs []record.Record, startTime int64, startTSC uint64) error {
	if len(recs) == 0 {
		return nil
	}

	w := m.workerFor(ctx, threadID, startTime, startTSC)

	select {
	case w.requests <- delivery{records: recs}:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.cfg.Metrics.BatchDelivered(ctx, threadKey(threadID))

	return nil
}

// Dispatch routes a single record; a thin convenience wrapper over
// DispatchBatch for callers that do not batch themselves.
func (m *Manager) Dispatch(ctx context.Context, threadID model.ThreadID, rec record.Record, startTime int64, startTSC uint64) error {
	return m.DispatchBatch(ctx, threadID, []record.Record{rec}, startTime, startTSC)
}

// workerFor returns threadID's worker, spawning its goroutine on first
// use.
func (m *Manager) workerFor(ctx context.Context, threadID model.ThreadID, startTime int64, startTSC uint64) *worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.workers[threadID]; ok {
		return w
	}

	chanSize := m.cfg.BatchChanSize
	if chanSize <= 0 {
		chanSize = 4
	}

	w := &worker{
		requests: make(chan delivery, chanSize),
		done:     make(chan struct{}),
	}
	m.workers[threadID] = w

	c := consumer.New(threadID, consumer.Deps{
		Sink:                     m.cfg.Sink,
		Refs:                     m.refs,
		Allocs:                   m.allocs,
		IDs:                      m.ids,
		Index:                    m.cfg.Index,
		Logger:                   m.logger,
		Metrics:                  m.cfg.Metrics,
		AllowFunction:            m.cfg.AllowFunction,
		IgnoreAccess:             m.cfg.IgnoreAccess,
		ProcessCallsByDefault:    m.cfg.ProcessCallsByDefault,
		ProcessAccessesByDefault: m.cfg.ProcessAccessesByDefault,
	})

	go m.run(ctx, threadID, c, w, startTime, startTSC)

	return w
}

// run is the per-thread worker goroutine: pin the OS thread, anchor
// thread start, apply every delivered batch in order, and on the stop
// delivery write the thread's final row and exit.
func (m *Manager) run(ctx context.Context, threadID model.ThreadID, c *consumer.Consumer, w *worker, startTime int64, startTSC uint64) {
	defer close(w.done)

	c.StartThread(ctx, startTime, startTSC)

	key := threadKey(threadID)

	for d := range w.requests {
		if d.stop {
			if err := c.StopThread(ctx, d.endTime, d.endTSC); err != nil {
				m.recordErr(err)
			}

			return
		}

		for _, rec := range d.records {
			if err := c.Consume(ctx, rec); err != nil {
				m.recordErr(err)

				return
			}
		}

		m.cfg.Metrics.BatchDrained(ctx, key)
	}
}

func (m *Manager) recordErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.firstErr == nil {
		m.firstErr = err
	}
}

// StopAll sends every worker its stop delivery, waits for all of them to
// exit, and returns the first error (if any) any worker encountered.
// endTime/endTSC anchor every still-running thread's final Thread row
// identically, since the instrumentation front-end stops all threads
// together at process exit.
func (m *Manager) StopAll(ctx context.Context, endTime int64, endTSC uint64) error {
	m.mu.Lock()
	workers := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		select {
		case w.requests <- delivery{stop: true, endTime: endTime, endTSC: endTSC}:
		case <-ctx.Done():
		}

		close(w.requests)
	}

	for _, w := range workers {
		<-w.done
	}

	m.mu.Lock()
	err := m.firstErr
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("manager: worker failed: %w", err)
	}

	return nil
}

func threadKey(threadID model.ThreadID) string {
	return strconv.FormatInt(int64(threadID), 10)
}
