// Package consumer implements the per-thread record consumer (C7): the
// call stack, dispatch gating, and the glue between the reference map,
// allocation cache, tag state machine, and conflict detector that every
// record handler touches.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracecore/tracecore/internal/alloccache"
	"github.com/tracecore/tracecore/internal/conflict"
	"github.com/tracecore/tracecore/internal/corruption"
	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/record"
	"github.com/tracecore/tracecore/internal/refmap"
	"github.com/tracecore/tracecore/internal/tagstate"
	"github.com/tracecore/tracecore/internal/warnings"
	"github.com/tracecore/tracecore/internal/writer"
	"github.com/tracecore/tracecore/pkg/observability"
)

// frame is one call-stack activation: the pushed function's bounds, its
// pre-allocated Call/Segment ids, and the tag-instances open at push time.
type frame struct {
	callID     model.CallID
	segmentID  model.SegmentID
	functionID model.FunctionID
	rbp, rsp   uint64
	startTSC   uint64

	parentInstruction    model.InstructionID
	hasParentInstruction bool

	tagInstancesAtEntry []model.TagInstanceID

	// suppressed is true when the filter config excludes this function's
	// image/file/prototype from materialization; the frame is still
	// pushed and popped for correct Ret pairing, but no Segment, Call,
	// or Instruction row is ever written for it.
	suppressed bool
}

// pendingAlloc is an AllocEnter queued for application once its pairing
// resolves in the shared alloccache.Cache.
type pendingAlloc struct {
	enterTSC uint64
	fp       record.Fingerprint
}

// Consumer owns one thread's call stack, tag machine, and conflict
// detector. It is not safe for concurrent use; callers feed it records
// from a single thread in stream order.
type Consumer struct {
	threadID model.ThreadID

	sink    writer.Sink
	refs    *refmap.Map
	allocs  *alloccache.Cache
	ids     *model.IDAllocator
	idx     *tagstate.Index
	machine *tagstate.Machine
	conf    *conflict.Detector
	warn    *warnings.Collector
	logger  *slog.Logger
	metrics *observability.IngestMetrics

	allowFunction func(model.FunctionID) bool
	ignoreAccess  func(model.FunctionID, int32) bool

	stack   []frame
	pending []pendingAlloc

	lastCallTSC      uint64
	lastCallLocation model.SourceLocationID
	hasLastCall      bool

	gates tagstate.Gates

	startTime int64
	startTSC  uint64
}

// Deps bundles the shared, process-wide collaborators every per-thread
// Consumer is constructed against (C5/C6/C1/C8's shared Index, plus C9's
// per-thread detector is owned here).
type Deps struct {
	Sink    writer.Sink
	Refs    *refmap.Map
	Allocs  *alloccache.Cache
	IDs     *model.IDAllocator
	Index   *tagstate.Index
	Logger  *slog.Logger
	Metrics *observability.IngestMetrics

	// AllowFunction gates whether a function's Calls/Instructions are
	// materialized at all, independent of the tag-driven gate (the
	// symbol-resolution-time filter). Nil means allow everything.
	AllowFunction func(model.FunctionID) bool

	// IgnoreAccess gates MemRef handling at specific call sites within a
	// function. Nil means never suppress.
	IgnoreAccess func(model.FunctionID, int32) bool

	ProcessCallsByDefault    bool
	ProcessAccessesByDefault bool
}

// New constructs a Consumer for one observed thread.
func New(threadID model.ThreadID, deps Deps) *Consumer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allow := deps.AllowFunction
	if allow == nil {
		allow = func(model.FunctionID) bool { return true }
	}

	ignore := deps.IgnoreAccess
	if ignore == nil {
		ignore = func(model.FunctionID, int32) bool { return false }
	}

	c := &Consumer{
		threadID:      threadID,
		sink:          deps.Sink,
		refs:          deps.Refs,
		allocs:        deps.Allocs,
		ids:           deps.IDs,
		idx:           deps.Index,
		conf:          conflict.New(),
		warn:          warnings.New(logger),
		logger:        logger,
		metrics:       deps.Metrics,
		allowFunction: allow,
		ignoreAccess:  ignore,
		machine:       tagstate.NewMachine(deps.Index, deps.IDs, threadID, deps.ProcessCallsByDefault, deps.ProcessAccessesByDefault),
	}

	c.gates = c.machine.Gates()

	return c
}

// Consume dispatches one record in stream order, per spec section 4.1:
// pending allocations whose pairing is already known are drained before
// any non-allocation record, Tag records are always processed, and
// Call/CallEnter/Ret/MemRef are gated on the machine's effective flags.
func (c *Consumer) Consume(ctx context.Context, rec record.Record) error {
	start := time.Now()
	defer func() { c.metrics.RecordDispatch(ctx, rec.Kind.String(), time.Since(start)) }()

	if rec.Kind != record.KindAllocEnter && rec.Kind != record.KindAllocExit {
		if err := c.drainAllocs(ctx); err != nil {
			return err
		}
	}

	switch rec.Kind {
	case record.KindTag:
		return c.handleTag(ctx, rec)
	case record.KindCall:
		if c.gates.ProcessCalls {
			c.handleCall(rec)
		}

		return nil
	case record.KindCallEnter:
		if c.gates.ProcessCalls {
			return c.handleCallEnter(ctx, rec)
		}

		return nil
	case record.KindRet:
		if c.gates.ProcessCalls {
			return c.handleRet(ctx, rec)
		}

		return nil
	case record.KindMemRef:
		if c.gates.ProcessAccesses {
			return c.handleMemRef(ctx, rec)
		}

		return nil
	case record.KindAllocEnter:
		return c.handleAllocEnter(rec)
	case record.KindAllocExit:
		return c.handleAllocExit(rec)
	case record.KindFree:
		return c.applyFree(ctx, rec.TSC, rec.ReturnedRef)
	default:
		return c.fatal("record", rec.TSC, fmt.Errorf("unhandled record kind %s", rec.Kind))
	}
}

// allocRefID is the callback refmap.Resolve and the allocation handlers
// use to mint a fresh Reference id before the row is ever written.
func (c *Consumer) allocRefID() model.ReferenceID {
	return c.ids.NextReferenceID()
}

// frames returns the call stack as refmap.Frame values, top-of-stack
// first, the view refmap.Resolve needs.
func (c *Consumer) frames() []refmap.Frame {
	out := make([]refmap.Frame, len(c.stack))
	for i, f := range c.stack {
		out[i] = refmap.Frame{RSP: f.rsp, RBP: f.rbp, FunctionID: f.functionID}
	}

	return out
}

func (c *Consumer) top() (*frame, bool) {
	if len(c.stack) == 0 {
		return nil, false
	}

	return &c.stack[0], true
}

func (c *Consumer) fatal(discriminator string, tsc uint64, err error) error {
	wrapped := corruption.New(c.threadID, discriminator, tsc, err)
	corruption.Fatal(c.logger, wrapped)

	return wrapped
}
