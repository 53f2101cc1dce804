package consumer

import (
	"context"
	"strconv"

	"github.com/tracecore/tracecore/internal/alloccache"
	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/record"
)

// handleAllocEnter records the thread's in-flight allocation in the
// shared cache and queues it for application once the pairing AllocExit
// resolves its address.
func (c *Consumer) handleAllocEnter(rec record.Record) error {
	c.allocs.EnterAlloc(rec)
	c.pending = append(c.pending, pendingAlloc{enterTSC: rec.TSC, fp: alloccache.Fingerprint(rec)})

	return nil
}

// handleAllocExit moves the thread's in-flight allocation into the
// shared cache's resolved set; application happens later, at drain time.
func (c *Consumer) handleAllocExit(rec record.Record) error {
	if ok := c.allocs.ExitAlloc(rec); !ok {
		return c.fatal("AllocExit", rec.TSC, errAllocExitWithoutEnter())
	}

	return nil
}

// drainAllocs applies every queued allocation whose pairing is now known,
// per the dispatch rule: drain before handling any non-allocation record.
func (c *Consumer) drainAllocs(ctx context.Context) error {
	for len(c.pending) > 0 {
		p := c.pending[0]

		addr, ok := c.allocs.Take(p.fp, p.enterTSC)
		if !ok {
			break
		}

		c.pending = c.pending[1:]

		if err := c.applyAlloc(ctx, p, addr); err != nil {
			return err
		}
	}

	return nil
}

// applyAlloc applies one resolved allocation per spec section 4.4's
// "on allocation application" rules.
func (c *Consumer) applyAlloc(ctx context.Context, p pendingAlloc, addr uint64) error {
	switch p.fp.Kind {
	case record.AllocMalloc:
		return c.applyMalloc(ctx, p.enterTSC, addr, p.fp.Size)
	case record.AllocCalloc:
		return c.applyMalloc(ctx, p.enterTSC, addr, p.fp.Size*p.fp.Num)
	case record.AllocRealloc:
		if err := c.applyFree(ctx, p.enterTSC, p.fp.OldRef); err != nil {
			return err
		}

		return c.applyMalloc(ctx, p.enterTSC, addr, p.fp.Size)
	case record.AllocFree:
		return c.applyFree(ctx, p.enterTSC, p.fp.OldRef)
	default:
		return c.fatal("AllocEnter", p.enterTSC, errUnknownAllocKind())
	}
}

// applyMalloc creates a Heap Reference with an Alloc-kind Instruction as
// its allocator, synthesized into the top frame's segment at the last
// call location. An allocator call observed with no enclosing traced Call
// (e.g. static initialization before the first instrumented function) has
// no segment to attach the synthesized Instruction to; the Reference is
// still created, just without an allocator.
func (c *Consumer) applyMalloc(ctx context.Context, tsc uint64, addr, size uint64) error {
	instrID, hasInstr, err := c.synthesizeAllocInstruction(ctx, tsc, model.InstructionAlloc)
	if err != nil {
		return err
	}

	ref := &model.Reference{
		ID:           c.allocRefID(),
		Name:         hexAddr(addr),
		Base:         addr,
		Size:         size,
		Kind:         model.ReferenceHeap,
		AllocatorID:  instrID,
		HasAllocator: hasInstr,
	}

	c.refs.Insert(ref)

	if _, err := c.sink.InsertReference(ctx, *ref); err != nil {
		return c.fatal("AllocEnter", tsc, err)
	}

	c.metrics.RecordAllocation(ctx, "malloc")

	return nil
}

// applyFree drops the reference silently if it was never accessed,
// otherwise assigns it a Free-kind deallocator Instruction and re-writes
// the row.
func (c *Consumer) applyFree(ctx context.Context, tsc uint64, addr uint64) error {
	ref, ok := c.refs.Get(addr)
	if !ok || !ref.WasAccessed {
		return nil
	}

	instrID, hasInstr, err := c.synthesizeAllocInstruction(ctx, tsc, model.InstructionFree)
	if err != nil {
		return err
	}

	ref.DeallocatorID, ref.HasDeallocator = instrID, hasInstr

	if _, err := c.sink.InsertReference(ctx, *ref); err != nil {
		return c.fatal("Free", tsc, err)
	}

	c.metrics.RecordAllocation(ctx, "free")

	return nil
}

func (c *Consumer) synthesizeAllocInstruction(ctx context.Context, tsc uint64, kind model.InstructionKind) (model.InstructionID, bool, error) {
	top, ok := c.top()
	if !ok || top.suppressed {
		return 0, false, nil
	}

	loc, _, err := c.sink.GetSourceLocationByID(ctx, c.lastCallLocation)
	if err != nil {
		return 0, false, c.fatal("AllocEnter", tsc, err)
	}

	instrID, err := c.sink.InsertInstruction(ctx, model.Instruction{
		SegmentID: top.segmentID,
		Kind:      kind,
		Line:      loc.Line,
		Column:    loc.Column,
	})
	if err != nil {
		return 0, false, c.fatal("AllocEnter", tsc, err)
	}

	return instrID, true, nil
}

func hexAddr(addr uint64) string {
	return strconv.FormatUint(addr, 16)
}

type allocExitWithoutEnterError struct{}

func (e *allocExitWithoutEnterError) Error() string { return "allocexit with no matching allocenter" }

func errAllocExitWithoutEnter() error { return &allocExitWithoutEnterError{} }

type unknownAllocKindError struct{}

func (e *unknownAllocKindError) Error() string { return "unrecognized allocation kind" }

func errUnknownAllocKind() error { return &unknownAllocKindError{} }
