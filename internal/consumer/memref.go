package consumer

import (
	"context"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/record"
)

// handleMemRef implements the MemRef rule (spec section 4.5): resolve
// every touched address against the shared reference map and the call
// stack, synthesize the Access-kind Instruction and its Access rows, and
// feed the conflict detector when a task tag is active.
func (c *Consumer) handleMemRef(ctx context.Context, rec record.Record) error {
	operands := rec.Details.Operands
	if len(operands) == 0 {
		return nil
	}

	top, ok := c.top()
	if !ok {
		return c.fatal("MemRef", rec.TSC, errMemRefWithoutFrame())
	}

	if top.suppressed {
		return nil
	}

	loc, _, err := c.sink.GetSourceLocationByID(ctx, rec.Details.Location)
	if err != nil {
		return c.fatal("MemRef", rec.TSC, err)
	}

	if c.ignoreAccess(top.functionID, loc.Line) {
		return nil
	}

	instrID, err := c.sink.InsertInstruction(ctx, model.Instruction{
		SegmentID: top.segmentID,
		Kind:      model.InstructionAccess,
		Line:      loc.Line,
		Column:    loc.Column,
	})
	if err != nil {
		return c.fatal("MemRef", rec.TSC, err)
	}

	task, hasTask := c.machine.ActiveTask()

	for i, operand := range operands {
		if i >= len(rec.Addresses) {
			break
		}

		addr := rec.Addresses[i]

		ref, created := c.refs.Resolve(addr, uint64(operand.Size), c.frames(), c.allocRefID)
		if created {
			if _, err := c.sink.InsertReference(ctx, *ref); err != nil {
				return c.fatal("MemRef", rec.TSC, err)
			}
		}

		accessType := model.AccessRead
		if operand.IsWrite {
			accessType = model.AccessWrite
		}

		accessID, err := c.sink.InsertAccess(ctx, model.Access{
			InstructionID: instrID,
			ReferenceID:   ref.ID,
			Position:      i,
			Address:       addr,
			Size:          operand.Size,
			Type:          accessType,
		})
		if err != nil {
			return c.fatal("MemRef", rec.TSC, err)
		}

		if !hasTask {
			continue
		}

		for _, conf := range c.conf.Record(ref.ID, addr, task.ID, accessID, accessType) {
			if _, err := c.sink.InsertConflict(ctx, model.Conflict{
				TagInstance1: conf.TagInstance1,
				TagInstance2: conf.TagInstance2,
				Access1:      conf.Access1,
				Access2:      conf.Access2,
			}); err != nil {
				return c.fatal("MemRef", rec.TSC, err)
			}

			c.metrics.RecordConflict(ctx)
		}
	}

	return nil
}

type memRefWithoutFrameError struct{}

func (e *memRefWithoutFrameError) Error() string {
	return "memref record observed with an empty call stack"
}

func errMemRefWithoutFrame() error {
	return &memRefWithoutFrameError{}
}
