package consumer

import (
	"context"
	"fmt"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/record"
)

// handleTag dispatches a Tag record through the state machine, writes any
// TagInstance that just closed, maintains the conflict detector's
// parent-registry and scope-close bookkeeping, and recomputes gating.
func (c *Consumer) handleTag(ctx context.Context, rec record.Record) error {
	tag, _, ok := c.idx.Lookup(rec.TagInstructionID)
	if !ok {
		return c.fatal("Tag", rec.TSC, errUnknownTagInstruction(rec.TagInstructionID))
	}

	deduped := c.machine.WouldDedup(rec.TagInstructionID, rec.Address)

	events, err := c.machine.Dispatch(rec.TagInstructionID, rec.Address, rec.TSC)
	if err != nil {
		return c.fatal("Tag", rec.TSC, err)
	}

	if deduped {
		return nil
	}

	if err := c.sink.InsertTagHit(ctx, rec.TSC, rec.TagInstructionID, c.threadID); err != nil {
		return c.fatal("Tag", rec.TSC, err)
	}

	containerStop := tag.Kind.IsContainer() && len(events) > 0 && events[len(events)-1].Closed

	var descendants []model.TagInstanceID

	for i, ev := range events {
		if !ev.Closed {
			if ev.Instance.HasParent {
				c.conf.RegisterParent(ev.Instance.ID, ev.Instance.ParentID)
			}

			continue
		}

		if err := c.sink.InsertTagInstance(ctx, *ev.Instance); err != nil {
			return c.fatal("Tag", rec.TSC, err)
		}

		if containerStop && i < len(events)-1 {
			descendants = append(descendants, ev.Instance.ID)
		}
	}

	if containerStop {
		c.conf.CloseScope(descendants)
	}

	c.gates = c.machine.Gates()

	return nil
}

type unknownTagInstructionError struct {
	id model.TagInstructionID
}

func (e *unknownTagInstructionError) Error() string {
	return fmt.Sprintf("tag record references unregistered tag instruction %d", e.id)
}

func errUnknownTagInstruction(id model.TagInstructionID) error {
	return &unknownTagInstructionError{id: id}
}
