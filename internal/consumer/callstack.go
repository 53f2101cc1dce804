package consumer

import (
	"context"
	"fmt"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/record"
)

// handleCall implements the Call-record rule of spec section 4.2: save
// the call-site location for the CallEnter that follows, and update the
// current top frame's rsp. It never pushes.
func (c *Consumer) handleCall(rec record.Record) {
	c.lastCallTSC = rec.TSC
	c.lastCallLocation = rec.CallerLocation
	c.hasLastCall = true

	if top, ok := c.top(); ok {
		top.rsp = rec.RSP
	}
}

// handleCallEnter implements the CallEnter rule: optimised-prologue rbp
// correction, Call/Segment id pre-allocation, the outgoing frame's
// synthesized Call-kind Instruction, and the tag-instance snapshot.
func (c *Consumer) handleCallEnter(ctx context.Context, rec record.Record) error {
	rbp := rec.RBP
	if rbp < rec.RSP {
		rbp = rec.RSP
	}

	newFrame := frame{
		callID:              c.ids.NextCallID(),
		segmentID:           c.ids.NextSegmentID(),
		functionID:          rec.FunctionID,
		rbp:                 rbp,
		rsp:                 rec.RSP,
		startTSC:            rec.TSC,
		tagInstancesAtEntry: activeTagIDs(c.machine.Active()),
		suppressed:          !c.allowFunction(rec.FunctionID),
	}

	if !newFrame.suppressed {
		if err := c.sink.InsertSegment(ctx, model.Segment{ID: newFrame.segmentID, CallID: newFrame.callID, Kind: model.SegmentStandard}); err != nil {
			return c.fatal("CallEnter", rec.TSC, err)
		}
	}

	if len(c.stack) > 0 && c.hasLastCall && !c.stack[0].suppressed {
		outgoing := &c.stack[0]

		loc, _, err := c.sink.GetSourceLocationByID(ctx, c.lastCallLocation)
		if err != nil {
			return c.fatal("CallEnter", rec.TSC, err)
		}

		instrID, err := c.sink.InsertInstruction(ctx, model.Instruction{
			SegmentID: outgoing.segmentID,
			Kind:      model.InstructionCall,
			Line:      loc.Line,
			Column:    loc.Column,
		})
		if err != nil {
			return c.fatal("CallEnter", rec.TSC, err)
		}

		newFrame.parentInstruction, newFrame.hasParentInstruction = instrID, true
	}

	c.stack = append([]frame{newFrame}, c.stack...)

	return nil
}

// handleRet implements the Ret rule: pop frames until the matching one is
// found (warning on each mismatched pop), then close, link, and write the
// matching Call.
func (c *Consumer) handleRet(ctx context.Context, rec record.Record) error {
	for len(c.stack) > 0 && c.stack[0].functionID != rec.FunctionID {
		top := c.stack[0]
		c.warn.RetMismatch(c.threadID, rec.TSC, rec.FunctionID, top.functionID)

		if err := c.closeFrame(ctx, top, rec.TSC); err != nil {
			return err
		}

		c.stack = c.stack[1:]
	}

	if len(c.stack) == 0 {
		return c.fatal("Ret", rec.TSC, errRetWithoutMatchingCall(rec.FunctionID))
	}

	matched := c.stack[0]
	c.stack = c.stack[1:]

	return c.closeFrame(ctx, matched, rec.TSC)
}

// closeFrame clears the frame's stack/parameter references, emits its
// Call-tag-instance links, and writes the now-complete Call row.
func (c *Consumer) closeFrame(ctx context.Context, f frame, endTSC uint64) error {
	c.refs.ClearFrame(f.rsp, f.rbp)

	if f.suppressed {
		return nil
	}

	for _, tiID := range f.tagInstancesAtEntry {
		if err := c.sink.InsertCallTagInstance(ctx, model.CallTagInstance{CallID: f.callID, TagInstanceID: tiID}); err != nil {
			return c.fatal("Ret", endTSC, err)
		}
	}

	call := model.Call{
		ID:             f.callID,
		ThreadID:       c.threadID,
		FunctionID:     f.functionID,
		Instruction:    f.parentInstruction,
		HasInstruction: f.hasParentInstruction,
		StartTSC:       f.startTSC,
		EndTSC:         endTSC,
	}

	if err := c.sink.InsertCall(ctx, call); err != nil {
		return c.fatal("Ret", endTSC, err)
	}

	return nil
}

// closeRemainingFrames forces a Ret-as-of-endTSC on every frame still on
// the stack, per the abnormal-termination rule (thread end, non-empty
// stack).
func (c *Consumer) closeRemainingFrames(ctx context.Context, endTSC uint64) error {
	for len(c.stack) > 0 {
		f := c.stack[0]
		c.stack = c.stack[1:]

		if err := c.closeFrame(ctx, f, endTSC); err != nil {
			return err
		}
	}

	return nil
}

func activeTagIDs(active []*model.TagInstance) []model.TagInstanceID {
	out := make([]model.TagInstanceID, len(active))
	for i, inst := range active {
		out[i] = inst.ID
	}

	return out
}

type retWithoutMatchingCallError struct {
	functionID model.FunctionID
}

func (e *retWithoutMatchingCallError) Error() string {
	return fmt.Sprintf("ret for function %d with no matching call on the stack", e.functionID)
}

func errRetWithoutMatchingCall(fn model.FunctionID) error {
	return &retWithoutMatchingCallError{functionID: fn}
}
