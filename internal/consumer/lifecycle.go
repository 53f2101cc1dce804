package consumer

import (
	"context"
	"runtime"

	"github.com/tracecore/tracecore/internal/model"
)

// StartThread anchors the thread's start in both tsc and wall-clock
// coordinates and pins the calling goroutine's OS thread, per section 5's
// best-effort pinning note. Callers run this once, from the very
// goroutine that will go on to call Consume for this thread's whole
// lifetime.
func (c *Consumer) StartThread(ctx context.Context, startTime int64, startTSC uint64) {
	runtime.LockOSThread()

	c.startTime, c.startTSC = startTime, startTSC
	c.metrics.ThreadStarted(ctx)
}

// StopThread closes any frames still on the stack as if a Ret had arrived
// at endTSC (abnormal-termination rule, section 4.2), then writes the
// now-complete Thread row.
func (c *Consumer) StopThread(ctx context.Context, endTime int64, endTSC uint64) error {
	if err := c.closeRemainingFrames(ctx, endTSC); err != nil {
		return err
	}

	th := model.Thread{
		ID:        c.threadID,
		StartTime: c.startTime,
		StartTSC:  c.startTSC,
		EndTime:   endTime,
		EndTSC:    endTSC,
		Ended:     true,
	}

	if err := c.sink.InsertThread(ctx, th); err != nil {
		return c.fatal("ThreadStop", endTSC, err)
	}

	c.metrics.ThreadStopped(ctx)

	return nil
}
