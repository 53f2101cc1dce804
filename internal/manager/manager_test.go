package manager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/internal/corruption"
	"github.com/tracecore/tracecore/internal/manager"
	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/record"
	"github.com/tracecore/tracecore/internal/tagstate"
	"github.com/tracecore/tracecore/internal/writer/memwriter"
)

func newIndex() *tagstate.Index {
	idx := tagstate.NewIndex()
	idx.AddTag(model.Tag{ID: 1, Name: "simple", Kind: model.TagKindSimple})
	idx.AddInstruction(model.TagInstruction{ID: 10, TagID: 1, Side: model.SideStart})
	idx.AddInstruction(model.TagInstruction{ID: 11, TagID: 1, Side: model.SideStop})

	return idx
}

func TestManager_TwoThreadsConcurrently(t *testing.T) {
	t.Parallel()

	w := memwriter.New()
	ctx := context.Background()

	m := manager.New(manager.Config{
		Sink:                     w,
		Index:                    newIndex(),
		ProcessCallsByDefault:    true,
		ProcessAccessesByDefault: true,
	})

	for _, threadID := range []model.ThreadID{1, 2} {
		require.NoError(t, m.DispatchBatch(ctx, threadID, []record.Record{
			{Kind: record.KindCallEnter, TSC: 1, FunctionID: 100, RSP: 0x1000, RBP: 0x1080},
		}, time.Now().UnixNano(), 1))

		require.NoError(t, m.DispatchBatch(ctx, threadID, []record.Record{
			{Kind: record.KindRet, TSC: 2, FunctionID: 100},
		}, 0, 0))
	}

	require.NoError(t, m.StopAll(ctx, time.Now().UnixNano(), 3))

	assert.Len(t, w.Calls, 2)
	assert.Len(t, w.Threads, 2)
}

func TestManager_UnknownFunctionSurfacesAsFatal(t *testing.T) {
	corruption.SetExitFuncForTest(func(int) {})
	defer corruption.SetExitFuncForTest(nil)

	w := memwriter.New()
	ctx := context.Background()

	m := manager.New(manager.Config{
		Sink:                  w,
		Index:                 newIndex(),
		ProcessCallsByDefault: true,
	})

	// A Ret with no matching CallEnter is corruption; the worker
	// goroutine reports it back through StopAll rather than panicking.
	require.NoError(t, m.DispatchBatch(ctx, 1, []record.Record{
		{Kind: record.KindRet, TSC: 1, FunctionID: 999},
	}, 0, 0))

	err := m.StopAll(ctx, 0, 0)
	assert.Error(t, err)
}
