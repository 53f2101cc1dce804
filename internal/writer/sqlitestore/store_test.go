package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/writer/sqlitestore"
)

func openTemp(t *testing.T) *sqlitestore.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "trace.db")

	store, err := sqlitestore.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Begin(ctx))

	return store
}

func TestStore_InsertAndLookupEntities(t *testing.T) {
	t.Parallel()

	store := openTemp(t)
	ctx := context.Background()

	imageID, err := store.InsertImage(ctx, "target")
	require.NoError(t, err)

	fileID, err := store.InsertFile(ctx, imageID, "main.c")
	require.NoError(t, err)

	fnID, err := store.InsertFunction(ctx, imageID, fileID, "int main()", 10, 1)
	require.NoError(t, err)

	locID, err := store.InsertSourceLocation(ctx, model.SourceLocation{Function: fnID, Line: 12, Column: 3})
	require.NoError(t, err)

	require.NoError(t, store.InsertTag(ctx, model.Tag{ID: 1, Name: "simple", Kind: model.TagKindSimple}))
	require.NoError(t, store.InsertTagInstruction(ctx, model.TagInstruction{ID: 1, TagID: 1, LocationID: locID, Side: model.SideStart}))
	require.NoError(t, store.InsertThread(ctx, model.Thread{ID: 1, StartTSC: 0}))
	require.NoError(t, store.InsertTagInstance(ctx, model.TagInstance{ID: 1, TagID: 1, ThreadID: 1, StartTSC: 1, EndTSC: 5, HasEnded: true}))
	require.NoError(t, store.InsertCall(ctx, model.Call{ID: 1, ThreadID: 1, FunctionID: fnID, StartTSC: 1, EndTSC: 5}))
	require.NoError(t, store.InsertSegment(ctx, model.Segment{ID: 1, CallID: 1, Kind: model.SegmentStandard}))

	instrID, err := store.InsertInstruction(ctx, model.Instruction{SegmentID: 1, Kind: model.InstructionAccess, Line: 12, Column: 3})
	require.NoError(t, err)

	refID, err := store.InsertReference(ctx, model.Reference{Name: "S:abc", Base: 0x1000, Size: 8, Kind: model.ReferenceStack})
	require.NoError(t, err)

	_, err = store.InsertAccess(ctx, model.Access{InstructionID: instrID, ReferenceID: refID, Position: 0, Address: 0x1000, Size: 8, Type: model.AccessRead})
	require.NoError(t, err)

	gotFn, found, err := store.GetFunctionIDByProperties(ctx, "int main()", imageID, "main.c", 10)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fnID, gotFn)

	gotImage, found, err := store.GetImageIDByName(ctx, "target")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, imageID, gotImage)

	gotLoc, found, err := store.GetSourceLocationByID(ctx, locID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.SourceLocation{Function: fnID, Line: 12, Column: 3}, gotLoc)

	require.NoError(t, store.Commit(ctx))
}

func TestStore_LookupMiss(t *testing.T) {
	t.Parallel()

	store := openTemp(t)
	ctx := context.Background()

	_, found, err := store.GetImageIDByName(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_ReferenceUpsertRecordsDeallocator(t *testing.T) {
	t.Parallel()

	store := openTemp(t)
	ctx := context.Background()

	ref := model.Reference{ID: 42, Name: "7faa", Base: 0x7FAA, Size: 64, Kind: model.ReferenceHeap, WasAccessed: false}

	id, err := store.InsertReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.ReferenceID(42), id)

	ref.WasAccessed = true
	ref.HasDeallocator = true
	ref.DeallocatorID = 7

	id, err = store.InsertReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.ReferenceID(42), id)
}
