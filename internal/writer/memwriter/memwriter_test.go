package memwriter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/writer/memwriter"
)

func TestWriter_InsertReferenceAssignsAndReusesID(t *testing.T) {
	t.Parallel()

	w := memwriter.New()
	ctx := context.Background()

	id, err := w.InsertReference(ctx, model.Reference{Name: "G:1", Kind: model.ReferenceGlobal})
	require.NoError(t, err)
	assert.Equal(t, model.ReferenceID(1), id)

	ref := w.References[id]
	ref.HasDeallocator = true
	ref.DeallocatorID = 9

	id2, err := w.InsertReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, id, id2)
	assert.True(t, w.References[id].HasDeallocator)
}

func TestWriter_LookupsReflectInserts(t *testing.T) {
	t.Parallel()

	w := memwriter.New()
	ctx := context.Background()

	imageID, err := w.InsertImage(ctx, "target")
	require.NoError(t, err)

	fileID, err := w.InsertFile(ctx, imageID, "main.c")
	require.NoError(t, err)

	_, err = w.InsertFunction(ctx, imageID, fileID, "int main()", 10, 1)
	require.NoError(t, err)

	gotImage, found, err := w.GetImageIDByName(ctx, "target")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, imageID, gotImage)

	_, found, err = w.GetFunctionIDByProperties(ctx, "int main()", imageID, "main.c", 10)
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = w.GetImageIDByName(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriter_BeginCommitFlags(t *testing.T) {
	t.Parallel()

	w := memwriter.New()
	ctx := context.Background()

	require.NoError(t, w.Begin(ctx))
	assert.True(t, w.Began)

	require.NoError(t, w.Commit(ctx))
	assert.True(t, w.Committed)
}
