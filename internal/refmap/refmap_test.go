package refmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/refmap"
)

func TestNew_MaterializesRedZoneSingleton(t *testing.T) {
	t.Parallel()

	m := refmap.New(model.NewIDAllocator())
	require.NotNil(t, m.RedZone())
	assert.Equal(t, model.ReferenceRedZone, m.RedZone().Kind)
}

func newAllocFunc() func() model.ReferenceID {
	var next int64

	return func() model.ReferenceID {
		next++

		return model.ReferenceID(next)
	}
}

func TestResolve_ExactHit(t *testing.T) {
	t.Parallel()

	m := refmap.New(model.NewIDAllocator())
	ref := &model.Reference{ID: 100, Base: 0x2000, Size: 8, Kind: model.ReferenceHeap}
	m.Insert(ref)

	got, created := m.Resolve(0x2000, 8, nil, newAllocFunc())
	require.False(t, created)
	assert.Equal(t, ref.ID, got.ID)
	assert.True(t, got.WasAccessed)
}

func TestResolve_ContainingHit(t *testing.T) {
	t.Parallel()

	m := refmap.New(model.NewIDAllocator())
	ref := &model.Reference{ID: 100, Base: 0x2000, Size: 64, Kind: model.ReferenceHeap}
	m.Insert(ref)

	got, created := m.Resolve(0x2010, 4, nil, newAllocFunc())
	require.False(t, created)
	assert.Equal(t, ref.ID, got.ID)
}

func TestResolve_CurrentFrameStack(t *testing.T) {
	t.Parallel()

	m := refmap.New(model.NewIDAllocator())
	frames := []refmap.Frame{{RSP: 0x0F80, RBP: 0x1000, FunctionID: 7}}

	got, created := m.Resolve(0x0F90, 4, frames, newAllocFunc())
	require.True(t, created)
	assert.Equal(t, model.ReferenceStack, got.Kind)
}

func TestResolve_RedZone(t *testing.T) {
	t.Parallel()

	m := refmap.New(model.NewIDAllocator())
	frames := []refmap.Frame{{RSP: 0x2000, RBP: 0x2080, FunctionID: 3}}

	got, created := m.Resolve(0x1FC0, 8, frames, newAllocFunc())
	require.False(t, created)
	assert.Equal(t, model.ReferenceRedZone, got.Kind)
	assert.Equal(t, m.RedZone().ID, got.ID)
}

func TestResolve_EnclosingFrameParameter(t *testing.T) {
	t.Parallel()

	m := refmap.New(model.NewIDAllocator())
	frames := []refmap.Frame{
		{RSP: 0x3000, RBP: 0x3080, FunctionID: 1},
		{RSP: 0x3100, RBP: 0x3180, FunctionID: 2},
	}

	got, created := m.Resolve(0x3190, 8, frames, newAllocFunc())
	require.True(t, created)
	assert.Equal(t, model.ReferenceParameter, got.Kind)
}

func TestResolve_GlobalFallback(t *testing.T) {
	t.Parallel()

	m := refmap.New(model.NewIDAllocator())

	got, created := m.Resolve(0xDEAD0000, 4, nil, newAllocFunc())
	require.True(t, created)
	assert.Equal(t, model.ReferenceGlobal, got.Kind)
}

func TestClearFrame_RemovesStackAndParameterOnly(t *testing.T) {
	t.Parallel()

	m := refmap.New(model.NewIDAllocator())
	m.Insert(&model.Reference{ID: 1, Base: 0x1000, Size: 1, Kind: model.ReferenceStack})
	m.Insert(&model.Reference{ID: 2, Base: 0x1008, Size: 1, Kind: model.ReferenceParameter})
	m.Insert(&model.Reference{ID: 3, Base: 0x1010, Size: 8, Kind: model.ReferenceHeap})

	m.ClearFrame(0x1000, 0x1020)

	_, ok := m.Get(0x1000)
	assert.False(t, ok)

	_, ok = m.Get(0x1008)
	assert.False(t, ok)

	_, ok = m.Get(0x1010)
	assert.True(t, ok, "heap reference outside frame lifetime must survive")
}
