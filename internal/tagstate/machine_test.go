package tagstate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/tagstate"
)

func newFixture() (*tagstate.Index, *model.IDAllocator) {
	idx := tagstate.NewIndex()
	idx.AddTag(model.Tag{ID: 1, Name: "simple", Kind: model.TagKindSimple})
	idx.AddTag(model.Tag{ID: 2, Name: "section", Kind: model.TagKindSection})
	idx.AddTag(model.Tag{ID: 3, Name: "sectionTask", Kind: model.TagKindSectionTask})
	idx.AddTag(model.Tag{ID: 4, Name: "ignoreCalls", Kind: model.TagKindIgnoreCalls})
	idx.AddTag(model.Tag{ID: 5, Name: "counter", Kind: model.TagKindCounter})

	idx.AddInstruction(model.TagInstruction{ID: 10, TagID: 1, Side: model.SideStart})
	idx.AddInstruction(model.TagInstruction{ID: 11, TagID: 1, Side: model.SideStop})
	idx.AddInstruction(model.TagInstruction{ID: 20, TagID: 2, Side: model.SideStart})
	idx.AddInstruction(model.TagInstruction{ID: 21, TagID: 2, Side: model.SideStop})
	idx.AddInstruction(model.TagInstruction{ID: 30, TagID: 3, Side: model.SideStart})
	idx.AddInstruction(model.TagInstruction{ID: 31, TagID: 3, Side: model.SideStop})
	idx.AddInstruction(model.TagInstruction{ID: 40, TagID: 4, Side: model.SideStart})
	idx.AddInstruction(model.TagInstruction{ID: 41, TagID: 4, Side: model.SideStop})
	idx.AddInstruction(model.TagInstruction{ID: 50, TagID: 5, Side: model.SideStart})
	idx.AddInstruction(model.TagInstruction{ID: 51, TagID: 5, Side: model.SideStop})

	return idx, model.NewIDAllocator()
}

func TestDispatch_SimpleOpenAndClose(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	events, err := m.Dispatch(10, 0x100, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Closed)

	events, err = m.Dispatch(11, 0x200, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Closed)
	assert.Equal(t, uint64(2), events[0].Instance.EndTSC)
}

func TestDispatch_SimpleReopenIsCorruption(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	_, err := m.Dispatch(10, 0x100, 1)
	require.NoError(t, err)

	_, err = m.Dispatch(10, 0x200, 2)
	require.ErrorIs(t, err, tagstate.ErrAlreadyOpen)
}

func TestDispatch_DedupSameInstructionAndAddress(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	_, err := m.Dispatch(10, 0x100, 1)
	require.NoError(t, err)

	events, err := m.Dispatch(10, 0x100, 1)
	require.NoError(t, err)
	assert.Nil(t, events, "identical (tag_instruction_id, address) repeat must be a no-op")
}

func TestDispatch_StopWithoutOpen(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	_, err := m.Dispatch(11, 0x100, 1)
	require.ErrorIs(t, err, tagstate.ErrStopWithoutOpen)
}

func TestDispatch_TaskOutsideContainerIsCorruption(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	_, err := m.Dispatch(30, 0x100, 1)
	require.ErrorIs(t, err, tagstate.ErrTaskOutsideContainer)
}

func TestDispatch_TaskStopIsAlwaysInvalid(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	_, err := m.Dispatch(20, 0x100, 1) // open Section
	require.NoError(t, err)

	_, err = m.Dispatch(30, 0x100, 2) // open task under section
	require.NoError(t, err)

	_, err = m.Dispatch(31, 0x100, 3) // stop task: invalid
	require.ErrorIs(t, err, tagstate.ErrTaskStopInvalid)
}

func TestDispatch_TaskRestartClosesPriorIteration(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	_, err := m.Dispatch(20, 0x100, 1)
	require.NoError(t, err)

	events, err := m.Dispatch(30, 0x200, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	firstIteration := events[0].Instance

	events, err = m.Dispatch(30, 0x300, 3)
	require.NoError(t, err)
	require.Len(t, events, 2, "restart closes prior iteration then opens a new one")
	assert.True(t, events[0].Closed)
	assert.Equal(t, firstIteration.ID, events[0].Instance.ID)
	assert.False(t, events[1].Closed)
	assert.NotEqual(t, firstIteration.ID, events[1].Instance.ID)
}

func TestDispatch_ContainerCloseCascadesDescendantTasks(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	_, err := m.Dispatch(20, 0x100, 1)
	require.NoError(t, err)

	_, err = m.Dispatch(30, 0x200, 2)
	require.NoError(t, err)

	events, err := m.Dispatch(21, 0x300, 3) // close section
	require.NoError(t, err)
	require.Len(t, events, 2, "expect the cascaded task close plus the container's own close")

	closedKinds := map[model.TagID]bool{}
	for _, ev := range events {
		require.True(t, ev.Closed)

		closedKinds[ev.Instance.TagID] = true

		assert.Equal(t, uint64(3), ev.Instance.EndTSC,
			"cascaded close must use the container's close tsc, not the descendant's own start tsc")
	}

	assert.True(t, closedKinds[3])
	assert.True(t, closedKinds[2])
}

func TestDispatch_SectionReopenOnLoopHeaderIsIgnored(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	_, err := m.Dispatch(20, 0x100, 1)
	require.NoError(t, err)

	events, err := m.Dispatch(20, 0x200, 2)
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestGates_DefaultsAndFlags(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, true, false)

	gates := m.Gates()
	assert.True(t, gates.ProcessCalls)
	assert.False(t, gates.ProcessAccesses)

	_, err := m.Dispatch(40, 0x0, 1) // ignoreCalls start
	require.NoError(t, err)

	gates = m.Gates()
	assert.False(t, gates.ProcessCalls)
	assert.False(t, gates.ProcessAccesses, "accesses gate off once calls gate is off")
}

func TestGates_InterestingProgramPartForcesBothOn(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	_, err := m.Dispatch(20, 0x0, 1) // open section
	require.NoError(t, err)

	gates := m.Gates()
	assert.True(t, gates.ProcessCalls)
	assert.True(t, gates.ProcessAccesses)
}

func TestDispatch_CounterIncrementsPerOpen(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	events, err := m.Dispatch(50, 0x0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), events[0].Instance.Counter)

	_, err = m.Dispatch(51, 0x0, 2)
	require.NoError(t, err)

	events, err = m.Dispatch(50, 0x0, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), events[0].Instance.Counter)
}

func TestDispatch_UnknownTagInstructionIsCorruption(t *testing.T) {
	t.Parallel()

	idx, alloc := newFixture()
	m := tagstate.NewMachine(idx, alloc, 1, false, false)

	_, err := m.Dispatch(9999, 0x0, 1)
	require.ErrorIs(t, err, tagstate.ErrUnknownTagInstruction)
}
