package conflict_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/internal/conflict"
	"github.com/tracecore/tracecore/internal/model"
)

func TestRecord_NoConflictOnFirstAccess(t *testing.T) {
	t.Parallel()

	d := conflict.New()
	conflicts := d.Record(1, 0x1000, 10, 100, model.AccessWrite)
	assert.Nil(t, conflicts)
}

func TestRecord_WriteWriteConflictBetweenSiblingTasks(t *testing.T) {
	t.Parallel()

	d := conflict.New()

	conflicts := d.Record(1, 0x1000, 10, 100, model.AccessWrite)
	require.Empty(t, conflicts)

	conflicts = d.Record(1, 0x1000, 20, 200, model.AccessWrite)
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.TagInstanceID(20), conflicts[0].TagInstance1)
	assert.Equal(t, model.TagInstanceID(10), conflicts[0].TagInstance2)
	assert.Equal(t, model.AccessID(200), conflicts[0].Access1)
	assert.Equal(t, model.AccessID(100), conflicts[0].Access2)
}

func TestRecord_ReadReadIsNotAConflict(t *testing.T) {
	t.Parallel()

	d := conflict.New()

	d.Record(1, 0x1000, 10, 100, model.AccessRead)
	conflicts := d.Record(1, 0x1000, 20, 200, model.AccessRead)
	assert.Empty(t, conflicts)
}

func TestRecord_ReadWriteIsAConflict(t *testing.T) {
	t.Parallel()

	d := conflict.New()

	d.Record(1, 0x1000, 10, 100, model.AccessRead)
	conflicts := d.Record(1, 0x1000, 20, 200, model.AccessWrite)
	assert.Len(t, conflicts, 1)
}

func TestRecord_DirectParentExcluded(t *testing.T) {
	t.Parallel()

	d := conflict.New()
	d.RegisterParent(20, 10) // 10 is 20's direct parent

	d.Record(1, 0x1000, 10, 100, model.AccessWrite)
	conflicts := d.Record(1, 0x1000, 20, 200, model.AccessWrite)
	assert.Empty(t, conflicts, "a task must never conflict with its own direct container parent")
}

func TestRecord_SecondReadFromSameTagDoesNotOverwrite(t *testing.T) {
	t.Parallel()

	d := conflict.New()

	d.Record(1, 0x1000, 10, 100, model.AccessWrite)
	// Same tag reads again: per rule 1, a non-write from a tag that
	// already has a recorded entry does not overwrite it.
	conflicts := d.Record(1, 0x1000, 10, 101, model.AccessRead)
	assert.Empty(t, conflicts)
}

func TestCloseScope_RemovesDescendantEntries(t *testing.T) {
	t.Parallel()

	d := conflict.New()
	d.RegisterParent(20, 10)

	d.Record(1, 0x1000, 10, 100, model.AccessWrite)
	d.Record(1, 0x1000, 20, 200, model.AccessWrite)

	d.CloseScope([]model.TagInstanceID{10, 20})

	// A fresh access at the same location now sees no prior entries.
	conflicts := d.Record(1, 0x1000, 30, 300, model.AccessWrite)
	assert.Empty(t, conflicts)
}
