package warnings_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/warnings"
)

func TestCollector_AddAccumulatesAndLogs(t *testing.T) {
	t.Parallel()

	c := warnings.New(slog.Default())

	c.Add(1, 10, "first")
	c.Add(1, 20, "second")

	require.Equal(t, 2, c.Len())

	all := c.All()
	assert.Equal(t, "first", all[0].Message)
	assert.Equal(t, "second", all[1].Message)
	assert.Equal(t, model.ThreadID(1), all[0].ThreadID)
}

func TestCollector_RetMismatchIncludesFunctionIDs(t *testing.T) {
	t.Parallel()

	c := warnings.New(nil)
	c.RetMismatch(1, 5, model.FunctionID(10), model.FunctionID(20))

	all := c.All()
	require.Len(t, all, 1)
	assert.Contains(t, all[0].Message, "10")
	assert.Contains(t, all[0].Message, "20")
}
