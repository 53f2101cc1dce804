package corruption_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/internal/corruption"
	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/tagstate"
)

func TestError_WrapsUnderlyingAndFormats(t *testing.T) {
	t.Parallel()

	err := corruption.New(model.ThreadID(7), "Tag", 42, tagstate.ErrAlreadyOpen)

	assert.ErrorIs(t, err, tagstate.ErrAlreadyOpen)
	assert.Contains(t, err.Error(), "thread=7")
	assert.Contains(t, err.Error(), "Tag")
	assert.Contains(t, err.Error(), "tsc=42")
}

func TestError_UnwrapReturnsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := corruption.New(1, "Ret", 1, cause)

	require.Equal(t, cause, err.Unwrap())
}

func TestFatal_LogsBeforeExiting(t *testing.T) {
	// Not parallel: swaps the package-level exit hook.
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	exited := false
	corruption.SetExitFuncForTest(func(int) { exited = true })
	defer corruption.SetExitFuncForTest(nil)

	corruption.Fatal(logger, errors.New("bad record"))

	assert.True(t, exited)
	assert.Contains(t, buf.String(), "fatal corruption detected")
	assert.Contains(t, buf.String(), "bad record")
}
