package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/pkg/config"
)

func writeTempYAML(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadSourceConfig_EmptyPathRejected(t *testing.T) {
	t.Parallel()

	_, err := config.LoadSourceConfig("")
	require.Error(t, err)
}

func TestLoadSourceConfig_Defaults(t *testing.T) {
	t.Parallel()

	path := writeTempYAML(t, "source.yaml", `
tags:
  - name: region
    type: section
tagInstructions:
  - tag: region
    location: "main.cpp:10"
    type: start
  - tag: region
    location: "main.cpp:20"
    type: stop
`)

	cfg, err := config.LoadSourceConfig(path)
	require.NoError(t, err)

	assert.False(t, cfg.Flags.ProcessAccessesByDefault)
	assert.False(t, cfg.Flags.ProcessCallsByDefault)
	assert.True(t, cfg.RecordTagHits)
	assert.Len(t, cfg.Tags, 1)
	assert.Len(t, cfg.TagInstructions, 2)
}

func TestLoadSourceConfig_FullFile(t *testing.T) {
	t.Parallel()

	path := writeTempYAML(t, "source.yaml", `
tags:
  - name: region
    type: section
  - name: task
    type: section_task
  - name: noaccess
    type: ignore_accesses
tagInstructions:
  - tag: region
    location: "worker.cpp:5"
    type: start
  - tag: region
    location: "worker.cpp:42"
    type: stop
flags:
  processAccessesByDefault: true
  processCallsByDefault: true
ignore:
  - function: memcpy
    delta: 3
`)

	cfg, err := config.LoadSourceConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Flags.ProcessAccessesByDefault)
	assert.True(t, cfg.Flags.ProcessCallsByDefault)
	require.Len(t, cfg.Ignore, 1)
	assert.Equal(t, "memcpy", cfg.Ignore[0].Function)
	assert.Equal(t, 3, cfg.Ignore[0].Delta)
}

func TestLoadSourceConfig_UnknownTagType(t *testing.T) {
	t.Parallel()

	path := writeTempYAML(t, "source.yaml", `
tags:
  - name: region
    type: nonsense
`)

	_, err := config.LoadSourceConfig(path)
	require.ErrorIs(t, err, config.ErrUnknownTagType)
}

func TestLoadSourceConfig_InstructionReferencesUnknownTag(t *testing.T) {
	t.Parallel()

	path := writeTempYAML(t, "source.yaml", `
tags:
  - name: region
    type: section
tagInstructions:
  - tag: missing
    location: "main.cpp:1"
    type: start
`)

	_, err := config.LoadSourceConfig(path)
	require.ErrorIs(t, err, config.ErrUnknownTagRefType)
}

func TestLoadSourceConfig_DuplicateTagName(t *testing.T) {
	t.Parallel()

	path := writeTempYAML(t, "source.yaml", `
tags:
  - name: region
    type: section
  - name: region
    type: counter
`)

	_, err := config.LoadSourceConfig(path)
	require.ErrorIs(t, err, config.ErrDuplicateTagName)
}

func TestLoadSourceConfig_InvalidInstructionType(t *testing.T) {
	t.Parallel()

	path := writeTempYAML(t, "source.yaml", `
tags:
  - name: region
    type: section
tagInstructions:
  - tag: region
    location: "main.cpp:1"
    type: sideways
`)

	_, err := config.LoadSourceConfig(path)
	require.ErrorIs(t, err, config.ErrUnknownLocTagType)
}

func TestLoadSourceConfig_IgnoreEntryMissingFunction(t *testing.T) {
	t.Parallel()

	path := writeTempYAML(t, "source.yaml", `
tags:
  - name: region
    type: section
ignore:
  - delta: 1
`)

	_, err := config.LoadSourceConfig(path)
	require.ErrorIs(t, err, config.ErrEmptyIgnoreFunc)
}
