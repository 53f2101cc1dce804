package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/pkg/config"
)

func TestLoadFilterConfig_EmptyPathAllowsEverything(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFilterConfig("")
	require.NoError(t, err)

	set, err := cfg.Compile()
	require.NoError(t, err)

	assert.True(t, set.AllowImage("libc.so.6"))
	assert.True(t, set.AllowFile("anything.cpp"))
	assert.True(t, set.AllowFunction("whatever"))
}

func TestLoadFilterConfig_IncludeExclude(t *testing.T) {
	t.Parallel()

	path := writeTempYAML(t, "filter.yaml", `
image:
  include:
    - "^myapp"
  exclude:
    - "myapp-test$"
file:
  exclude:
    - "_test\\.cpp$"
function:
  include:
    - "^worker_"
`)

	cfg, err := config.LoadFilterConfig(path)
	require.NoError(t, err)

	set, err := cfg.Compile()
	require.NoError(t, err)

	assert.True(t, set.AllowImage("myapp"))
	assert.False(t, set.AllowImage("myapp-test"))
	assert.False(t, set.AllowImage("otherlib"))

	assert.True(t, set.AllowFile("worker.cpp"))
	assert.False(t, set.AllowFile("worker_test.cpp"))

	assert.True(t, set.AllowFunction("worker_run"))
	assert.False(t, set.AllowFunction("main"))
}

func TestCompiledRules_InvalidRegexFails(t *testing.T) {
	t.Parallel()

	cfg := &config.FilterConfig{
		Image: config.MatchRules{Include: []string{"("}},
	}

	_, err := cfg.Compile()
	require.Error(t, err)
}
