package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvAppliesDefaults(t *testing.T) {
	c := FromEnv()
	assert.Equal(t, "pi", c.AgentExecutable)
	assert.Equal(t, 8, c.MaxConcurrency)
	assert.Equal(t, 4, c.DefaultConcurrency)
	assert.Equal(t, "info", c.LogLevel)
}

func TestFromEnvHonorsOverrides(t *testing.T) {
	t.Setenv("PARALLEL_AGENT_EXECUTABLE", "custom-agent")
	t.Setenv("PARALLEL_MAX_CONCURRENCY", "3")
	t.Setenv("PARALLEL_LOG_LEVEL", "debug")

	c := FromEnv()
	assert.Equal(t, "custom-agent", c.AgentExecutable)
	assert.Equal(t, 3, c.MaxConcurrency)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestFromEnvIgnoresUnparsableInt(t *testing.T) {
	t.Setenv("PARALLEL_MAX_CONCURRENCY", "not-a-number")
	c := FromEnv()
	assert.Equal(t, 8, c.MaxConcurrency)
}

func TestValidateClampsDefaultConcurrencyToMax(t *testing.T) {
	c := FromEnv()
	c.DefaultConcurrency = 99
	require.NoError(t, c.Validate())
	assert.Equal(t, c.MaxConcurrency, c.DefaultConcurrency)
}

func TestValidateRejectsInvalidMaxConcurrency(t *testing.T) {
	c := FromEnv()
	c.MaxConcurrency = 0
	require.Error(t, c.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	c := FromEnv()
	c.LogLevel = "verbose"
	require.Error(t, c.Validate())
}

func TestValidateRejectsUnreadableTempDir(t *testing.T) {
	c := FromEnv()
	c.TempDir = "/definitely/does/not/exist/parallel"
	require.Error(t, c.Validate())
}

func TestEffectiveTempDirFallsBackToOSDefault(t *testing.T) {
	c := FromEnv()
	c.TempDir = ""
	assert.NotEmpty(t, c.EffectiveTempDir())
}

func TestEffectiveTempDirUsesConfiguredValue(t *testing.T) {
	c := FromEnv()
	c.TempDir = t.TempDir()
	assert.Equal(t, c.TempDir, c.EffectiveTempDir())
}
