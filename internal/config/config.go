// Package config loads the orchestrator's runtime configuration from
// environment variables (optionally seeded by a .env file), following the
// env-driven Config-struct-with-FromEnv/Validate shape used throughout the
// teacher codebase's internal/profile package.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const envPrefix = "PARALLEL_"

// Config is the orchestrator's resolved runtime configuration.
type Config struct {
	// AgentExecutable is the child agent binary invoked by the executor.
	AgentExecutable string
	// DefaultConcurrency is used when a mode does not specify maxConcurrency.
	DefaultConcurrency int
	// MaxConcurrency bounds DefaultConcurrency (Validate lowers
	// DefaultConcurrency to it). A maxConcurrency given in a request is
	// clamped against pool.MaxConcurrency, not against this value.
	MaxConcurrency int
	// MaxOutputLines / MaxOutputBytes are the C8 output-shaping caps.
	MaxOutputLines int
	MaxOutputBytes int
	// TempDir is the root under which workspaces, spill files and prompt
	// files are created. Empty means os.TempDir().
	TempDir string
	// AgentUserDir / AgentProjectDir are the §3a discovery roots.
	AgentUserDir    string
	AgentProjectDir string
	// DefaultReviewMaxIterations is used when a ReviewConfig omits it.
	DefaultReviewMaxIterations int
	// SoftKillGraceSeconds is how long the executor waits after a soft terminate
	// before escalating to a hard kill.
	SoftKillGraceSeconds int
	// MetricsAddr, if non-empty, serves Prometheus metrics on this address.
	MetricsAddr string
	// JSONLog selects the slog JSON handler over the text handler.
	JSONLog bool
	// LogLevel is one of debug|info|warn|error.
	LogLevel string
}

// Load reads a .env file if present (never overriding already-set
// environment variables, matching the teacher's opt-in .env behaviour) and
// returns a Config populated from the environment, then validated.
func Load() (*Config, error) {
	if !isRunningUnderSupervisor() {
		_ = godotenv.Load()
	}
	c := FromEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromEnv populates a Config from environment variables without validating.
func FromEnv() *Config {
	c := &Config{
		AgentExecutable:            getEnvOrDefault(envPrefix+"AGENT_EXECUTABLE", "pi"),
		DefaultConcurrency:         getEnvOrDefaultInt(envPrefix+"DEFAULT_CONCURRENCY", 4),
		MaxConcurrency:             getEnvOrDefaultInt(envPrefix+"MAX_CONCURRENCY", 8),
		MaxOutputLines:             getEnvOrDefaultInt(envPrefix+"MAX_OUTPUT_LINES", 2000),
		MaxOutputBytes:             getEnvOrDefaultInt(envPrefix+"MAX_OUTPUT_BYTES", 50*1024),
		TempDir:                    getEnvOrDefault(envPrefix+"TEMP_DIR", ""),
		AgentUserDir:               getEnvOrDefault(envPrefix+"AGENT_USER_DIR", defaultUserAgentDir()),
		AgentProjectDir:            getEnvOrDefault(envPrefix+"AGENT_PROJECT_DIR", filepath.Join(".parallel", "agents")),
		DefaultReviewMaxIterations: getEnvOrDefaultInt(envPrefix+"REVIEW_MAX_ITERATIONS", 3),
		SoftKillGraceSeconds:       getEnvOrDefaultInt(envPrefix+"SOFT_KILL_GRACE_SECONDS", 5),
		MetricsAddr:                getEnvOrDefault(envPrefix+"METRICS_ADDR", ""),
		JSONLog:                    getEnvOrDefault(envPrefix+"JSON_LOG", "false") == "true",
		LogLevel:                   getEnvOrDefault(envPrefix+"LOG_LEVEL", "info"),
	}
	return c
}

func defaultUserAgentDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "parallel", "agents")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "parallel", "agents")
}

// Validate clamps and rejects out-of-range settings, wrapping errors the
// way internal/profile.Profile.Validate does with github.com/pkg/errors.
func (c *Config) Validate() error {
	if c.MaxConcurrency < 1 {
		return errors.New("PARALLEL_MAX_CONCURRENCY must be >= 1")
	}
	if c.DefaultConcurrency < 1 || c.DefaultConcurrency > c.MaxConcurrency {
		c.DefaultConcurrency = c.MaxConcurrency
	}
	if c.MaxOutputLines < 1 {
		return errors.New("PARALLEL_MAX_OUTPUT_LINES must be >= 1")
	}
	if c.MaxOutputBytes < 1 {
		return errors.New("PARALLEL_MAX_OUTPUT_BYTES must be >= 1")
	}
	if c.SoftKillGraceSeconds < 0 {
		return errors.New("PARALLEL_SOFT_KILL_GRACE_SECONDS must be >= 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown PARALLEL_LOG_LEVEL %q", c.LogLevel)
	}
	if c.TempDir != "" {
		if _, err := os.Stat(c.TempDir); err != nil {
			return errors.Wrapf(err, "unable to access temp dir %s", c.TempDir)
		}
	}
	return nil
}

// EffectiveTempDir returns c.TempDir or the OS default.
func (c *Config) EffectiveTempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return os.TempDir()
}

func isRunningUnderSupervisor() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
