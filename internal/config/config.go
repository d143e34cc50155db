package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds per-project scheduler configuration.
// Values are resolved defaults → .mira/config.yaml → MIRA_* environment
// variables, last writer wins.
type Config struct {
	// PollInterval is how often the scheduler loop polls for eligible work.
	// Default: 5s, Range: 1s-5m
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxConcurrent is the ceiling on features executing at once per project.
	// Default: 1, Range: 1-16
	MaxConcurrent int `yaml:"max_concurrent"`

	// RateLimitBuffer is extra wait added atop a provider-reported reset time
	// to avoid retrying too early.
	// Default: 60s
	RateLimitBuffer time.Duration `yaml:"rate_limit_buffer"`

	// DefaultModel is the model identifier used when a feature doesn't set one.
	DefaultModel string `yaml:"default_model"`

	// EnableIsolation controls whether features with a branch get a dedicated
	// worktree. Default: true
	EnableIsolation bool `yaml:"enable_isolation"`

	// WorktreeRoot is the directory (relative to the project) where isolated
	// working trees are created. Default: ".worktrees"
	WorktreeRoot string `yaml:"worktree_root"`

	// MaxTurns bounds a single agent invocation. 0 means engine default.
	MaxTurns int `yaml:"max_turns"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		PollInterval:    5 * time.Second,
		MaxConcurrent:   1,
		RateLimitBuffer: 60 * time.Second,
		DefaultModel:    "claude-sonnet-4-5-20250929",
		EnableIsolation: true,
		WorktreeRoot:    ".worktrees",
		MaxTurns:        0,
	}
}

// Load resolves the effective configuration for a project root.
// A missing config file is not an error; env overrides always apply.
func Load(projectPath string) (Config, error) {
	cfg := Default()

	path := filepath.Join(projectPath, ".mira", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides applies MIRA_* environment variables on top of the
// file-based configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MIRA_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollInterval = d
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid MIRA_POLL_INTERVAL %q: %v\n", v, err)
		}
	}
	if v := os.Getenv("MIRA_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrent = n
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid MIRA_MAX_CONCURRENT %q: %v\n", v, err)
		}
	}
	if v := os.Getenv("MIRA_RATE_LIMIT_BUFFER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RateLimitBuffer = d
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid MIRA_RATE_LIMIT_BUFFER %q: %v\n", v, err)
		}
	}
	if v := os.Getenv("MIRA_DEFAULT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("MIRA_ENABLE_ISOLATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.EnableIsolation = b
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid MIRA_ENABLE_ISOLATION %q: %v\n", v, err)
		}
	}
	if v := os.Getenv("MIRA_WORKTREE_ROOT"); v != "" {
		c.WorktreeRoot = v
	}
	if v := os.Getenv("MIRA_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxTurns = n
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid MIRA_MAX_TURNS %q: %v\n", v, err)
		}
	}
}

// Validate clamps out-of-range values to their nearest bound and rejects
// values that cannot be clamped sensibly.
func (c *Config) Validate() error {
	if c.PollInterval < time.Second {
		c.PollInterval = time.Second
	}
	if c.PollInterval > 5*time.Minute {
		c.PollInterval = 5 * time.Minute
	}
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	if c.MaxConcurrent > 16 {
		c.MaxConcurrent = 16
	}
	if c.RateLimitBuffer < 0 {
		return fmt.Errorf("rate_limit_buffer cannot be negative (got %v)", c.RateLimitBuffer)
	}
	if c.WorktreeRoot == "" {
		c.WorktreeRoot = ".worktrees"
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("max_turns cannot be negative (got %d)", c.MaxTurns)
	}
	return nil
}

// Merge overlays non-zero fields of other onto c. Used when Start is called
// for a project whose loop is already enabled: config is merged, not replaced.
//
// EnableIsolation merges asymmetrically: false is indistinguishable from
// unset, so a merge can turn isolation on but never off. Turning it off takes
// a stop and a fresh Start.
func (c *Config) Merge(other Config) {
	if other.EnableIsolation {
		c.EnableIsolation = true
	}
	if other.PollInterval != 0 {
		c.PollInterval = other.PollInterval
	}
	if other.MaxConcurrent != 0 {
		c.MaxConcurrent = other.MaxConcurrent
	}
	if other.RateLimitBuffer != 0 {
		c.RateLimitBuffer = other.RateLimitBuffer
	}
	if other.DefaultModel != "" {
		c.DefaultModel = other.DefaultModel
	}
	if other.WorktreeRoot != "" {
		c.WorktreeRoot = other.WorktreeRoot
	}
	if other.MaxTurns != 0 {
		c.MaxTurns = other.MaxTurns
	}
}
