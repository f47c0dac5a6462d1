// Package config owns the persisted SkillPort configuration and the
// layout of the state directory. Environment variables override file
// values; the file is created on first use.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/skillport-dev/skillport/internal/fsutil"
	"github.com/skillport-dev/skillport/internal/skerr"
)

// Config is the persisted config.json document. It may carry an auth
// token, so the file is written owner-only.
type Config struct {
	MarketplaceURL string    `json:"marketplace_url"`
	AuthToken      string    `json:"auth_token,omitempty"`
	TokenExpiry    time.Time `json:"token_expiry,omitzero"`
	DefaultKeyID   string    `json:"default_key_id,omitempty"`
}

// Env carries the process environment overrides.
type Env struct {
	Home           string `envconfig:"SKILLPORT_HOME"`
	APIURL         string `envconfig:"SKILLPORT_API_URL"`
	AuthToken      string `envconfig:"SKILLPORT_AUTH_TOKEN"`
	OpenClawSkills string `envconfig:"OPENCLAW_SKILLS_DIR"`
	ClaudeSkills   string `envconfig:"CLAUDE_SKILLS_DIR"`
	Agent          string `envconfig:"SKILLPORT_AGENT"`
	MCP            string `envconfig:"SKILLPORT_MCP"`
	ClaudeCode     string `envconfig:"CLAUDE_CODE"`
	NonInteractive bool   `envconfig:"SKILLPORT_NON_INTERACTIVE"`
}

// LoadEnv reads the environment overrides.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, skerr.Wrap(skerr.CodeInternal, err, "read environment")
	}
	return env, nil
}

// DefaultConfig returns a fresh config document.
func DefaultConfig() Config {
	return Config{MarketplaceURL: "https://market.skillport.dev"}
}

// Ensure loads the config at path, creating it with defaults when absent.
func Ensure(home, path string) (Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	cfg = DefaultConfig()
	if err := Save(home, path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses config.json.
func Load(path string) (Config, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(blob, &cfg); err != nil {
		return Config{}, skerr.Wrap(skerr.CodeInputInvalid, err, "parse config")
	}
	return cfg, nil
}

// Save writes config.json owner-only.
func Save(home, path string, cfg Config) error {
	blob, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return skerr.Wrap(skerr.CodeInternal, err, "encode config")
	}
	if err := EnsureLayout(home); err != nil {
		return err
	}
	return fsutil.AtomicWrite(path, append(blob, '\n'), 0o600)
}

// Resolve merges file config with environment overrides.
func Resolve(cfg Config, env Env) Config {
	if env.APIURL != "" {
		cfg.MarketplaceURL = env.APIURL
	}
	if env.AuthToken != "" {
		cfg.AuthToken = env.AuthToken
	}
	return cfg
}
