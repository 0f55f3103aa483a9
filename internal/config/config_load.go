package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
)

// Env vars recognised by the runtime.
const (
	EnvConfig   = "HIVEMIND_CONFIG"
	EnvDataDir  = "HIVEMIND_DATA_DIR"
	EnvHeadless = "HIVEMIND_LOCALLLM_HEADLESS"
)

// Load reads the config file at path (JSON5), merges it over Default(),
// and applies environment overrides. A missing file is not an error:
// defaults are returned so first runs work without any setup.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		if err == nil {
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvHeadless); v == "1" || strings.EqualFold(v, "true") {
		cfg.LocalLLM.Headless = true
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	return cfg, nil
}

// ArtifactsDir returns <dataDir>/artifacts.
func (c *Config) ArtifactsDir() string { return filepath.Join(c.DataDir, "artifacts") }

// WorkspacesDir returns <dataDir>/workspaces.
func (c *Config) WorkspacesDir() string { return filepath.Join(c.DataDir, "workspaces") }

// ConversationsDir returns <dataDir>/conversations.
func (c *Config) ConversationsDir() string { return filepath.Join(c.DataDir, "conversations") }

// OrgDir returns <dataDir>/org.
func (c *Config) OrgDir() string { return filepath.Join(c.DataDir, "org") }

// ArchivePath returns <dataDir>/archive.db.
func (c *Config) ArchivePath() string { return filepath.Join(c.DataDir, "archive.db") }

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
