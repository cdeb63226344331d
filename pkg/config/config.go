// Package config loads taskmind configuration: defaults, overlaid by an
// optional JSON file, overlaid by TASKMIND_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Store    StoreConfig    `json:"store"`
	Gateway  GatewayConfig  `json:"gateway"`
	Reminder ReminderConfig `json:"reminder"`
	Log      LogConfig      `json:"log"`
}

type AgentConfig struct {
	Model               string `json:"model" env:"TASKMIND_AGENT_MODEL"`
	RoleDescription     string `json:"role_description" env:"TASKMIND_AGENT_ROLE_DESCRIPTION"`
	Qualifier           string `json:"qualifier" env:"TASKMIND_AGENT_QUALIFIER"`
	MaxUpdateIterations int    `json:"max_update_iterations" env:"TASKMIND_AGENT_MAX_UPDATE_ITERATIONS"`
	TodoBlockLimit      int    `json:"todo_block_limit" env:"TASKMIND_AGENT_TODO_BLOCK_LIMIT"`
}

type ProviderConfig struct {
	APIKey string `json:"api_key" env:"TASKMIND_PROVIDER_API_KEY"`
	Model  string `json:"model" env:"TASKMIND_PROVIDER_MODEL"`
}

type StoreConfig struct {
	// Path is the SQLite database file. The literal value "memory"
	// selects the in-process store instead.
	Path string `json:"path" env:"TASKMIND_STORE_PATH"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"TASKMIND_GATEWAY_HOST"`
	Port int    `json:"port" env:"TASKMIND_GATEWAY_PORT"`
}

type ReminderConfig struct {
	Enabled bool `json:"enabled" env:"TASKMIND_REMINDER_ENABLED"`
	// Cron is a standard five-field cron expression for reminder sweeps.
	Cron string `json:"cron" env:"TASKMIND_REMINDER_CRON"`
}

type LogConfig struct {
	Level string `json:"level" env:"TASKMIND_LOG_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Qualifier:           "general",
			MaxUpdateIterations: 8,
			TodoBlockLimit:      0,
		},
		Provider: ProviderConfig{},
		Store: StoreConfig{
			Path: "~/.taskmind/taskmind.db",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Reminder: ReminderConfig{
			Enabled: false,
			Cron:    "*/30 * * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path if it exists, then applies environment overrides.
// A missing file is not an error; defaults still apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StorePath resolves the configured database path with ~ expansion.
func (c *Config) StorePath() string {
	return expandHome(c.Store.Path)
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
