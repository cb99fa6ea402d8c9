// Package config holds the runtime configuration handed to the core at
// construction. Values resolve in three layers: built-in defaults, an
// optional YAML file, then environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	MaxAgents          int `yaml:"max_agents"`
	CycleTimeoutS      int `yaml:"cycle_timeout_s"`
	ToolTimeoutS       int `yaml:"tool_timeout_s"`
	HistoryCap         int `yaml:"history_cap"`
	HeartbeatIntervalS int `yaml:"heartbeat_interval_s"`

	PromptTablePath string `yaml:"prompt_table_path"`
	MemoryDBPath    string `yaml:"memory_db_path"`
	MCPConfigPath   string `yaml:"mcp_config_path"`

	WebHost         string `yaml:"web_host"`
	WebPort         int    `yaml:"web_port"`
	SessionTTLMin   int    `yaml:"session_ttl_minutes"`
	ChatWaitTimeout int    `yaml:"chat_wait_timeout_s"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxAgents:          20,
		CycleTimeoutS:      120,
		ToolTimeoutS:       30,
		HistoryCap:         1000,
		HeartbeatIntervalS: 30,
		PromptTablePath:    "config/prompts.json",
		MemoryDBPath:       "localhive.db",
		MCPConfigPath:      "mcp.json",
		WebHost:            "127.0.0.1", // localhost by default; a local-first tool must opt in to LAN exposure
		WebPort:            8000,
		SessionTTLMin:      30,
		ChatWaitTimeout:    30,
		LogLevel:           "info",
	}
}

// Load resolves the configuration: defaults, then the YAML file at path (if
// it exists), then environment overrides. Validation errors mean the
// process must refuse to start (exit code 2 in the binary).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Optional file; defaults apply.
		default:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envInt("MAX_AGENTS", &cfg.MaxAgents)
	envInt("CYCLE_TIMEOUT_S", &cfg.CycleTimeoutS)
	envInt("TOOL_TIMEOUT_S", &cfg.ToolTimeoutS)
	envInt("HISTORY_CAP", &cfg.HistoryCap)
	envInt("HEARTBEAT_INTERVAL_S", &cfg.HeartbeatIntervalS)
	envStr("PROMPTS_PATH", &cfg.PromptTablePath)
	envStr("MEMORY_DB_PATH", &cfg.MemoryDBPath)
	envStr("MCP_CONFIG", &cfg.MCPConfigPath)
	envStr("WEB_HOST", &cfg.WebHost)
	envInt("WEB_PORT", &cfg.WebPort)
	envInt("SESSION_TTL_MINUTES", &cfg.SessionTTLMin)
	envInt("CHAT_WAIT_TIMEOUT_S", &cfg.ChatWaitTimeout)
	envStr("LOG_LEVEL", &cfg.LogLevel)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c Config) Validate() error {
	if c.MaxAgents <= 0 {
		return fmt.Errorf("max_agents must be positive, got %d", c.MaxAgents)
	}
	if c.CycleTimeoutS <= 0 {
		return fmt.Errorf("cycle_timeout_s must be positive, got %d", c.CycleTimeoutS)
	}
	if c.ToolTimeoutS <= 0 {
		return fmt.Errorf("tool_timeout_s must be positive, got %d", c.ToolTimeoutS)
	}
	if c.HistoryCap <= 0 {
		return fmt.Errorf("history_cap must be positive, got %d", c.HistoryCap)
	}
	if c.HeartbeatIntervalS <= 0 {
		return fmt.Errorf("heartbeat_interval_s must be positive, got %d", c.HeartbeatIntervalS)
	}
	if c.WebPort <= 0 || c.WebPort > 65535 {
		return fmt.Errorf("web_port out of range: %d", c.WebPort)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	return nil
}

// Durations derived from the integer-second fields.

func (c Config) CycleTimeout() time.Duration      { return time.Duration(c.CycleTimeoutS) * time.Second }
func (c Config) ToolTimeout() time.Duration       { return time.Duration(c.ToolTimeoutS) * time.Second }
func (c Config) HeartbeatInterval() time.Duration { return time.Duration(c.HeartbeatIntervalS) * time.Second }
func (c Config) SessionTTL() time.Duration        { return time.Duration(c.SessionTTLMin) * time.Minute }
func (c Config) ChatWait() time.Duration          { return time.Duration(c.ChatWaitTimeout) * time.Second }
