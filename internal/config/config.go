// Package config loads and validates the support desk configuration
// from JSON, with ${VAR} and ${VAR:-default} environment substitution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for the support desk.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Store    StoreConfig    `json:"store"`
	Channels ChannelsConfig `json:"channels"`
	Support  SupportConfig  `json:"support"`
	Events   EventsConfig   `json:"events"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	DataDir             string `json:"dataDir"`
	LogLevel            string `json:"logLevel"`
	LogFile             string `json:"logFile,omitempty"` // optional log file path
	MaxConcurrentEvents int    `json:"maxConcurrentEvents"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Console  ConsoleConfig  `json:"console"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

type ConsoleConfig struct {
	Enabled bool `json:"enabled"`
}

// SupportConfig tunes the routing behavior.
type SupportConfig struct {
	// Languages customers can pick and agents can register, in the
	// order they appear in the picker.
	Languages []string `json:"languages"`
	// RepliesDir holds optional YAML reply-template overrides.
	RepliesDir string `json:"repliesDir,omitempty"`
	// HistoryReplayLimit caps how many transcript lines a claiming
	// agent receives.
	HistoryReplayLimit int `json:"historyReplayLimit"`
	// QueryPreviewLen caps the initial-query excerpt in offers and
	// listings.
	QueryPreviewLen int `json:"queryPreviewLen"`
}

// EventsConfig configures the RabbitMQ lifecycle event publisher.
type EventsConfig struct {
	Enabled           bool   `json:"enabled"`
	URL               string `json:"url,omitempty"`
	Exchange          string `json:"exchange"`
	RetryAttempts     int    `json:"retryAttempts"`
	RetryDelaySeconds int    `json:"retryDelaySeconds"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.supportdesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".supportdesk"
	}
	return filepath.Join(home, ".supportdesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Support.RepliesDir = ExpandPath(cfg.Support.RepliesDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentEvents < 1 || cfg.General.MaxConcurrentEvents > 100 {
		errs = append(errs, "general.maxConcurrentEvents must be between 1 and 100")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath must not be empty")
	}

	if len(cfg.Support.Languages) == 0 {
		errs = append(errs, "support.languages must list at least one language code")
	}
	for _, l := range cfg.Support.Languages {
		if strings.TrimSpace(l) == "" {
			errs = append(errs, "support.languages must not contain empty codes")
			break
		}
	}
	if cfg.Support.HistoryReplayLimit < 1 {
		errs = append(errs, "support.historyReplayLimit must be >= 1")
	}
	if cfg.Support.QueryPreviewLen < 1 {
		errs = append(errs, "support.queryPreviewLen must be >= 1")
	}

	if cfg.Events.Enabled {
		if cfg.Events.URL == "" {
			errs = append(errs, "events.url is required when events are enabled")
		}
		if cfg.Events.Exchange == "" {
			errs = append(errs, "events.exchange is required when events are enabled")
		}
	}
	if cfg.Events.RetryAttempts < 0 {
		errs = append(errs, "events.retryAttempts must be >= 0")
	}

	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
