package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/stellarlinkco/chronicle/internal/archive"
)

const (
	DefaultModel          = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens      = 2048
	DefaultMaxIterations  = 1
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 18790
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultPruneSchedule  = "0 4 * * *"
	DefaultRetentionDays  = 30
	DefaultIdleEvictAfter = 60 // minutes
)

type Config struct {
	Log      LogConfig      `json:"log"`
	Store    StoreConfig    `json:"store"`
	Archive  archive.Config `json:"archive"`
	Gateway  GatewayConfig  `json:"gateway"`
	Provider ProviderConfig `json:"provider"`
	Narrator NarratorConfig `json:"narrator"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // console | json
}

type StoreConfig struct {
	DBPath        string `json:"dbPath"`
	PruneSchedule string `json:"pruneSchedule"` // cron spec; empty disables pruning
	RetentionDays int    `json:"retentionDays"`
	IdleEvictMins int    `json:"idleEvictMinutes"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type NarratorConfig struct {
	Model         string `json:"model"`
	MaxTokens     int    `json:"maxTokens"`
	MaxIterations int    `json:"maxIterations"`
	SystemPrompt  string `json:"systemPrompt,omitempty"`
	Workspace     string `json:"workspace"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Store: StoreConfig{
			DBPath:        filepath.Join(ConfigDir(), "chronicle.db"),
			PruneSchedule: DefaultPruneSchedule,
			RetentionDays: DefaultRetentionDays,
			IdleEvictMins: DefaultIdleEvictAfter,
		},
		Archive: archive.DefaultConfig(),
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Narrator: NarratorConfig{
			Model:         DefaultModel,
			MaxTokens:     DefaultMaxTokens,
			MaxIterations: DefaultMaxIterations,
			Workspace:     filepath.Join(ConfigDir(), "workspace"),
		},
	}
}

func ConfigDir() string {
	if dir := os.Getenv("CHRONICLE_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".chronicle")
}

// ConfigPath is CHRONICLE_CONFIG when set, else config.json in ConfigDir.
func ConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("CHRONICLE_CONFIG")); path != "" {
		return path
	}
	return filepath.Join(ConfigDir(), "config.json")
}

// LoadConfig layers defaults, the JSON file, a .env file in the working
// directory and CHRONICLE_* variables, then validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	if err := cfg.loadFile(ConfigPath()); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	applyString("CHRONICLE_LOG_LEVEL", &c.Log.Level)
	applyString("CHRONICLE_LOG_FORMAT", &c.Log.Format)

	applyString("CHRONICLE_DB_PATH", &c.Store.DBPath)
	applyString("CHRONICLE_PRUNE_SCHEDULE", &c.Store.PruneSchedule)
	applyInt("CHRONICLE_RETENTION_DAYS", &c.Store.RetentionDays)
	applyInt("CHRONICLE_IDLE_EVICT_MINUTES", &c.Store.IdleEvictMins)

	applyInt("CHRONICLE_MAX_CURRENT", &c.Archive.MaxCurrent)
	applyInt("CHRONICLE_MAX_RECENT", &c.Archive.MaxRecent)
	applyInt("CHRONICLE_ARCHIVE_INTERVAL", &c.Archive.ArchiveInterval)
	applyInt("CHRONICLE_INJECTION_PERIOD", &c.Archive.InjectionPeriod)
	applyInt("CHRONICLE_TIMELINE_CAP", &c.Archive.TimelineCap)
	applyInt("CHRONICLE_MIN_EVENT_LENGTH", &c.Archive.MinEventLength)
	applyFloat64("CHRONICLE_THREAT_EPSILON", &c.Archive.ThreatEpsilon)
	applyInt("CHRONICLE_MAX_TURN_GAP", &c.Archive.MaxTurnGap)

	applyString("CHRONICLE_HOST", &c.Gateway.Host)
	applyInt("CHRONICLE_PORT", &c.Gateway.Port)

	applyString("CHRONICLE_MODEL", &c.Narrator.Model)
	applyInt("CHRONICLE_MAX_TOKENS", &c.Narrator.MaxTokens)

	// Provider credentials: CHRONICLE_* wins, then the vendor variables.
	applyString("CHRONICLE_API_KEY", &c.Provider.APIKey)
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.Provider.APIKey == "" {
		c.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Provider.APIKey == "" {
		c.Provider.APIKey = key
		if c.Provider.Type == "" {
			c.Provider.Type = "openai"
		}
	}
	applyString("CHRONICLE_PROVIDER", &c.Provider.Type)
	applyString("CHRONICLE_BASE_URL", &c.Provider.BaseURL)
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && c.Provider.BaseURL == "" {
		c.Provider.BaseURL = url
	}
}

func (c *Config) normalize() {
	defaults := DefaultConfig()
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = defaults.Store.DBPath
	}
	if c.Narrator.Workspace == "" {
		c.Narrator.Workspace = defaults.Narrator.Workspace
	}
	if c.Narrator.Model == "" {
		c.Narrator.Model = DefaultModel
	}
	if c.Narrator.MaxTokens <= 0 {
		c.Narrator.MaxTokens = DefaultMaxTokens
	}
	if c.Narrator.MaxIterations <= 0 {
		c.Narrator.MaxIterations = DefaultMaxIterations
	}
	c.Provider.Type = strings.ToLower(strings.TrimSpace(c.Provider.Type))
}

func (c *Config) Validate() error {
	if err := c.Archive.Validate(); err != nil {
		return err
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port %d out of range", c.Gateway.Port)
	}
	if c.Store.RetentionDays < 0 {
		return fmt.Errorf("store retentionDays must be >= 0, got %d", c.Store.RetentionDays)
	}
	if c.Store.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Store.PruneSchedule); err != nil {
			return fmt.Errorf("store pruneSchedule %q: %w", c.Store.PruneSchedule, err)
		}
	}
	switch c.Provider.Type {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("unknown provider type %q", c.Provider.Type)
	}
	return nil
}

func SaveConfig(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}
