package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the tunable runtime settings for the agent service.
type Config struct {
	Model                 string  `yaml:"model"`
	TitleModel            string  `yaml:"title_model"`
	BaseURL               string  `yaml:"base_url"`
	APIKeyEnv             string  `yaml:"api_key_env"`
	Temperature           float64 `yaml:"temperature"`
	SystemPrompt          string  `yaml:"system_prompt"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	MaxIterations         int     `yaml:"max_iterations"`
	BashTimeoutMillis     int     `yaml:"bash_timeout_ms"`
	ListenAddr            string  `yaml:"listen_addr"`
	StorePath             string  `yaml:"store_path"`
	HistoryPath           string  `yaml:"history_path"`
	LogPath               string  `yaml:"log_path"`
	WorkspaceRoot         string  `yaml:"workspace_root"`
}

// ConfigDir resolves the per-user configuration directory, honouring
// RELAY_CONFIG_DIR for tests and sandboxes.
func ConfigDir() string {
	if dir := os.Getenv("RELAY_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relay"
	}
	return filepath.Join(home, ".relay")
}

// Load reads the YAML configuration from disk and injects sane defaults.
// A missing file is not an error: defaults are returned.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("RELAY_CONFIG_PATH")
	}
	if path == "" {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fall through to defaults
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config back to its YAML file.
func Save(cfg Config, path string) error {
	if path == "" {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "deepseek/deepseek-chat-v3-0324"
	}
	if c.TitleModel == "" {
		c.TitleModel = c.Model
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "RELAY_API_KEY"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 90
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.BashTimeoutMillis <= 0 {
		c.BashTimeoutMillis = 30000
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:3737"
	}
	if c.StorePath == "" {
		c.StorePath = filepath.Join(ConfigDir(), "relay.db")
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(ConfigDir(), ".history")
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(ConfigDir(), "relay.log")
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "."
	}
}

func (c Config) validate() error {
	if c.Temperature < 0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0 and 2.0 (got %f)", c.Temperature)
	}
	if c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.MaxIterations > 100 {
		return fmt.Errorf("max_iterations cannot exceed 100")
	}
	if c.BashTimeoutMillis > 600_000 {
		return fmt.Errorf("bash_timeout_ms cannot exceed 600000 (10 minutes)")
	}
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("store_path must be set")
	}
	return nil
}

// RequestTimeout turns the integer value into a duration for HTTP clients.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// BashTimeout exposes the configured duration for gated shell commands.
func (c Config) BashTimeout() time.Duration {
	return time.Duration(c.BashTimeoutMillis) * time.Millisecond
}

// APIKey reads the provider credential from the configured environment variable.
func (c Config) APIKey() string {
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}
