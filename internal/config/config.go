package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds client settings for the local store and the sync engine
type Config struct {
	ServerURL string `yaml:"server_url" json:"server_url"` // Remote gateway base URL
	APIToken  string `yaml:"api_token" json:"api_token"`   // Bearer token sent to the gateway
	DBPath    string `yaml:"db_path" json:"db_path"`       // Local durable store file

	// Sync timing
	DrainInterval   time.Duration `yaml:"drain_interval" json:"drain_interval"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	ProbeInterval   time.Duration `yaml:"probe_interval" json:"probe_interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout"`

	MaxRetries   int `yaml:"max_retries" json:"max_retries"`     // Attempts before a queued mutation is abandoned
	MessageLimit int `yaml:"message_limit" json:"message_limit"` // Messages kept by a snapshot pull

	// Logging configuration
	LogLevel   string `yaml:"log_level" json:"log_level"`     // Log level: DEBUG, INFO, WARN, ERROR
	LogFile    string `yaml:"log_file" json:"log_file"`       // Path to log file
	LogConsole bool   `yaml:"log_console" json:"log_console"` // Enable console logging
}

// Dir returns the irondesk home directory (~/.irondesk)
func Dir() (string, error) {
	if dir := os.Getenv("IRONDESK_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".irondesk"), nil
}

// DefaultConfig returns default settings with environment overrides applied
func DefaultConfig() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

func defaults() *Config {
	dir, _ := Dir()
	logPath, dbPath := "", "irondesk.db"
	if dir != "" {
		logPath = filepath.Join(dir, "logs", "irondesk.log")
		dbPath = filepath.Join(dir, "irondesk.db")
	}

	return &Config{
		ServerURL:       "http://localhost:8080",
		DBPath:          dbPath,
		DrainInterval:   5 * time.Second,
		RefreshInterval: 30 * time.Second,
		ProbeInterval:   10 * time.Second,
		RequestTimeout:  30 * time.Second,
		MaxRetries:      3,
		MessageLimit:    500,
		LogLevel:        "INFO",
		LogFile:         logPath,
	}
}

// applyEnv overrides settings from IRONDESK_* environment variables
func (c *Config) applyEnv() {
	c.ServerURL = getEnv("IRONDESK_SERVER_URL", c.ServerURL)
	c.APIToken = getEnv("IRONDESK_API_TOKEN", c.APIToken)
	c.DBPath = getEnv("IRONDESK_DB_PATH", c.DBPath)
	c.LogLevel = getEnv("IRONDESK_LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("IRONDESK_LOG_FILE", c.LogFile)
	c.LogConsole = getEnv("IRONDESK_LOG_CONSOLE", strconv.FormatBool(c.LogConsole)) == "true"

	c.DrainInterval = getEnvDuration("IRONDESK_DRAIN_INTERVAL", c.DrainInterval)
	c.RefreshInterval = getEnvDuration("IRONDESK_REFRESH_INTERVAL", c.RefreshInterval)
	c.ProbeInterval = getEnvDuration("IRONDESK_PROBE_INTERVAL", c.ProbeInterval)
	c.RequestTimeout = getEnvDuration("IRONDESK_REQUEST_TIMEOUT", c.RequestTimeout)

	c.MaxRetries = getEnvInt("IRONDESK_MAX_RETRIES", c.MaxRetries)
	c.MessageLimit = getEnvInt("IRONDESK_MESSAGE_LIMIT", c.MessageLimit)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return defaultValue
	}
	return n
}

// Validate rejects settings the sync engine cannot run with
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.DrainInterval <= 0 || c.RefreshInterval <= 0 || c.ProbeInterval <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.MessageLimit < 1 {
		return fmt.Errorf("message_limit must be at least 1, got %d", c.MessageLimit)
	}
	return nil
}

// Path returns the config file location (~/.irondesk/config.yaml)
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load loads config from ~/.irondesk/config.yaml
func Load() (*Config, error) {
	configPath, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(configPath)
}

// LoadFile loads config from path, falling back to defaults when it does not
// exist. Environment variables win over the file.
func LoadFile(configPath string) (*Config, error) {
	cfg, err := LoadStoredFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// LoadStored loads ~/.irondesk/config.yaml without environment overrides
func LoadStored() (*Config, error) {
	configPath, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadStoredFile(configPath)
}

// LoadStoredFile returns defaults merged with the file at path and nothing
// else. Use it for configs that are about to be saved.
func LoadStoredFile(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save saves config to ~/.irondesk/config.yaml
func (c *Config) Save() error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	return c.SaveFile(configPath)
}

// SaveFile writes config to path
func (c *Config) SaveFile(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// the file may hold an API token
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
