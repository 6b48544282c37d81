// Package config loads service configuration from a YAML file with
// environment variable overrides for deployment settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables for the translation backend.
type Config struct {
	// HTTP server
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// External AI service (transcription, translation, expert answers)
	AIServiceURL     string        `yaml:"ai_service_url"`
	AIServiceTimeout time.Duration `yaml:"ai_service_timeout"`

	// Optional Redis backing for the conversation record store and
	// the L2 context cache. Empty address disables both.
	RedisAddress  string `yaml:"redis_address"`
	RedisPassword string `yaml:"redis_password"`

	// Session engine
	Session SessionConfig `yaml:"session"`

	// Directories
	ExportDirectory string `yaml:"export_directory"`
	LogsDirectory   string `yaml:"logs_directory"`
}

// SessionConfig holds the session memory engine tunables.
type SessionConfig struct {
	// MaxContextMessages caps how many messages a context read returns.
	MaxContextMessages int `yaml:"max_context_messages"`
	// SlidingWindow bounds how far back context reads look.
	SlidingWindow time.Duration `yaml:"sliding_window"`
	// IdleThreshold is how long a session may sit inactive before the
	// lifecycle manager exports and evicts it.
	IdleThreshold time.Duration `yaml:"idle_threshold"`
	// SweepInterval is the lifecycle manager's cycle period.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// UnmarshalYAML decodes durations from "30m" style strings; yaml.v3 has
// no native time.Duration support.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Port             string        `yaml:"port"`
		ReadTimeout      string        `yaml:"read_timeout"`
		WriteTimeout     string        `yaml:"write_timeout"`
		AIServiceURL     string        `yaml:"ai_service_url"`
		AIServiceTimeout string        `yaml:"ai_service_timeout"`
		RedisAddress     string        `yaml:"redis_address"`
		RedisPassword    string        `yaml:"redis_password"`
		Session          SessionConfig `yaml:"session"`
		ExportDirectory  string        `yaml:"export_directory"`
		LogsDirectory    string        `yaml:"logs_directory"`
	}
	raw.Session = c.Session
	if err := value.Decode(&raw); err != nil {
		return err
	}

	setString(&c.Port, raw.Port)
	setString(&c.AIServiceURL, raw.AIServiceURL)
	setString(&c.RedisAddress, raw.RedisAddress)
	setString(&c.RedisPassword, raw.RedisPassword)
	setString(&c.ExportDirectory, raw.ExportDirectory)
	setString(&c.LogsDirectory, raw.LogsDirectory)
	c.Session = raw.Session

	if err := setDuration(&c.ReadTimeout, raw.ReadTimeout); err != nil {
		return fmt.Errorf("read_timeout: %w", err)
	}
	if err := setDuration(&c.WriteTimeout, raw.WriteTimeout); err != nil {
		return fmt.Errorf("write_timeout: %w", err)
	}
	if err := setDuration(&c.AIServiceTimeout, raw.AIServiceTimeout); err != nil {
		return fmt.Errorf("ai_service_timeout: %w", err)
	}
	return nil
}

// UnmarshalYAML keeps fields absent from the file at their current
// values, so file settings layer over defaults.
func (sc *SessionConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxContextMessages *int   `yaml:"max_context_messages"`
		SlidingWindow      string `yaml:"sliding_window"`
		IdleThreshold      string `yaml:"idle_threshold"`
		SweepInterval      string `yaml:"sweep_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.MaxContextMessages != nil {
		sc.MaxContextMessages = *raw.MaxContextMessages
	}
	if err := setDuration(&sc.SlidingWindow, raw.SlidingWindow); err != nil {
		return fmt.Errorf("sliding_window: %w", err)
	}
	if err := setDuration(&sc.IdleThreshold, raw.IdleThreshold); err != nil {
		return fmt.Errorf("idle_threshold: %w", err)
	}
	if err := setDuration(&sc.SweepInterval, raw.SweepInterval); err != nil {
		return fmt.Errorf("sweep_interval: %w", err)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// Default returns the configuration matching the service's stock tuning.
func Default() Config {
	return Config{
		Port:             "8000",
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     60 * time.Second,
		AIServiceURL:     "http://localhost:8100",
		AIServiceTimeout: 45 * time.Second,
		Session: SessionConfig{
			MaxContextMessages: 15,
			SlidingWindow:      30 * time.Minute,
			IdleThreshold:      4 * time.Hour,
			SweepInterval:      30 * time.Minute,
		},
		ExportDirectory: "conversation_exports",
		LogsDirectory:   "logs",
	}
}

// Load reads the YAML file at path (if it exists) over the defaults,
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("AI_SERVICE_URL"); v != "" {
		cfg.AIServiceURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisAddress = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("EXPORT_DIR"); v != "" {
		cfg.ExportDirectory = v
	}
	if v := os.Getenv("LOGS_DIR"); v != "" {
		cfg.LogsDirectory = v
	}
}

func (c Config) validate() error {
	if c.Session.MaxContextMessages <= 0 {
		return fmt.Errorf("max_context_messages must be positive, got %d", c.Session.MaxContextMessages)
	}
	if c.Session.SlidingWindow <= 0 {
		return fmt.Errorf("sliding_window must be positive, got %s", c.Session.SlidingWindow)
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.Session.SweepInterval)
	}
	if c.Session.IdleThreshold <= 0 {
		return fmt.Errorf("idle_threshold must be positive, got %s", c.Session.IdleThreshold)
	}
	return nil
}
