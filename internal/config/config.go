// Package config loads runtime settings from .env, the environment and an
// optional YAML file, in that order of increasing precedence for tunables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vthunder/budintel/internal/logging"
)

// ErrMissingCredentials is returned when a selected backend lacks credentials
var ErrMissingCredentials = errors.New("missing required credentials")

// Calendar backends
const (
	CalendarLocal  = "local"
	CalendarGoogle = "google"
)

// Config holds everything the binaries need to wire the system
type Config struct {
	StatePath string `yaml:"state_path"`

	CalendarBackend       string `yaml:"calendar_backend"`
	GoogleCredentialsFile string `yaml:"-"`
	GoogleCalendarID      string `yaml:"-"`

	OllamaURL       string `yaml:"ollama_url"`
	ClassifierModel string `yaml:"classifier_model"`

	DiscordToken   string `yaml:"-"`
	DiscordChannel string `yaml:"discord_channel"`
	DiscordOwner   string `yaml:"discord_owner"`

	Timezone string `yaml:"timezone"`

	// off, minimal or detailed
	ProfilingLevel string `yaml:"profiling_level"`

	Intelligence Intelligence `yaml:"intelligence"`
}

// Intelligence holds coordinator tunables
type Intelligence struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	CorrelationMaxAge time.Duration `yaml:"correlation_max_age"`
	HistoryTurns      int           `yaml:"history_turns"`
	MessageTimeout    time.Duration `yaml:"message_timeout"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		StatePath:       "state",
		CalendarBackend: CalendarLocal,
		OllamaURL:       "http://localhost:11434",
		ClassifierModel: "qwen2.5:7b",
		Timezone:        "UTC",
		ProfilingLevel:  "off",
		Intelligence: Intelligence{
			ReconcileInterval: 5 * time.Minute,
			QueueCapacity:     100,
			CorrelationMaxAge: 24 * time.Hour,
			HistoryTurns:      10,
			MessageTimeout:    2 * time.Minute,
			FetchTimeout:      30 * time.Second,
		},
	}
}

// Load reads .env (optional), the environment, then BUD_CONFIG if set
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug("config", "No .env file found, using environment variables")
	} else {
		logging.Info("config", "Loaded .env file")
	}

	cfg := Defaults()
	cfg.applyEnv()

	if path := os.Getenv("BUD_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.StatePath, "STATE_PATH")
	setString(&c.CalendarBackend, "CALENDAR_BACKEND")
	setString(&c.GoogleCredentialsFile, "GOOGLE_CALENDAR_CREDENTIALS_FILE")
	setString(&c.GoogleCalendarID, "GOOGLE_CALENDAR_ID")
	setString(&c.OllamaURL, "OLLAMA_URL")
	setString(&c.ClassifierModel, "CLASSIFIER_MODEL")
	setString(&c.DiscordToken, "DISCORD_TOKEN")
	setString(&c.DiscordChannel, "DISCORD_CHANNEL_ID")
	setString(&c.DiscordOwner, "DISCORD_OWNER_ID")
	setString(&c.Timezone, "USER_TIMEZONE")
	setString(&c.ProfilingLevel, "PROFILING_LEVEL")

	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Intelligence.ReconcileInterval = d
		} else {
			logging.Warn("config", "Ignoring RECONCILE_INTERVAL=%q: %v", v, err)
		}
	}
	if v := os.Getenv("MESSAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Intelligence.MessageTimeout = d
		} else {
			logging.Warn("config", "Ignoring MESSAGE_TIMEOUT=%q: %v", v, err)
		}
	}
	if v := os.Getenv("UPDATE_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Intelligence.QueueCapacity = n
		} else {
			logging.Warn("config", "Ignoring UPDATE_QUEUE_CAPACITY=%q: %v", v, err)
		}
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	logging.Info("config", "Loaded %s", path)
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Location resolves the configured timezone, falling back to UTC
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that every selected backend has its credentials.
// withDiscord adds the Discord transport to the checked set.
func (c Config) Validate(withDiscord bool) error {
	switch c.CalendarBackend {
	case CalendarLocal:
	case CalendarGoogle:
		if c.GoogleCredentialsFile == "" || c.GoogleCalendarID == "" {
			return fmt.Errorf("google calendar backend needs GOOGLE_CALENDAR_CREDENTIALS_FILE and GOOGLE_CALENDAR_ID: %w", ErrMissingCredentials)
		}
	default:
		return fmt.Errorf("unknown calendar backend %q", c.CalendarBackend)
	}
	if withDiscord && c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN environment variable required: %w", ErrMissingCredentials)
	}
	if c.Intelligence.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.Intelligence.QueueCapacity)
	}
	if c.Intelligence.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %v", c.Intelligence.ReconcileInterval)
	}
	return nil
}
