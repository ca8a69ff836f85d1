// Package config loads and validates sergeantd's configuration, following
// the teacher's pattern of a YAML file with a DefaultConfig fallback
// (internal/aider/config.go in the example this repo is built from).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LongPollConfig tunes the get_next_task dispatcher (spec.md §4.5.3, §6.3).
type LongPollConfig struct {
	TimeToWaitForTask time.Duration `yaml:"time_to_wait_for_task" json:"time_to_wait_for_task"`
	PollingInterval   time.Duration `yaml:"polling_interval" json:"polling_interval"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
}

// ProductionLongPoll returns the spec's production defaults.
func ProductionLongPoll() LongPollConfig {
	return LongPollConfig{
		TimeToWaitForTask: 5 * time.Minute,
		PollingInterval:   1 * time.Second,
		MaxRetries:        10,
	}
}

// TestLongPoll returns the spec's test defaults.
func TestLongPoll() LongPollConfig {
	return LongPollConfig{
		TimeToWaitForTask: 100 * time.Millisecond,
		PollingInterval:   10 * time.Millisecond,
		MaxRetries:        50,
	}
}

// OverflowPolicy names an event-bus subscriber overflow strategy.
type OverflowPolicy string

const (
	OverflowBlock      OverflowPolicy = "block"
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowCoalesce   OverflowPolicy = "coalesce"
)

// SubscriberConfig configures one named category of event-bus subscriber.
type SubscriberConfig struct {
	Capacity int            `yaml:"capacity" json:"capacity"`
	Overflow OverflowPolicy `yaml:"overflow" json:"overflow"`
}

// DefaultSubscriberConfig is the spec's default (capacity 64, block).
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{Capacity: 64, Overflow: OverflowBlock}
}

// EventBusConfig configures per-category subscriber defaults.
type EventBusConfig struct {
	Subscribers map[string]SubscriberConfig `yaml:"subscribers" json:"subscribers"`
}

// ForCategory returns the configured subscriber settings for a category,
// falling back to the default when unset.
func (c EventBusConfig) ForCategory(name string) SubscriberConfig {
	if sc, ok := c.Subscribers[name]; ok {
		return sc
	}
	return DefaultSubscriberConfig()
}

// ServerConfig holds network listener settings.
type ServerConfig struct {
	Port     int `yaml:"port" json:"port"`
	NATSPort int `yaml:"nats_port" json:"nats_port"`
}

// DatabaseConfig names the on-disk store location (spec.md §6.3).
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// SubprocessConfig tunes agent-kill behavior for processes with a PID.
type SubprocessConfig struct {
	KillGracePeriod time.Duration `yaml:"kill_grace_period" json:"kill_grace_period"`
}

// PersonaConfig names a persona and its launch parameters. The launcher
// (internal/launcher) runs Command when spawning agents for that persona;
// Model is carried in configuration but not read by the launcher.
type PersonaConfig struct {
	Name    string `yaml:"name" json:"name"`
	Model   string `yaml:"model" json:"model"`
	Command string `yaml:"command" json:"command"`
}

// Config is sergeantd's root configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server" json:"server"`
	Database   DatabaseConfig    `yaml:"database" json:"database"`
	LongPoll   LongPollConfig    `yaml:"long_poll" json:"long_poll"`
	EventBus   EventBusConfig    `yaml:"event_bus" json:"event_bus"`
	Subprocess SubprocessConfig  `yaml:"subprocess" json:"subprocess"`
	Personas   []PersonaConfig   `yaml:"personas" json:"personas"`
	LogLevel   string            `yaml:"log_level" json:"log_level"`
	LogJSON    bool              `yaml:"log_json" json:"log_json"`
}

// DefaultConfig returns sergeantd's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			NATSPort: 4222,
		},
		Database: DatabaseConfig{
			Path: "data/sergeant.db",
		},
		LongPoll: ProductionLongPoll(),
		EventBus: EventBusConfig{
			Subscribers: map[string]SubscriberConfig{
				"task":  DefaultSubscriberConfig(),
				"agent": DefaultSubscriberConfig(),
				"audit": {Capacity: 256, Overflow: OverflowDropOldest},
			},
		},
		Subprocess: SubprocessConfig{
			KillGracePeriod: 5 * time.Second,
		},
		Personas: []PersonaConfig{
			{Name: "implementer", Command: "agent"},
			{Name: "reviewer", Command: "agent"},
			{Name: "planner", Command: "agent"},
		},
		LogLevel: "info",
	}
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks invariants on the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.NATSPort <= 0 || c.Server.NATSPort > 65535 {
		return fmt.Errorf("invalid NATS port: %d", c.Server.NATSPort)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.LongPoll.MaxRetries <= 0 {
		return fmt.Errorf("long_poll.max_retries must be positive")
	}
	if c.LongPoll.TimeToWaitForTask <= 0 {
		return fmt.Errorf("long_poll.time_to_wait_for_task must be positive")
	}
	if c.LongPoll.PollingInterval <= 0 {
		return fmt.Errorf("long_poll.polling_interval must be positive")
	}
	return nil
}
