// Package config provides configuration loading for deadlined.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variables (SECTION_FIELD, e.g. INGESTION_POLL_INTERVAL).
package config

import (
	"errors"
	"fmt"
	"time"
)

// Missed-trigger policies.
const (
	MissedPolicyDrop    = "drop"
	MissedPolicyCatchUp = "catch-up"
)

// Config holds the complete deadlined configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
	Extraction    ExtractionConfig    `koanf:"extraction"`
	Ingestion     IngestionConfig     `koanf:"ingestion"`
	Notify        NotifyConfig        `koanf:"notify"`
	Store         StoreConfig         `koanf:"store"`
	NATS          NATSConfig          `koanf:"nats"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// SchedulerConfig controls the reminder engine.
type SchedulerConfig struct {
	DispatchTimeout Duration `koanf:"dispatch_timeout"`
	MissedPolicy    string   `koanf:"missed_policy"`
	CatchUpWindow   Duration `koanf:"catch_up_window"`
	// Timezone is the IANA zone used to render due times in notification bodies.
	Timezone string `koanf:"timezone"`
}

// ExtractionConfig selects and configures the text interpreters.
type ExtractionConfig struct {
	// Provider forces a single interpreter ("cloud", "local", "pattern").
	// Empty means the full chain.
	Provider        string   `koanf:"provider"`
	CloudProvider   string   `koanf:"cloud_provider"` // "groq" or "anthropic"
	GroqAPIKey      Secret   `koanf:"groq_api_key"`
	GroqModel       string   `koanf:"groq_model"`
	GroqBaseURL     string   `koanf:"groq_base_url"`
	AnthropicAPIKey Secret   `koanf:"anthropic_api_key"`
	AnthropicModel  string   `koanf:"anthropic_model"`
	OllamaURL       string   `koanf:"ollama_url"`
	OllamaModel     string   `koanf:"ollama_model"`
	// ChatModel answers deadline questions; it defaults to OllamaModel.
	ChatModel string `koanf:"chat_model"`
	Timeout         Duration `koanf:"timeout"`
}

// IngestionConfig controls source polling and the rules attached to
// deadlines created from ingested text.
type IngestionConfig struct {
	PollInterval   Duration `koanf:"poll_interval"`
	StopGrace      Duration `koanf:"stop_grace"`
	DedupCapacity  int      `koanf:"dedup_capacity"`
	DefaultOffsets []int64  `koanf:"default_offsets"`
	DropDir        string   `koanf:"drop_dir"`
	// NATSSources lists source names fed over NATS subjects.
	NATSSources []string `koanf:"nats_sources"`
}

// NotifyConfig configures notification channels.
type NotifyConfig struct {
	DesktopEnabled   bool   `koanf:"desktop_enabled"`
	OneSignalAppID   string `koanf:"onesignal_app_id"`
	OneSignalAPIKey  Secret `koanf:"onesignal_api_key"`
	TwilioAccountSID string `koanf:"twilio_account_sid"`
	TwilioAuthToken  Secret `koanf:"twilio_auth_token"`
	TwilioFrom       string `koanf:"twilio_from"`
	TwilioTo         string `koanf:"twilio_to"`
}

// StoreConfig selects the deadline store.
type StoreConfig struct {
	Driver string `koanf:"driver"` // "sqlite" or "memory"
	Path   string `koanf:"path"`
}

// NATSConfig holds event bus configuration.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Location resolves the configured display timezone.
func (c *SchedulerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Scheduler.DispatchTimeout <= 0 {
		return errors.New("scheduler dispatch timeout must be positive")
	}
	switch c.Scheduler.MissedPolicy {
	case MissedPolicyDrop, MissedPolicyCatchUp:
	default:
		return fmt.Errorf("invalid missed_policy %q (must be %q or %q)",
			c.Scheduler.MissedPolicy, MissedPolicyDrop, MissedPolicyCatchUp)
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
	}

	switch c.Extraction.Provider {
	case "", "cloud", "local", "pattern":
	default:
		return fmt.Errorf("invalid extraction provider %q", c.Extraction.Provider)
	}
	switch c.Extraction.CloudProvider {
	case "groq", "anthropic":
	default:
		return fmt.Errorf("invalid cloud_provider %q (must be groq or anthropic)", c.Extraction.CloudProvider)
	}

	if c.Ingestion.PollInterval <= 0 {
		return errors.New("ingestion poll interval must be positive")
	}
	if len(c.Ingestion.DefaultOffsets) == 0 {
		return errors.New("ingestion default_offsets cannot be empty")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store path required for sqlite driver")
		}
	default:
		return fmt.Errorf("invalid store driver %q", c.Store.Driver)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}
