package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	appName           = "deadlined"
)

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, INGESTION_POLL_INTERVAL, ...)
//  2. YAML config file (~/.config/deadlined/config.yaml)
//  3. Defaults
//
// The config file must live in ~/.config/deadlined/ or /etc/deadlined/, be
// no larger than 1MB and have 0600 or 0400 permissions.
//
// Environment variables are split on the first underscore only, so
// EXTRACTION_GROQ_API_KEY maps to extraction.groq_api_key.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", appName, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates it through the open
// descriptor to avoid a TOCTOU race between stat and read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// EnsureConfigDir creates ~/.config/deadlined with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", appName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks the path is in an allowed directory. Runs even
// when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", appName) + string(filepath.Separator),
		"/etc/" + appName + "/",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/%s/ or /etc/%s/", appName, appName)
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Scheduler.DispatchTimeout == 0 {
		cfg.Scheduler.DispatchTimeout = Duration(30 * time.Second)
	}
	if cfg.Scheduler.MissedPolicy == "" {
		cfg.Scheduler.MissedPolicy = MissedPolicyDrop
	}
	if cfg.Scheduler.CatchUpWindow == 0 {
		cfg.Scheduler.CatchUpWindow = Duration(time.Hour)
	}

	// Provider credentials also honour the bare variable names the chat and
	// email drivers already use.
	if cfg.Extraction.CloudProvider == "" {
		cfg.Extraction.CloudProvider = "groq"
	}
	if !cfg.Extraction.GroqAPIKey.IsSet() {
		cfg.Extraction.GroqAPIKey = Secret(os.Getenv("GROQ_API_KEY"))
	}
	if cfg.Extraction.GroqModel == "" {
		cfg.Extraction.GroqModel = getEnvString("GROQ_MODEL", "llama-3.3-70b-versatile")
	}
	if cfg.Extraction.GroqBaseURL == "" {
		cfg.Extraction.GroqBaseURL = "https://api.groq.com/openai"
	}
	if !cfg.Extraction.AnthropicAPIKey.IsSet() {
		cfg.Extraction.AnthropicAPIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
	}
	if cfg.Extraction.OllamaURL == "" {
		cfg.Extraction.OllamaURL = getEnvString("OLLAMA_HOST", "http://localhost:11434")
	}
	if cfg.Extraction.OllamaModel == "" {
		cfg.Extraction.OllamaModel = getEnvString("OLLAMA_MODEL", "llama3.2:1b")
	}
	if cfg.Extraction.ChatModel == "" {
		cfg.Extraction.ChatModel = cfg.Extraction.OllamaModel
	}
	if cfg.Extraction.Timeout == 0 {
		cfg.Extraction.Timeout = Duration(30 * time.Second)
	}

	if cfg.Ingestion.PollInterval == 0 {
		cfg.Ingestion.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Ingestion.StopGrace == 0 {
		cfg.Ingestion.StopGrace = Duration(5 * time.Second)
	}
	if cfg.Ingestion.DedupCapacity == 0 {
		cfg.Ingestion.DedupCapacity = 10000
	}
	if len(cfg.Ingestion.DefaultOffsets) == 0 {
		cfg.Ingestion.DefaultOffsets = []int64{-86400, 0}
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.Path = filepath.Join(home, ".local", "share", appName, appName+".db")
		}
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = getEnvString("NATS_URL", "nats://localhost:4222")
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = appName
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
