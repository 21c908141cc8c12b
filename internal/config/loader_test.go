package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the deadlined config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "deadlined")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, MissedPolicyDrop, cfg.Scheduler.MissedPolicy)
	assert.Equal(t, 5*time.Second, cfg.Ingestion.PollInterval.Duration())
	assert.Equal(t, []int64{-86400, 0}, cfg.Ingestion.DefaultOffsets)
	assert.Equal(t, "groq", cfg.Extraction.CloudProvider)
	assert.Equal(t, "llama3.2:1b", cfg.Extraction.OllamaModel)
	assert.Equal(t, cfg.Extraction.OllamaModel, cfg.Extraction.ChatModel)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.NotEmpty(t, cfg.Store.Path)
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 8181
scheduler:
  missed_policy: catch-up
  catch_up_window: 30m
  timezone: UTC
ingestion:
  poll_interval: 2s
  default_offsets: [-3600, 0, 600]
store:
  driver: memory
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, MissedPolicyCatchUp, cfg.Scheduler.MissedPolicy)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.CatchUpWindow.Duration())
	assert.Equal(t, 2*time.Second, cfg.Ingestion.PollInterval.Duration())
	assert.Equal(t, []int64{-3600, 0, 600}, cfg.Ingestion.DefaultOffsets)
	assert.Equal(t, "memory", cfg.Store.Driver)

	loc, err := cfg.Scheduler.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 8181\n", 0600)

	t.Setenv("SERVER_HTTP_PORT", "7171")
	t.Setenv("EXTRACTION_GROQ_API_KEY", "gsk-test")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7171, cfg.Server.Port)
	assert.Equal(t, "gsk-test", cfg.Extraction.GroqAPIKey.Value())
}

func TestLoadWithFile_BareProviderEnv(t *testing.T) {
	setupTestHome(t)
	t.Setenv("GROQ_API_KEY", "gsk-bare")
	t.Setenv("GROQ_MODEL", "llama-3.1-8b-instant")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, "gsk-bare", cfg.Extraction.GroqAPIKey.Value())
	assert.Equal(t, "llama-3.1-8b-instant", cfg.Extraction.GroqModel)
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 8181\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_InvalidPolicy(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "scheduler:\n  missed_policy: replay\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missed_policy")
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SERVER_HTTP_PORT", "server.http_port"},
		{"EXTRACTION_GROQ_API_KEY", "extraction.groq_api_key"},
		{"INGESTION_POLL_INTERVAL", "ingestion.poll_interval"},
		{"HOME", "home"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}
