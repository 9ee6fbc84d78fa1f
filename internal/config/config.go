// Package config loads daemon configuration.
//
// Configuration comes from environment variables, with an optional .env
// file loaded first. Variables:
//   - DISCODE_HOOK_PORT: hook HTTP server port (default 18470)
//   - DISCODE_HOOK_TOKEN: shared secret for hook HTTP bearer auth
//   - DISCODE_STREAM_SOCKET: stream socket path override
//   - DISCODE_STATE_FILE: project state file path
//   - DISCODE_SUBMIT_DELAY_MS: delay between staged input and Enter
//   - DISCODE_BUFFER_FALLBACK_INITIAL_MS: first buffer-fallback capture delay
//   - DISCODE_BUFFER_FALLBACK_STABLE_MS: stability re-check interval
//   - DISCODE_SHOW_THINKING: post agent thinking to channels
//   - DISCODE_SHOW_USAGE: append usage to final responses
//   - DISCODE_LOG_LEVEL: "debug" enables debug logging
//   - DISCODE_CONFIG_DIR: override config directory (for testing)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// DefaultHookPort is the hook HTTP server's default listen port.
const DefaultHookPort = 18470

// Config holds all daemon configuration read at startup.
type Config struct {
	HookPort     int
	HookToken    string
	StreamSocket string
	StateFile    string

	SubmitDelayMS            int
	BufferFallbackInitialMS  int
	BufferFallbackStableMS   int
	ShowThinking             bool
	ShowUsage                bool
	Debug                    bool
}

// Load reads configuration from the environment, loading a .env file from
// the working directory first when present.
func Load() (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HookPort:                EnvInt("DISCODE_HOOK_PORT", DefaultHookPort),
		HookToken:               os.Getenv("DISCODE_HOOK_TOKEN"),
		StreamSocket:            os.Getenv("DISCODE_STREAM_SOCKET"),
		StateFile:               os.Getenv("DISCODE_STATE_FILE"),
		SubmitDelayMS:           EnvInt("DISCODE_SUBMIT_DELAY_MS", 0),
		BufferFallbackInitialMS: EnvInt("DISCODE_BUFFER_FALLBACK_INITIAL_MS", 3000),
		BufferFallbackStableMS:  EnvInt("DISCODE_BUFFER_FALLBACK_STABLE_MS", 2000),
		ShowThinking:            EnvBool("DISCODE_SHOW_THINKING", false),
		ShowUsage:               EnvBool("DISCODE_SHOW_USAGE", false),
		Debug:                   os.Getenv("DISCODE_LOG_LEVEL") == "debug",
	}
	if cfg.StreamSocket == "" {
		cfg.StreamSocket = DefaultStreamSocket()
	}
	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(dir, "state.yaml")
	}
	return cfg, nil
}

// Dir returns the configuration directory, creating it if necessary.
// DISCODE_CONFIG_DIR overrides the default for tests.
func Dir() (string, error) {
	if testDir := os.Getenv("DISCODE_CONFIG_DIR"); testDir != "" {
		if err := os.MkdirAll(testDir, 0o700); err != nil {
			return "", fmt.Errorf("could not create config directory: %w", err)
		}
		return testDir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".discode")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("could not create config directory: %w", err)
	}
	return dir, nil
}

// DefaultStreamSocket returns the per-process stream socket path.
func DefaultStreamSocket() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("discode-stream-%d.sock", os.Getpid()))
}

// EnvInt reads an integer environment variable with a default. Exported
// because fallback timings are re-read per scheduled capture, letting
// tests override them after startup.
func EnvInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// EnvBool reads a boolean environment variable with a default.
func EnvBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
