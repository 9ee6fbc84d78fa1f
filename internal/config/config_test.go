package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCODE_CONFIG_DIR", t.TempDir())
	t.Setenv("DISCODE_HOOK_PORT", "")
	t.Setenv("DISCODE_HOOK_TOKEN", "")
	t.Setenv("DISCODE_STREAM_SOCKET", "")
	t.Setenv("DISCODE_STATE_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HookPort != DefaultHookPort {
		t.Errorf("HookPort = %d, want %d", cfg.HookPort, DefaultHookPort)
	}
	if cfg.BufferFallbackInitialMS != 3000 {
		t.Errorf("BufferFallbackInitialMS = %d, want 3000", cfg.BufferFallbackInitialMS)
	}
	if cfg.BufferFallbackStableMS != 2000 {
		t.Errorf("BufferFallbackStableMS = %d, want 2000", cfg.BufferFallbackStableMS)
	}
	if cfg.SubmitDelayMS != 0 {
		t.Errorf("SubmitDelayMS = %d, want 0", cfg.SubmitDelayMS)
	}
	if !strings.Contains(cfg.StreamSocket, "discode-stream-") {
		t.Errorf("StreamSocket = %q", cfg.StreamSocket)
	}
	if filepath.Base(cfg.StateFile) != "state.yaml" {
		t.Errorf("StateFile = %q", cfg.StateFile)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DISCODE_CONFIG_DIR", t.TempDir())
	t.Setenv("DISCODE_HOOK_PORT", "19000")
	t.Setenv("DISCODE_HOOK_TOKEN", "secret-token")
	t.Setenv("DISCODE_SUBMIT_DELAY_MS", "250")
	t.Setenv("DISCODE_SHOW_THINKING", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HookPort != 19000 {
		t.Errorf("HookPort = %d, want 19000", cfg.HookPort)
	}
	if cfg.HookToken != "secret-token" {
		t.Errorf("HookToken = %q", cfg.HookToken)
	}
	if cfg.SubmitDelayMS != 250 {
		t.Errorf("SubmitDelayMS = %d, want 250", cfg.SubmitDelayMS)
	}
	if !cfg.ShowThinking {
		t.Error("ShowThinking = false, want true")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("DISCODE_TEST_INT", "41")
	if got := EnvInt("DISCODE_TEST_INT", 7); got != 41 {
		t.Errorf("EnvInt = %d, want 41", got)
	}
	t.Setenv("DISCODE_TEST_INT", "junk")
	if got := EnvInt("DISCODE_TEST_INT", 7); got != 7 {
		t.Errorf("EnvInt junk = %d, want default 7", got)
	}
	if got := EnvInt("DISCODE_TEST_INT_MISSING", 7); got != 7 {
		t.Errorf("EnvInt missing = %d, want default 7", got)
	}
}

func TestEnvBool(t *testing.T) {
	for _, v := range []string{"1", "true", "yes", "on"} {
		t.Setenv("DISCODE_TEST_BOOL", v)
		if !EnvBool("DISCODE_TEST_BOOL", false) {
			t.Errorf("EnvBool(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"0", "false", "no", "off"} {
		t.Setenv("DISCODE_TEST_BOOL", v)
		if EnvBool("DISCODE_TEST_BOOL", true) {
			t.Errorf("EnvBool(%q) = true, want false", v)
		}
	}
}
