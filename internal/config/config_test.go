package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONCIERGE_CONFIG", "CONCIERGE_SERVER_URL", "HTTP_ADDRESS", "CONCIERGE_LOCALE",
		"IDENTIFY_INTERVAL", "PLAYBACK_SETTLE", "TTS_PROVIDER", "CONCIERGE_GREETING",
		"FRAME_QUALITY", "RECORDING_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ControlAddress != ":8080" || cfg.Locale != "ko-KR" || cfg.IdentifyInterval != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.FrameMaxWidth != 640 || cfg.FrameQuality != 20 || cfg.Greeting {
		t.Fatalf("unexpected frame defaults: %+v", cfg)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server_url: wss://robot.example/ws
locale: en-US
identify:
  interval: 2s
  quality: 35
audio:
  playback_settle: 450ms
tts:
  provider: command
greeting: true
`)
	t.Setenv("IDENTIFY_INTERVAL", "3s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "wss://robot.example/ws" || cfg.Locale != "en-US" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.IdentifyInterval != 3*time.Second {
		t.Fatalf("env did not override interval: %v", cfg.IdentifyInterval)
	}
	if cfg.FrameQuality != 35 || cfg.PlaybackSettle != 450*time.Millisecond {
		t.Fatalf("nested values not applied: %+v", cfg)
	}
	if cfg.TTSProvider != ProviderCommand || !cfg.Greeting {
		t.Fatalf("tts/greeting not applied: %+v", cfg)
	}
}

func TestLoad_EnvConfigPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONCIERGE_CONFIG", writeFile(t, "control_address: \":9090\"\n"))
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ControlAddress != ":9090" {
		t.Fatalf("control address = %q", cfg.ControlAddress)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for explicit missing file")
	}
	if _, err := Load(writeFile(t, "identify:\n  interval: soon\n")); err == nil || !strings.Contains(err.Error(), "identify.interval") {
		t.Fatalf("err = %v", err)
	}
	t.Setenv("TTS_PROVIDER", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestValidate_Clamps(t *testing.T) {
	cfg := Default()
	cfg.IdentifyInterval = 200 * time.Millisecond
	cfg.FrameQuality = 0
	cfg.CaptureSettle = -time.Second
	cfg.PlaybackSettle = 0
	cfg.ResetPause = 10 * time.Millisecond
	cfg.ReleaseDelay = -time.Millisecond
	cfg.Locale = "fr-FR"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.IdentifyInterval != MinInterval || cfg.FrameQuality != 20 {
		t.Fatalf("not clamped: %+v", cfg)
	}
	if cfg.CaptureSettle != MinCaptureSettle || cfg.PlaybackSettle != MinPlaybackSettle || cfg.ResetPause != MinResetPause {
		t.Fatalf("settles = %v %v %v", cfg.CaptureSettle, cfg.PlaybackSettle, cfg.ResetPause)
	}
	if cfg.ReleaseDelay != 0 {
		t.Fatalf("release delay = %v", cfg.ReleaseDelay)
	}
	if cfg.Locale != "ko-KR" {
		t.Fatalf("locale = %q", cfg.Locale)
	}

	cfg.IdentifyInterval = time.Minute
	_ = cfg.Validate()
	if cfg.IdentifyInterval != MaxInterval {
		t.Fatalf("interval = %v", cfg.IdentifyInterval)
	}

	cfg.ServerURL = "http://robot"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected scheme error")
	}
}
