package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server != DefaultServer {
		t.Errorf("Server = %q", cfg.Server)
	}
	if cfg.API != "http://localhost:8080/api" {
		t.Errorf("API = %q", cfg.API)
	}
	if cfg.SettleDelay != time.Second || cfg.TypingIdle != time.Second {
		t.Errorf("settle/typing = %v/%v", cfg.SettleDelay, cfg.TypingIdle)
	}
	if cfg.UploadGap != 500*time.Millisecond || cfg.UploadTimeout != 30*time.Second {
		t.Errorf("upload gap/timeout = %v/%v", cfg.UploadGap, cfg.UploadTimeout)
	}
	if cfg.Heartbeat != 30*time.Second {
		t.Errorf("Heartbeat = %v", cfg.Heartbeat)
	}
	if cfg.ReconnectAttempts != 5 || cfg.ReconnectStep != 2*time.Second || cfg.ReconnectCap != 10*time.Second {
		t.Errorf("reconnect = %d %v %v", cfg.ReconnectAttempts, cfg.ReconnectStep, cfg.ReconnectCap)
	}
	if cfg.GetTURNServers() != nil {
		t.Errorf("TURN servers without TURN host: %v", cfg.GetTURNServers())
	}
}

func TestPriorityFlagsOverEnvOverFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := "name: from-file\nlang: zh\nsettle_delay: 3s\nserver: wss://file.example/ws\n"
	if err := os.WriteFile(filepath.Join(dir, "huddle.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HUDDLE_NAME", "from-env")
	t.Setenv("HUDDLE_SETTLE_DELAY", "2s")

	cfg, err := Load(Options{Name: "from-flag"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Name != "from-flag" {
		t.Errorf("Name = %q, want flag value", cfg.Name)
	}
	if cfg.SettleDelay != 2*time.Second {
		t.Errorf("SettleDelay = %v, want env value", cfg.SettleDelay)
	}
	if cfg.Lang != "zh" {
		t.Errorf("Lang = %q, want file value", cfg.Lang)
	}
	if cfg.API != "https://file.example/api" {
		t.Errorf("API = %q", cfg.API)
	}
}

func TestExplicitFileMustExist(t *testing.T) {
	chdir(t, t.TempDir())

	if _, err := Load(Options{File: "missing.yaml"}); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestRejectsBadValues(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HUDDLE_TYPING_IDLE", "0s")

	_, err := Load(Options{})
	if err == nil || !strings.Contains(err.Error(), "typing_idle") {
		t.Fatalf("expected typing_idle error, got %v", err)
	}

	if _, err := Load(Options{Server: "http://wrong/ws"}); err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestTURNServers(t *testing.T) {
	cfg := &Config{TURNServer: "turn.example.com", TURNUser: "u", TURNPass: "p"}

	got := cfg.GetTURNServers()
	if len(got) != 3 || got[0] != "turn:turn.example.com:3478?transport=udp" || got[2] != "turns:turn.example.com:5349?transport=tcp" {
		t.Errorf("GetTURNServers = %v", got)
	}
	if u, p := cfg.GetTURNCredentials(); u != "u" || p != "p" {
		t.Errorf("credentials = %s/%s", u, p)
	}
}
