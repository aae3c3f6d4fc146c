package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "snapmark", "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerWritesDefaults(t *testing.T) {
	m := newTestManager(t)

	if _, err := os.Stat(m.GetConfigPath()); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	cfg := m.Get()
	if cfg.ServerPort != 8080 || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Stream.JPEGQuality != 90 || cfg.Stream.FPS != 30 {
		t.Fatalf("unexpected stream defaults: %+v", cfg.Stream)
	}
	if cfg.Capture.MinWindowSize != 50 {
		t.Fatalf("min window size = %d", cfg.Capture.MinWindowSize)
	}
}

func TestPreferencesPersist(t *testing.T) {
	m := newTestManager(t)
	want := Preferences{SaveDirectory: "/tmp/shots", AutoSave: true}
	if err := m.SetPreferences(want); err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}

	reloaded, err := NewManager(m.GetConfigPath())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Preferences(); got != want {
		t.Fatalf("Preferences = %+v, want %+v", got, want)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "server_port: 9191\nexport:\n  backend: s3\n  s3:\n    bucket: shots\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	if cfg.ServerPort != 9191 {
		t.Fatalf("port = %d", cfg.ServerPort)
	}
	if cfg.Export.Backend != "s3" || cfg.Export.S3.Bucket != "shots" {
		t.Fatalf("export = %+v", cfg.Export)
	}
	if cfg.Export.Chooser != "portal" || cfg.Stream.JPEGQuality != 90 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SNAPMARK_LOG_LEVEL", "debug")
	t.Setenv("SNAPMARK_STREAM_FPS", "12")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got := m.GetLogLevel(); got != "debug" {
		t.Fatalf("log level = %q, want debug", got)
	}
	if got := m.Get().Stream.FPS; got != 12 {
		t.Fatalf("stream fps = %d, want 12", got)
	}
}

func TestViperSetAndApply(t *testing.T) {
	m := newTestManager(t)
	v := m.GetViper()
	if got := v.GetInt("server_port"); got != 8080 {
		t.Fatalf("viper server_port = %d", got)
	}
	v.Set("preferences.auto_save", true)
	v.Set("export.s3.region", "eu-west-1")
	if err := m.Apply(v); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !m.Preferences().AutoSave || m.Get().Export.S3.Region != "eu-west-1" {
		t.Fatalf("apply lost values: %+v", m.Get())
	}

	data, err := os.ReadFile(m.GetConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "region: eu-west-1") {
		t.Fatalf("saved config missing region:\n%s", data)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m := newTestManager(t)
	cfg := m.Get()
	cfg.ServerPort = 1
	cfg.Hotkey.Modifiers[0] = "meta"
	if m.GetPort() != 8080 || m.Get().Hotkey.Modifiers[0] != "ctrl" {
		t.Fatalf("Get exposed internal state")
	}
}

func TestInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server_port: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
