package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultProfile: "work"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	p := DefaultProfile()
	p.UserID = "u1"
	p.DrainInterval = Duration{2 * time.Second}
	if err := SaveProfile(path, p); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.UserID != "u1" || loaded.DrainInterval.Duration != 2*time.Second {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.RequestTimeout.Duration != 10*time.Second {
		t.Errorf("request timeout = %v, want 10s", loaded.RequestTimeout)
	}
}

func TestLoadProfileMissingUsesDefaults(t *testing.T) {
	p, err := LoadProfile(filepath.Join(t.TempDir(), "profile.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Sender != SenderHTTP || p.APIBaseURL == "" {
		t.Errorf("defaults = %+v", p)
	}
}

func TestLoadProfileRejectsUnknownSender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := os.WriteFile(path, []byte("sender = \"carrier-pigeon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Error("LoadProfile() accepted unknown sender")
	}
}

func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	env := "SMSQ_USER_ID=from-file\nSMSQ_TOKEN=file-token\nSMSQ_PROBE_INTERVAL=3s\n"
	if err := os.WriteFile(envPath, []byte(env), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SMSQ_TOKEN", "process-token")

	p := DefaultProfile()
	if err := p.ApplyEnv(envPath); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "from-file" {
		t.Errorf("UserID = %q, want from-file", p.UserID)
	}
	if p.Token != "process-token" {
		t.Errorf("Token = %q, process env should win", p.Token)
	}
	if p.ProbeInterval.Duration != 3*time.Second {
		t.Errorf("ProbeInterval = %v, want 3s", p.ProbeInterval)
	}
}

func TestApplyEnvMissingFile(t *testing.T) {
	p := DefaultProfile()
	if err := p.ApplyEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("ApplyEnv() error = %v for missing file", err)
	}
}

func TestApplyEnvBadDuration(t *testing.T) {
	t.Setenv("SMSQ_DRAIN_INTERVAL", "soon")
	p := DefaultProfile()
	if err := p.ApplyEnv(""); err == nil {
		t.Error("ApplyEnv() accepted invalid duration")
	}
}
