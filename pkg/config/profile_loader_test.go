package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeProfile(t *testing.T, dir, code, content string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+code+".yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const site7Profile = `
name: "Hydro Control Site 7"
listen_addr: "10.40.0.2:8443"
log_level: DEBUG
storage:
  driver: sqlite
  database_path: /var/lib/munin/site7.db
sessions:
  ttl_hours: 4
  attempt_window_minutes: 30
  attempt_limit: 3
argon2:
  memory_kib: 131072
`

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "site7", site7Profile)

	p, err := LoadProfile(dir, "SITE7")
	if err != nil {
		t.Fatalf("LoadProfile(site7): %v", err)
	}
	if p.Name != "Hydro Control Site 7" {
		t.Errorf("unexpected name %q", p.Name)
	}
	if p.Code != "site7" {
		t.Errorf("code should fall back to filename, got %q", p.Code)
	}
	if p.Sessions.AttemptLimit != 3 {
		t.Errorf("unexpected attempt limit %d", p.Sessions.AttemptLimit)
	}
}

func TestLoadProfile_Missing(t *testing.T) {
	if _, err := LoadProfile(t.TempDir(), "nowhere"); err == nil {
		t.Fatal("expected an error for a missing profile")
	}
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "site7", site7Profile)
	writeProfile(t, dir, "site9", "name: Backup Site 9\n")

	profiles, err := LoadAllProfiles(dir)
	if err != nil {
		t.Fatalf("LoadAllProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles["site9"].Name != "Backup Site 9" {
		t.Errorf("unexpected site9 name %q", profiles["site9"].Name)
	}
}

func TestApplyOverlaysOnlySetValues(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "site7", site7Profile)
	p, err := LoadProfile(dir, "site7")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}

	cfg := Load()
	p.Apply(cfg)

	if cfg.ListenAddr != "10.40.0.2:8443" {
		t.Errorf("listen addr not overlaid: %q", cfg.ListenAddr)
	}
	if cfg.SessionTTL != 4*time.Hour {
		t.Errorf("session ttl not overlaid: %v", cfg.SessionTTL)
	}
	if cfg.LoginAttemptWindow != 30*time.Minute {
		t.Errorf("attempt window not overlaid: %v", cfg.LoginAttemptWindow)
	}
	if cfg.Argon2.MemoryKiB != 131072 {
		t.Errorf("argon2 memory not overlaid: %d", cfg.Argon2.MemoryKiB)
	}
	// Unset in the profile: environment default survives.
	if cfg.LoginAttemptLimit != 3 {
		t.Errorf("attempt limit not overlaid: %d", cfg.LoginAttemptLimit)
	}
	if cfg.Argon2.Iterations == 0 {
		t.Error("iterations should keep the default")
	}
}
