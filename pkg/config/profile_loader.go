package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SiteProfile is a deployment-site configuration overlay. Air-gapped
// installations ship one YAML per site instead of injecting environment
// variables; values present in the profile win over the environment.
type SiteProfile struct {
	Name       string `yaml:"name"`
	Code       string `yaml:"code"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
	LogLevel   string `yaml:"log_level,omitempty"`

	Storage struct {
		Driver       string `yaml:"driver,omitempty"`
		DatabasePath string `yaml:"database_path,omitempty"`
		DatabaseURL  string `yaml:"database_url,omitempty"`
	} `yaml:"storage"`

	Sessions struct {
		TTLHours             int `yaml:"ttl_hours,omitempty"`
		AttemptWindowMinutes int `yaml:"attempt_window_minutes,omitempty"`
		AttemptLimit         int `yaml:"attempt_limit,omitempty"`
	} `yaml:"sessions"`

	Argon2 struct {
		MemoryKiB   int `yaml:"memory_kib,omitempty"`
		Iterations  int `yaml:"iterations,omitempty"`
		Parallelism int `yaml:"parallelism,omitempty"`
	} `yaml:"argon2"`
}

// LoadProfile loads a site profile YAML by site code. It searches the
// profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*SiteProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile SiteProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory, keyed by site code.
func LoadAllProfiles(profilesDir string) (map[string]*SiteProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*SiteProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile SiteProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_site7.yaml -> site7
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// Apply overlays the profile's set values onto cfg.
func (p *SiteProfile) Apply(cfg *Config) {
	if p.ListenAddr != "" {
		cfg.ListenAddr = p.ListenAddr
	}
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if p.Storage.Driver != "" {
		cfg.Driver = p.Storage.Driver
	}
	if p.Storage.DatabasePath != "" {
		cfg.DatabasePath = p.Storage.DatabasePath
	}
	if p.Storage.DatabaseURL != "" {
		cfg.DatabaseURL = p.Storage.DatabaseURL
	}
	if p.Sessions.TTLHours > 0 {
		cfg.SessionTTL = time.Duration(p.Sessions.TTLHours) * time.Hour
	}
	if p.Sessions.AttemptWindowMinutes > 0 {
		cfg.LoginAttemptWindow = time.Duration(p.Sessions.AttemptWindowMinutes) * time.Minute
	}
	if p.Sessions.AttemptLimit > 0 {
		cfg.LoginAttemptLimit = p.Sessions.AttemptLimit
	}
	if p.Argon2.MemoryKiB > 0 {
		cfg.Argon2.MemoryKiB = uint32(p.Argon2.MemoryKiB)
	}
	if p.Argon2.Iterations > 0 {
		cfg.Argon2.Iterations = uint32(p.Argon2.Iterations)
	}
	if p.Argon2.Parallelism > 0 {
		cfg.Argon2.Parallelism = uint8(p.Argon2.Parallelism)
	}
}
