// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
)

// validConfig is the default config made complete: a token and at least
// one instance, the two things defaults cannot invent.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Plex.Token = "test-token"
	cfg.Radarr.Instances = []InstanceConfig{
		{ID: 1, Name: "main", URL: "http://radarr:7878", APIKey: "key"},
	}
	return cfg
}

func TestConfig_Validate_Defaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v, defaults should pass once completed", err)
	}
}

func TestConfig_Validate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing token",
			mutate: func(c *Config) { c.Plex.Token = "" },
		},
		{
			name:   "no instances at all",
			mutate: func(c *Config) { c.Radarr.Instances = nil },
		},
		{
			name: "duplicate radarr instance ids",
			mutate: func(c *Config) {
				c.Radarr.Instances = append(c.Radarr.Instances, InstanceConfig{
					ID: 1, Name: "dup", URL: "http://radarr2:7878",
				})
			},
		},
		{
			name: "duplicate sonarr instance ids",
			mutate: func(c *Config) {
				c.Sonarr.Instances = []InstanceConfig{
					{ID: 2, Name: "a", URL: "http://sonarr:8989"},
					{ID: 2, Name: "b", URL: "http://sonarr2:8989"},
				}
			},
		},
		{
			name:   "instance without url",
			mutate: func(c *Config) { c.Radarr.Instances[0].URL = "" },
		},
		{
			name:   "idle threshold below poll interval",
			mutate: func(c *Config) { c.Sync.IdleThreshold = c.Sync.PollInterval / 2 },
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
		},
		{
			name:   "zero cooldown base",
			mutate: func(c *Config) { c.Enrich.CooldownBase = 0 },
		},
		{
			name:   "port out of range",
			mutate: func(c *Config) { c.Server.Port = 70000 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate() = nil, want error")
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"PLEX_TOKEN", "plex.token"},
		{"plex_token", "plex.token"},
		{"SYNC_POLL_INTERVAL", "sync.poll_interval"},
		{"ENRICH_INITIAL_CONCURRENCY", "enrich.initial_concurrency"},
		{"QUEUE_MAX_AGE", "queue.max_age"},
		{"HTTP_PORT", "server.port"},
		{"CORS_ORIGINS", "server.cors_origins"},
		{"LOG_LEVEL", "logging.level"},
		{"PATH", ""},
		{"HOME", ""},
		{"PLEX_UNKNOWN_SETTING", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.key); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestProcessSliceFields(t *testing.T) {
	k := koanf.New(".")
	if err := k.Set("plex.users", "alice, bob ,,carol"); err != nil {
		t.Fatal(err)
	}
	if err := k.Set("server.cors_origins", []string{"https://a.example"}); err != nil {
		t.Fatal(err)
	}

	if err := processSliceFields(k); err != nil {
		t.Fatalf("processSliceFields() error = %v", err)
	}

	users := k.Strings("plex.users")
	want := []string{"alice", "bob", "carol"}
	if len(users) != len(want) {
		t.Fatalf("plex.users = %v, want %v", users, want)
	}
	for i := range want {
		if users[i] != want[i] {
			t.Errorf("plex.users[%d] = %q, want %q", i, users[i], want[i])
		}
	}

	// Already-slice values pass through untouched.
	origins := k.Strings("server.cors_origins")
	if len(origins) != 1 || origins[0] != "https://a.example" {
		t.Errorf("server.cors_origins = %v, want unchanged slice", origins)
	}
}

func TestLoad_LayeredSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
plex:
  token: file-token
radarr:
  instances:
    - id: 1
      name: main
      url: http://radarr:7878
      api_key: key
server:
  port: 4000
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("PLEX_USERS", "alice,bob")
	t.Setenv("SYNC_POLL_INTERVAL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Plex.Token != "file-token" {
		t.Errorf("Token = %q, want file value", cfg.Plex.Token)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want env override 9999 over file 4000", cfg.Server.Port)
	}
	if len(cfg.Plex.Users) != 2 || cfg.Plex.Users[0] != "alice" {
		t.Errorf("Users = %v, want [alice bob]", cfg.Plex.Users)
	}
	if cfg.Sync.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.Sync.PollInterval)
	}
	if cfg.Plex.URL == "" || cfg.Store.Path == "" {
		t.Error("defaults not layered under file and env values")
	}
	if len(cfg.Radarr.Instances) != 1 || cfg.Radarr.Instances[0].Name != "main" {
		t.Errorf("Instances = %+v, want the file-declared instance", cfg.Radarr.Instances)
	}
}
