// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pulsarr/config.yaml",
	"/etc/pulsarr/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. File and
// environment layers override these.
func defaultConfig() *Config {
	return &Config{
		Plex: PlexConfig{
			Token:             "",
			URL:               "https://discover.provider.plex.tv",
			MetadataURL:       "",
			Users:             nil,
			RequestsPerSecond: 4,
			Burst:             8,
			RequestTimeout:    15 * time.Second,
		},
		Sync: SyncConfig{
			PollInterval:      10 * time.Second,
			IdleFlushInterval: 60 * time.Second,
			IdleThreshold:     60 * time.Second,
		},
		Enrich: EnrichConfig{
			InitialConcurrency:  5,
			CooldownBase:        time.Second,
			CooldownMax:         30 * time.Second,
			MetadataRetries:     3,
			MetadataBackoffBase: 200 * time.Millisecond,
			MetadataBackoffMax:  time.Second,
			LookupTimeout:       5 * time.Second,
		},
		Queue: QueueConfig{
			DrainInterval: 60 * time.Second,
			MaxAge:        24 * time.Hour,
		},
		Store: StoreConfig{
			Path: "/data/pulsarr",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3003,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when they arrive as env var strings.
var sliceConfigPaths = []string{
	"plex.users",
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config
// paths. Unmapped variables return "" and are skipped so random
// environment entries never pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"plex_token":               "plex.token",
		"plex_url":                 "plex.url",
		"plex_metadata_url":        "plex.metadata_url",
		"plex_users":               "plex.users",
		"plex_requests_per_second": "plex.requests_per_second",
		"plex_burst":               "plex.burst",
		"plex_request_timeout":     "plex.request_timeout",

		"sync_poll_interval":       "sync.poll_interval",
		"sync_idle_flush_interval": "sync.idle_flush_interval",
		"sync_idle_threshold":      "sync.idle_threshold",

		"enrich_initial_concurrency":   "enrich.initial_concurrency",
		"enrich_cooldown_base":         "enrich.cooldown_base",
		"enrich_cooldown_max":          "enrich.cooldown_max",
		"enrich_metadata_retries":      "enrich.metadata_retries",
		"enrich_metadata_backoff_base": "enrich.metadata_backoff_base",
		"enrich_metadata_backoff_max":  "enrich.metadata_backoff_max",
		"enrich_lookup_timeout":        "enrich.lookup_timeout",

		"queue_drain_interval": "queue.drain_interval",
		"queue_max_age":        "queue.max_age",

		"store_path": "store.path",

		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_timeout":        "server.timeout",
		"cors_origins":        "server.cors_origins",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
