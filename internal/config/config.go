// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package config loads and validates application configuration from
// layered sources: built-in defaults, an optional YAML file, and
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root application configuration.
type Config struct {
	Plex    PlexConfig    `koanf:"plex"`
	Radarr  FamilyConfig  `koanf:"radarr"`
	Sonarr  FamilyConfig  `koanf:"sonarr"`
	Sync    SyncConfig    `koanf:"sync"`
	Enrich  EnrichConfig  `koanf:"enrich"`
	Queue   QueueConfig   `koanf:"queue"`
	Store   StoreConfig   `koanf:"store"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// PlexConfig configures the upstream catalog client.
type PlexConfig struct {
	// Token authenticates watchlist and metadata requests.
	Token string `koanf:"token" validate:"required"`

	// URL is the discover API base. Override for tests only.
	URL string `koanf:"url" validate:"required,url"`

	// MetadataURL is the metadata lookup base. Defaults to URL when empty.
	MetadataURL string `koanf:"metadata_url" validate:"omitempty,url"`

	// Users lists the watchlist owners to poll. The token owner is
	// polled when the list is empty.
	Users []string `koanf:"users"`

	// RequestsPerSecond paces outgoing requests per token. The adaptive
	// enrichment throttle reacts to 429s on top of this static pacing.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int     `koanf:"burst" validate:"gte=1"`

	// RequestTimeout bounds a single catalog request.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// FamilyConfig holds the configured instances of one acquisition family.
type FamilyConfig struct {
	Instances []InstanceConfig `koanf:"instances" validate:"dive"`
}

// InstanceConfig describes a single Radarr or Sonarr instance.
type InstanceConfig struct {
	ID             int    `koanf:"id" validate:"gte=0"`
	Name           string `koanf:"name" validate:"required"`
	URL            string `koanf:"url" validate:"required,url"`
	APIKey         string `koanf:"api_key"`
	QualityProfile string `koanf:"quality_profile"`
	RootFolder     string `koanf:"root_folder"`
}

// SyncConfig drives the workflow coordinator cadences.
type SyncConfig struct {
	// PollInterval is the short change-detection cadence.
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`

	// IdleFlushInterval is how often the idle-flush loop wakes up.
	IdleFlushInterval time.Duration `koanf:"idle_flush_interval" validate:"gt=0"`

	// IdleThreshold is how long the change queue must be quiet before an
	// idle tick forces a full resync.
	IdleThreshold time.Duration `koanf:"idle_threshold" validate:"gt=0"`
}

// EnrichConfig tunes the adaptive-concurrency enrichment fetcher.
type EnrichConfig struct {
	// InitialConcurrency is the per-batch in-flight lookup ceiling.
	InitialConcurrency int `koanf:"initial_concurrency" validate:"gte=1"`

	// CooldownBase seeds the exponential rate-limit cooldown
	// (base * 1.5^consecutive, capped at CooldownMax).
	CooldownBase time.Duration `koanf:"cooldown_base" validate:"gt=0"`
	CooldownMax  time.Duration `koanf:"cooldown_max" validate:"gt=0"`

	// MetadataRetries bounds re-lookups when the catalog returns zero
	// external identifiers (identifier propagation upstream can lag).
	MetadataRetries     int           `koanf:"metadata_retries" validate:"gte=0"`
	MetadataBackoffBase time.Duration `koanf:"metadata_backoff_base" validate:"gt=0"`
	MetadataBackoffMax  time.Duration `koanf:"metadata_backoff_max" validate:"gt=0"`

	// LookupTimeout bounds a single enrichment lookup so shutdown never
	// hard-aborts an in-flight request.
	LookupTimeout time.Duration `koanf:"lookup_timeout" validate:"gt=0"`
}

// QueueConfig tunes the deferred delivery queue.
type QueueConfig struct {
	DrainInterval time.Duration `koanf:"drain_interval" validate:"gt=0"`

	// MaxAge is the point past which an undeliverable task is dropped
	// with a terminal log entry instead of retried.
	MaxAge time.Duration `koanf:"max_age" validate:"gt=0"`
}

// StoreConfig configures the badger record store.
type StoreConfig struct {
	Path string `koanf:"path" validate:"required"`

	// InMemory switches badger to in-memory mode. Tests only.
	InMemory bool `koanf:"in_memory"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks struct tags plus cross-field constraints that tags
// cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if len(c.Radarr.Instances) == 0 && len(c.Sonarr.Instances) == 0 {
		return fmt.Errorf("config validation: at least one radarr or sonarr instance is required")
	}

	seen := map[string]map[int]bool{"radarr": {}, "sonarr": {}}
	for _, inst := range c.Radarr.Instances {
		if seen["radarr"][inst.ID] {
			return fmt.Errorf("config validation: duplicate radarr instance id %d", inst.ID)
		}
		seen["radarr"][inst.ID] = true
	}
	for _, inst := range c.Sonarr.Instances {
		if seen["sonarr"][inst.ID] {
			return fmt.Errorf("config validation: duplicate sonarr instance id %d", inst.ID)
		}
		seen["sonarr"][inst.ID] = true
	}

	if c.Sync.IdleThreshold < c.Sync.PollInterval {
		return fmt.Errorf("config validation: sync.idle_threshold must be >= sync.poll_interval")
	}

	return nil
}
