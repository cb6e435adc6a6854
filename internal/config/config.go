// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"time"
)

// Config is the top-level configuration container for the record sync
// engine. It is populated by merging values from environment variables,
// command-line flags, and an optional JSON file.
//
// Struct tags:
//   - envPrefix: prefix applied to all nested env tag lookups (caarlos0/env).
//   - env: direct environment variable name for scalar fields.
type Config struct {
	// App holds device identity and key material locations.
	App App `envPrefix:"APP_" json:"app,omitempty"`

	// Remote holds the record-store endpoint settings.
	Remote Remote `envPrefix:"REMOTE_" json:"remote,omitempty"`

	// Storage holds the local sqlite database settings.
	Storage Storage `envPrefix:"STORAGE_" json:"storage,omitempty"`

	// Sync holds tuning for the sync pipeline: debounce, batch sizes,
	// fan-out widths, and the periodic worker interval.
	Sync Sync `envPrefix:"SYNC_" json:"sync,omitempty"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// When non-empty, the file is parsed and merged on top of the values
	// already loaded from environment variables and flags.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG" json:"-"`
}

// App holds device identity settings.
type App struct {
	// DeviceID is this device's numeric id within the account. Recorded
	// as the manifest's source device on every upload.
	// Env: APP_DEVICE_ID
	DeviceID uint32 `env:"DEVICE_ID" json:"device_id"`

	// StorageKey is the base64 account storage key. Normally provisioned
	// by the account layer; settable directly for development.
	// Env: APP_STORAGE_KEY
	StorageKey string `env:"STORAGE_KEY" json:"storage_key"`

	// LogToFile routes logs to a file next to the executable instead of
	// stdout, for daemon deployments where stdout is not captured.
	// Env: APP_LOG_TO_FILE
	LogToFile bool `env:"LOG_TO_FILE" json:"log_to_file"`
}

// Remote holds the record-store endpoint settings.
type Remote struct {
	// BaseURL is the record-store base URL.
	// Env: REMOTE_BASE_URL
	BaseURL string `env:"BASE_URL" json:"base_url"`

	// RequestTimeout bounds every single HTTP request.
	// Env: REMOTE_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" json:"request_timeout"`
}

// Storage holds the local persistence settings.
type Storage struct {
	// DSN is the sqlite database path.
	// Env: STORAGE_DSN
	DSN string `env:"DSN" json:"dsn"`
}

// Sync holds tuning for the sync pipeline.
type Sync struct {
	// Debounce folds rapid successive sync/upload triggers into one job.
	// Env: SYNC_DEBOUNCE
	Debounce time.Duration `env:"DEBOUNCE" json:"debounce"`

	// Interval is the periodic background sync interval.
	// Env: SYNC_INTERVAL
	Interval time.Duration `env:"INTERVAL" json:"interval"`

	// MaxReadKeys caps how many record keys one read request may carry.
	// Env: SYNC_MAX_READ_KEYS
	MaxReadKeys int `env:"MAX_READ_KEYS" json:"max_read_keys"`

	// FetchConcurrency bounds parallel read requests.
	// Env: SYNC_FETCH_CONCURRENCY
	FetchConcurrency int `env:"FETCH_CONCURRENCY" json:"fetch_concurrency"`

	// MergeConcurrency bounds parallel in-memory record merges.
	// Env: SYNC_MERGE_CONCURRENCY
	MergeConcurrency int `env:"MERGE_CONCURRENCY" json:"merge_concurrency"`
}

// Defaults applied to any field the merged sources left unset.
const (
	DefaultRequestTimeout   = 15 * time.Second
	DefaultDebounce         = 500 * time.Millisecond
	DefaultSyncInterval     = 5 * time.Minute
	DefaultMaxReadKeys      = 100
	DefaultFetchConcurrency = 5
	DefaultMergeConcurrency = 32
)

func (cfg *Config) applyDefaults() {
	if cfg.Remote.RequestTimeout <= 0 {
		cfg.Remote.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Sync.Debounce <= 0 {
		cfg.Sync.Debounce = DefaultDebounce
	}
	if cfg.Sync.Interval <= 0 {
		cfg.Sync.Interval = DefaultSyncInterval
	}
	if cfg.Sync.MaxReadKeys <= 0 {
		cfg.Sync.MaxReadKeys = DefaultMaxReadKeys
	}
	if cfg.Sync.FetchConcurrency <= 0 {
		cfg.Sync.FetchConcurrency = DefaultFetchConcurrency
	}
	if cfg.Sync.MergeConcurrency <= 0 {
		cfg.Sync.MergeConcurrency = DefaultMergeConcurrency
	}
}
