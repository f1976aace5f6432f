// Package config holds runtime settings for the draftsync engine. Settings
// are resolved in three layers, later ones winning: built-in defaults, an
// optional JSON file, then command-line flags bound by the CLI.
package config

import "time"

// Config holds runtime settings.
//
// RemoteDSN selects the document store backend: a postgres DSN for the
// durable store, or empty for the in-memory store (anonymous mode).
// LocalDBPath is the sqlite file backing the offline queue and the workflow
// tracker's fast path; empty keeps local state in memory only.
type Config struct {
	RemoteDSN   string
	LocalDBPath string

	CacheTTL            time.Duration
	LockTimeout         time.Duration
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	MaxSaveAttempts     int
	QueueCapacity       int
	OnlineCheckInterval time.Duration

	// MetricsAddr exposes /metrics when non-empty, e.g. ":9090".
	MetricsAddr string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.RemoteDSN = ""
	c.LocalDBPath = ""
	c.CacheTTL = 30 * time.Second
	c.LockTimeout = 5 * time.Second
	c.BackoffBase = 100 * time.Millisecond
	c.BackoffCap = 5 * time.Second
	c.MaxSaveAttempts = 3
	c.QueueCapacity = 100
	c.OnlineCheckInterval = 3 * time.Second
	c.MetricsAddr = ""
}

// Load constructs a Config: defaults first, then the JSON file at path when
// path is non-empty. Flag overlays are applied afterwards by the CLI, which
// binds flags directly onto the returned struct.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}
