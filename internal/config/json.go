package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ridelines/draftsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so intervals can be written either as strings like "30s" or
// as integer nanoseconds. Parsed values are copied into the runtime Config.
type JsonConfig struct {
	RemoteDSN   *string `json:"remote_dsn"`
	LocalDBPath *string `json:"local_db_path"`

	CacheTTL            *timex.Duration `json:"cache_ttl"`
	LockTimeout         *timex.Duration `json:"lock_timeout"`
	BackoffBase         *timex.Duration `json:"backoff_base"`
	BackoffCap          *timex.Duration `json:"backoff_cap"`
	MaxSaveAttempts     *int            `json:"max_save_attempts"`
	QueueCapacity       *int            `json:"queue_capacity"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`

	MetricsAddr *string `json:"metrics_addr"`
}

// parseJson overlays cfg with values from the JSON file at path. Absent
// fields keep their current (default) values; an empty path is a no-op.
func parseJson(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if jc.RemoteDSN != nil {
		cfg.RemoteDSN = *jc.RemoteDSN
	}
	if jc.LocalDBPath != nil {
		cfg.LocalDBPath = *jc.LocalDBPath
	}
	if jc.CacheTTL != nil {
		cfg.CacheTTL = time.Duration(jc.CacheTTL.Duration)
	}
	if jc.LockTimeout != nil {
		cfg.LockTimeout = time.Duration(jc.LockTimeout.Duration)
	}
	if jc.BackoffBase != nil {
		cfg.BackoffBase = time.Duration(jc.BackoffBase.Duration)
	}
	if jc.BackoffCap != nil {
		cfg.BackoffCap = time.Duration(jc.BackoffCap.Duration)
	}
	if jc.MaxSaveAttempts != nil {
		cfg.MaxSaveAttempts = *jc.MaxSaveAttempts
	}
	if jc.QueueCapacity != nil {
		cfg.QueueCapacity = *jc.QueueCapacity
	}
	if jc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.MetricsAddr != nil {
		cfg.MetricsAddr = *jc.MetricsAddr
	}
	return nil
}
