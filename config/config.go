// Package config loads runtime configuration for the vault service from the
// environment, with defaults sane enough to run locally.
package config

import (
	"os"
	"strconv"
	"time"

	"axiomvault/cryptocore"
	"axiomvault/syncengine"
)

// Config is the service-wide configuration, loaded once at startup.
type Config struct {
	// BaseDir is the root directory each user's vault data lives under
	// (one subdirectory per VaultId).
	BaseDir string
	Port    string

	// SignSecret signs time-limited download links (auth.SignDownload).
	SignSecret []byte

	// KdfPreset names one of cryptocore's named parameter sets, applied to
	// every newly created vault.
	KdfPreset string

	// StreamThresholdBytes overrides vault.StreamThreshold when non-zero.
	StreamThresholdBytes int64

	// SyncMode/SyncInterval configure the syncengine.SyncScheduler every
	// unlocked vault session runs alongside it.
	SyncMode     syncengine.SyncMode
	SyncInterval time.Duration

	// DatabaseURL, when non-empty, enables the optional Postgres-backed
	// user/session/vault-registration store and the gorm sync-state mirror.
	DatabaseURL string
}

// LoadConfig reads configuration from the environment, falling back to
// development-friendly defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		BaseDir:              "./vaultdata",
		Port:                 "8443",
		SignSecret:           []byte("dev-sign-secret-change-me"),
		KdfPreset:            "interactive",
		StreamThresholdBytes: 0,
		SyncMode:             syncengine.ModeHybrid,
		SyncInterval:         5 * time.Minute,
	}

	if v := os.Getenv("VAULT_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("SIGN_SECRET"); v != "" {
		cfg.SignSecret = []byte(v)
	}
	if v := os.Getenv("KDF_PRESET"); v != "" {
		cfg.KdfPreset = v
	}
	if v := os.Getenv("STREAM_THRESHOLD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.StreamThresholdBytes = n
		}
	}
	if v := os.Getenv("SYNC_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SyncInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	return cfg, nil
}

// KdfParams resolves KdfPreset to a concrete cryptocore.KdfParams, defaulting
// to the interactive preset for an unrecognized name.
func (c *Config) KdfParams() cryptocore.KdfParams {
	switch c.KdfPreset {
	case "sensitive":
		return cryptocore.SensitiveParams()
	case "moderate":
		return cryptocore.ModerateParams()
	default:
		return cryptocore.InteractiveParams()
	}
}
