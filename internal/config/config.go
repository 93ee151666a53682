// Package config implements the configuration surface of spec.md §6: a
// single TOML document at $PW_HOME/config.toml -- loaded at startup,
// overridable by environment variables, and replaced wholesale at
// runtime by POST /api/config (internal/api) via an atomically-swapped
// read-only snapshot. Shared by internal/api and internal/daemon so
// neither package has to import the other for the Config type.
//
// The wire format for POST /api/config is JSON, so Config round-trips
// through encoding/json for the API and BurntSushi/toml (grounded on the
// teacher's daemon/config.go) for the on-disk file an operator may
// hand-edit. No config.json snapshot is read or written; a config
// applied through the API lives only in memory.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// Config is the full set of operator-tunable knobs spec.md §6 names.
// Field names follow the document's snake_case keys via struct tags;
// health_poll_interval also takes the PW_HEALTH_POLL environment
// override, applied on Load.
type Config struct {
	HealthPollIntervalSeconds float64 `toml:"health_poll_interval" json:"health_poll_interval"`

	GPSPollMinSeconds       float64 `toml:"map_poll_gps" json:"map_poll_gps"`
	GPSPollMaxSeconds       float64 `toml:"map_poll_gps_max" json:"map_poll_gps_max"`
	GPSMovementThresholdMS  float64 `toml:"gps_movement_threshold" json:"gps_movement_threshold"`

	LogRotateIntervalSeconds float64 `toml:"log_rotate_interval" json:"log_rotate_interval"`
	LogRotateArchives        int     `toml:"log_rotate_archives" json:"log_rotate_archives"`
	CleanupRotatedLogs       bool    `toml:"cleanup_rotated_logs" json:"cleanup_rotated_logs"`

	OfflineTilePath          string  `toml:"offline_tile_path" json:"offline_tile_path"`
	TileMaintenanceInterval  float64 `toml:"tile_maintenance_interval" json:"tile_maintenance_interval"`
	TileMaxAgeDays           int     `toml:"tile_max_age_days" json:"tile_max_age_days"`
	TileCacheLimitMB         int     `toml:"tile_cache_limit_mb" json:"tile_cache_limit_mb"`

	RoutePrefetchIntervalSeconds float64 `toml:"route_prefetch_interval" json:"route_prefetch_interval"`
	RoutePrefetchLookahead       int     `toml:"route_prefetch_lookahead" json:"route_prefetch_lookahead"`

	RemoteSyncURL        string  `toml:"remote_sync_url" json:"remote_sync_url"`
	RemoteSyncInterval   float64 `toml:"remote_sync_interval" json:"remote_sync_interval"`
	RemoteSyncBatchMax   int     `toml:"remote_sync_batch_max" json:"remote_sync_batch_max"`

	// LogPaths is the closed allow-list GET /api/logs may tail from.
	LogPaths []string `toml:"log_paths" json:"log_paths"`

	DebugMode bool `toml:"debug_mode" json:"debug_mode"`

	// Widgets enables individual dashboard widgets by name; a name
	// absent from this map is treated as disabled.
	Widgets map[string]bool `toml:"widget" json:"widgets"`
}

// Default returns production defaults. dataDir is normally $PW_HOME.
func Default(dataDir string) Config {
	return Config{
		HealthPollIntervalSeconds:    5,
		GPSPollMinSeconds:            1,
		GPSPollMaxSeconds:            30,
		GPSMovementThresholdMS:       1.0,
		LogRotateIntervalSeconds:     86400,
		LogRotateArchives:            5,
		CleanupRotatedLogs:           true,
		OfflineTilePath:              filepath.Join(dataDir, "tiles"),
		TileMaintenanceInterval:      3600,
		TileMaxAgeDays:               30,
		TileCacheLimitMB:             512,
		RoutePrefetchIntervalSeconds: 30,
		RoutePrefetchLookahead:       5,
		RemoteSyncURL:                "",
		RemoteSyncInterval:           300,
		RemoteSyncBatchMax:           500,
		LogPaths:                     []string{filepath.Join(dataDir, "logs", "piwardrive.log")},
		DebugMode:                    false,
		Widgets: map[string]bool{
			"health":     true,
			"gps":        true,
			"tilecache":  true,
			"remotesync": true,
		},
	}
}

// Home resolves the data directory: $PW_HOME if set, else ~/.piwardrive.
func Home() string {
	if v := os.Getenv("PW_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".piwardrive"
	}
	return filepath.Join(home, ".piwardrive")
}

// Load reads the TOML config file at path over Default(dataDir), then
// applies documented PW_* environment overrides, then validates.
// A missing file is not an error -- it yields pure defaults.
func Load(path, dataDir string) (Config, error) {
	cfg := Default(dataDir)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, domain.ConfigurationError("parse config %s: %v", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, domain.ConfigurationError("stat config %s: %v", path, err)
	}
	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PW_HEALTH_POLL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HealthPollIntervalSeconds = f
		}
	}
}

// Validate enforces the invariants the service refuses to start without
// (spec.md §7 ConfigurationError: "process refuses to start and prints
// the offending keys").
func Validate(cfg Config) error {
	var bad []string
	if cfg.HealthPollIntervalSeconds <= 0 {
		bad = append(bad, "health_poll_interval")
	}
	if cfg.GPSPollMinSeconds <= 0 || cfg.GPSPollMaxSeconds < cfg.GPSPollMinSeconds {
		bad = append(bad, "map_poll_gps/map_poll_gps_max")
	}
	if cfg.TileMaxAgeDays <= 0 {
		bad = append(bad, "tile_max_age_days")
	}
	if cfg.TileCacheLimitMB <= 0 {
		bad = append(bad, "tile_cache_limit_mb")
	}
	if cfg.RemoteSyncBatchMax <= 0 {
		bad = append(bad, "remote_sync_batch_max")
	}
	if len(bad) > 0 {
		return domain.ConfigurationError("invalid configuration keys: %v", bad)
	}
	return nil
}

// Save writes cfg as the operator-editable TOML file at path, creating
// parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// MarshalJSON and UnmarshalJSON are the default struct-tag behavior;
// ToJSON/FromJSON are thin helpers for POST /api/config's request and
// response bodies.
func ToJSON(cfg Config) ([]byte, error) { return json.Marshal(cfg) }

func FromJSON(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, domain.ValidationError("malformed config document: %v", err)
	}
	return cfg, nil
}
