// Package store is PiWardrive's embedded persistence layer: a single
// SQLite database (via the pure-Go modernc.org/sqlite driver, no CGO)
// holding health telemetry, detection records, and small singleton/config
// rows. The DB is opened once by the Supervisor and shared; SQLite itself
// is single-writer, so the pool is capped at one connection and callers
// never share a *DB across independent event loops.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// migration is one forward-only schema step. Rollback is recorded for
// operator-invoked downgrades but never run automatically.
type migration struct {
	Version  int
	Apply    string
	Rollback string
}

// migrations lists every schema version in order. Open() refuses to start
// if the on-disk schema_migrations max version exceeds the highest
// version known here (forward-incompatible: an older binary opening a
// newer database).
var migrations = []migration{
	{
		Version: 1,
		Apply: `CREATE TABLE IF NOT EXISTS health_records (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        TEXT NOT NULL,
			cpu_temp_celsius REAL,
			cpu_percent      REAL,
			mem_percent      REAL,
			disk_percent     REAL
		)`,
		Rollback: `DROP TABLE health_records`,
	},
	{
		Version:  2,
		Apply:    `CREATE INDEX IF NOT EXISTS idx_health_timestamp ON health_records(timestamp)`,
		Rollback: `DROP INDEX idx_health_timestamp`,
	},
	{
		Version: 3,
		Apply: `CREATE TABLE IF NOT EXISTS app_state (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			last_screen TEXT NOT NULL DEFAULT '',
			last_start  TEXT NOT NULL DEFAULT '',
			first_run   INTEGER NOT NULL DEFAULT 1
		)`,
		Rollback: `DROP TABLE app_state`,
	},
	{
		Version: 4,
		Apply: `CREATE TABLE IF NOT EXISTS dashboard_settings (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			widgets_json TEXT NOT NULL DEFAULT '[]',
			updated_at   TEXT NOT NULL DEFAULT ''
		)`,
		Rollback: `DROP TABLE dashboard_settings`,
	},
	{
		Version: 5,
		Apply: `CREATE TABLE IF NOT EXISTS fingerprints (
			bssid      TEXT PRIMARY KEY,
			ssid       TEXT NOT NULL DEFAULT '',
			first_seen TEXT NOT NULL,
			last_seen  TEXT NOT NULL
		)`,
		Rollback: `DROP TABLE fingerprints`,
	},
	{
		Version: 6,
		Apply: `CREATE TABLE IF NOT EXISTS scan_sessions (
			id         TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at   TEXT
		)`,
		Rollback: `DROP TABLE scan_sessions`,
	},
	{
		Version: 7,
		Apply: `CREATE TABLE IF NOT EXISTS wifi_detections (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_session_id     TEXT NOT NULL REFERENCES scan_sessions(id),
			detection_timestamp TEXT NOT NULL,
			bssid               TEXT NOT NULL,
			ssid                TEXT NOT NULL DEFAULT '',
			channel             INTEGER,
			signal_dbm          INTEGER,
			encryption          TEXT NOT NULL DEFAULT '',
			lat                 REAL,
			lon                 REAL
		)`,
		Rollback: `DROP TABLE wifi_detections`,
	},
	{
		Version: 8,
		Apply: `CREATE TABLE IF NOT EXISTS bluetooth_detections (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_session_id     TEXT NOT NULL REFERENCES scan_sessions(id),
			detection_timestamp TEXT NOT NULL,
			address             TEXT NOT NULL,
			name                TEXT NOT NULL DEFAULT '',
			rssi                INTEGER,
			lat                 REAL,
			lon                 REAL
		)`,
		Rollback: `DROP TABLE bluetooth_detections`,
	},
	{
		Version: 9,
		Apply: `CREATE TABLE IF NOT EXISTS cellular_detections (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_session_id     TEXT NOT NULL REFERENCES scan_sessions(id),
			detection_timestamp TEXT NOT NULL,
			mcc                 TEXT NOT NULL DEFAULT '',
			mnc                 TEXT NOT NULL DEFAULT '',
			cell_id             TEXT NOT NULL DEFAULT '',
			signal_dbm          INTEGER,
			lat                 REAL,
			lon                 REAL
		)`,
		Rollback: `DROP TABLE cellular_detections`,
	},
	{
		Version: 10,
		Apply: `CREATE TABLE IF NOT EXISTS gps_track_points (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_session_id     TEXT NOT NULL REFERENCES scan_sessions(id),
			detection_timestamp TEXT NOT NULL,
			lat                 REAL NOT NULL,
			lon                 REAL NOT NULL,
			accuracy            REAL,
			speed_m_s           REAL
		)`,
		Rollback: `DROP TABLE gps_track_points`,
	},
	{
		Version: 11,
		Apply: `CREATE TABLE IF NOT EXISTS network_fingerprints (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_session_id     TEXT NOT NULL REFERENCES scan_sessions(id),
			detection_timestamp TEXT NOT NULL,
			bssid               TEXT NOT NULL,
			fingerprint_hash    TEXT NOT NULL
		)`,
		Rollback: `DROP TABLE network_fingerprints`,
	},
	{
		Version: 12,
		Apply: `CREATE TABLE IF NOT EXISTS suspicious_activity (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_session_id     TEXT NOT NULL REFERENCES scan_sessions(id),
			detection_timestamp TEXT NOT NULL,
			category            TEXT NOT NULL,
			description         TEXT NOT NULL,
			related_bssid       TEXT NOT NULL DEFAULT ''
		)`,
		Rollback: `DROP TABLE suspicious_activity`,
	},
	{
		Version: 13,
		Apply: `CREATE TABLE IF NOT EXISTS network_analytics (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_session_id     TEXT NOT NULL REFERENCES scan_sessions(id),
			detection_timestamp TEXT NOT NULL,
			metric              TEXT NOT NULL,
			value               REAL NOT NULL
		)`,
		Rollback: `DROP TABLE network_analytics`,
	},
	{
		Version: 14,
		Apply: `CREATE TABLE IF NOT EXISTS sync_offsets (
			destination_url      TEXT PRIMARY KEY,
			last_row_id          INTEGER NOT NULL DEFAULT 0,
			last_attempt         TEXT,
			last_success         TEXT,
			consecutive_failures INTEGER NOT NULL DEFAULT 0
		)`,
		Rollback: `DROP TABLE sync_offsets`,
	},
	{
		Version: 15,
		Apply: `CREATE TABLE IF NOT EXISTS geofence_polygons (
			name          TEXT PRIMARY KEY,
			points_json   TEXT NOT NULL,
			enter_message TEXT NOT NULL DEFAULT '',
			exit_message  TEXT NOT NULL DEFAULT ''
		)`,
		Rollback: `DROP TABLE geofence_polygons`,
	},
	{
		Version: 16,
		Apply: `CREATE INDEX IF NOT EXISTS idx_wifi_session ON wifi_detections(scan_session_id);
CREATE INDEX IF NOT EXISTS idx_bt_session ON bluetooth_detections(scan_session_id);
CREATE INDEX IF NOT EXISTS idx_cell_session ON cellular_detections(scan_session_id);
CREATE INDEX IF NOT EXISTS idx_gps_session ON gps_track_points(scan_session_id);
CREATE INDEX IF NOT EXISTS idx_gps_ts ON gps_track_points(detection_timestamp);
CREATE INDEX IF NOT EXISTS idx_netfp_session ON network_fingerprints(scan_session_id);
CREATE INDEX IF NOT EXISTS idx_susp_session ON suspicious_activity(scan_session_id);
CREATE INDEX IF NOT EXISTS idx_analytics_session ON network_analytics(scan_session_id);`,
		Rollback: ``,
	},
}

// DB wraps a SQLite connection with WAL mode, a versioned migration set,
// and a buffered health-record writer.
type DB struct {
	db *sql.DB

	health *healthBuffer
}

// ForwardIncompatibleError is returned by Open when the on-disk schema
// version is newer than this binary understands.
type ForwardIncompatibleError struct {
	OnDisk int
	Known  int
}

func (e *ForwardIncompatibleError) Error() string {
	return fmt.Sprintf("database schema version %d is newer than the %d this binary knows (upgrade required)", e.OnDisk, e.Known)
}

// Config tunes the health buffer's amortised-write policy.
type Config struct {
	// HealthBufferSize is the record count that triggers an eager flush.
	HealthBufferSize int
	// HealthFlushInterval is the maximum time a record waits unflushed.
	HealthFlushInterval int64 // nanoseconds, avoids importing time at config-surface level
}

// DefaultConfig returns a buffer of 20 records or 5s, whichever first.
func DefaultConfig() Config {
	return Config{HealthBufferSize: 20, HealthFlushInterval: int64(5e9)}
}

// Open creates or opens the database at dir/state.db, runs pending
// migrations, and starts the buffered health writer.
func Open(dir string, cfg Config) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer; one connection avoids SQLITE_BUSY storms
	// and keeps write ordering deterministic.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)

	d := &DB{db: sqldb}
	if err := d.migrate(); err != nil {
		sqldb.Close()
		return nil, err
	}
	d.health = newHealthBuffer(d, cfg)
	return d, nil
}

// Close flushes any buffered writes and closes the underlying connection.
func (d *DB) Close() error {
	d.health.stop()
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// SchemaVersion returns the highest migration version currently applied,
// for the `piwardrive migrate` CLI to report.
func (d *DB) SchemaVersion() (int, error) {
	var v int
	row := d.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (d *DB) migrate() error {
	if _, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var onDisk int
	row := d.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&onDisk); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	highestKnown := 0
	for _, m := range migrations {
		if m.Version > highestKnown {
			highestKnown = m.Version
		}
	}
	if onDisk > highestKnown {
		return &ForwardIncompatibleError{OnDisk: onDisk, Known: highestKnown}
	}

	for _, m := range migrations {
		if m.Version <= onDisk {
			continue
		}
		if _, err := d.db.Exec(m.Apply); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if _, err := d.db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// MigrateTo rolls the schema back to target by running, in descending
// version order and inside a single transaction, the Rollback statement
// recorded for every applied migration above target, removing its
// schema_migrations row as it goes. target 0 runs every recorded
// rollback, leaving only the schema_migrations table itself (spec.md §8:
// forward-then-fully-backward leaves an empty schema with only
// schema_migrations present). It refuses to run forward -- target above
// the current version is a no-op reported as an error, since applying new
// migrations is Open's job, not this CLI-facing downgrade path.
func (d *DB) MigrateTo(target int) error {
	current, err := d.SchemaVersion()
	if err != nil {
		return err
	}
	if target > current {
		return fmt.Errorf("migrate: target version %d is ahead of current version %d; forward migrations run automatically on open", target, current)
	}
	if target == current {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rollback transaction: %w", err)
	}
	defer tx.Rollback()

	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Version <= target || m.Version > current {
			continue
		}
		if m.Rollback != "" {
			if _, err := tx.Exec(m.Rollback); err != nil {
				return fmt.Errorf("rollback migration %d failed: %w", m.Version, err)
			}
		}
		if _, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
			return fmt.Errorf("remove migration record %d: %w", m.Version, err)
		}
	}
	return tx.Commit()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
