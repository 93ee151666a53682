package store

import (
	"database/sql"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// GetAppState returns the singleton app_state row, zero-valued with
// FirstRun=true if it has never been written.
func (d *DB) GetAppState() (domain.AppState, error) {
	var s domain.AppState
	var lastStart string
	var firstRun int
	err := d.db.QueryRow(`SELECT last_screen, last_start, first_run FROM app_state WHERE id = 1`).
		Scan(&s.LastScreen, &lastStart, &firstRun)
	if err == sql.ErrNoRows {
		return domain.AppState{FirstRun: true}, nil
	}
	if err != nil {
		return domain.AppState{}, domain.StorageError(err, "load app state")
	}
	if lastStart != "" {
		s.LastStart, _ = time.Parse(time.RFC3339Nano, lastStart)
	}
	s.FirstRun = firstRun != 0
	return s, nil
}

// SaveAppState upserts the singleton app_state row.
func (d *DB) SaveAppState(s domain.AppState) error {
	firstRun := 0
	if s.FirstRun {
		firstRun = 1
	}
	_, err := d.db.Exec(`INSERT INTO app_state (id, last_screen, last_start, first_run)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_screen=excluded.last_screen, last_start=excluded.last_start, first_run=excluded.first_run`,
		s.LastScreen, s.LastStart.UTC().Format(time.RFC3339Nano), firstRun)
	if err != nil {
		return domain.StorageError(err, "save app state")
	}
	return nil
}

// GetDashboardSettings returns the singleton dashboard layout, or the
// empty-list default if never saved.
func (d *DB) GetDashboardSettings() (domain.DashboardSettings, error) {
	var s domain.DashboardSettings
	var updatedAt string
	err := d.db.QueryRow(`SELECT widgets_json, updated_at FROM dashboard_settings WHERE id = 1`).
		Scan(&s.WidgetsJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return domain.DashboardSettings{WidgetsJSON: "[]"}, nil
	}
	if err != nil {
		return domain.DashboardSettings{}, domain.StorageError(err, "load dashboard settings")
	}
	if updatedAt != "" {
		s.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	}
	return s, nil
}

// SaveDashboardSettings atomically replaces the singleton widget layout.
func (d *DB) SaveDashboardSettings(s domain.DashboardSettings) error {
	_, err := d.db.Exec(`INSERT INTO dashboard_settings (id, widgets_json, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET widgets_json=excluded.widgets_json, updated_at=excluded.updated_at`,
		s.WidgetsJSON, s.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return domain.StorageError(err, "save dashboard settings")
	}
	return nil
}

// UpsertFingerprint creates a fingerprint on first sight or advances
// LastSeen on subsequent sightings; FirstSeen never changes once set.
func (d *DB) UpsertFingerprint(bssid, ssid string, seenAt time.Time) error {
	ts := seenAt.UTC().Format(time.RFC3339Nano)
	_, err := d.db.Exec(`INSERT INTO fingerprints (bssid, ssid, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bssid) DO UPDATE SET last_seen=excluded.last_seen, ssid=excluded.ssid`,
		bssid, ssid, ts, ts)
	if err != nil {
		return domain.StorageError(err, "upsert fingerprint")
	}
	return nil
}

// GetFingerprint looks up a fingerprint by BSSID.
func (d *DB) GetFingerprint(bssid string) (*domain.Fingerprint, error) {
	var fp domain.Fingerprint
	var firstSeen, lastSeen string
	err := d.db.QueryRow(`SELECT bssid, ssid, first_seen, last_seen FROM fingerprints WHERE bssid = ?`, bssid).
		Scan(&fp.BSSID, &fp.SSID, &firstSeen, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError(err, "get fingerprint")
	}
	fp.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	fp.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
	return &fp, nil
}
