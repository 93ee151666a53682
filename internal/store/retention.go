package store

import (
	"sync/atomic"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// RetentionPolicy maps each time-bounded table to its retention window.
// Operator-overridable defaults, chosen conservatively: longer for
// security-relevant rows, shorter for high-volume telemetry.
type RetentionPolicy struct {
	HealthRecords      time.Duration
	WifiDetections     time.Duration
	BluetoothDetections time.Duration
	CellularDetections time.Duration
	GpsTrackPoints     time.Duration
	SuspiciousActivity time.Duration
	NetworkAnalytics   time.Duration
}

// DefaultRetentionPolicy returns the resolved defaults: health_records
// 30d, wifi/bluetooth/cellular detections 90d, gps_track_points 14d,
// suspicious_activity 180d, network_analytics 90d.
func DefaultRetentionPolicy() RetentionPolicy {
	day := 24 * time.Hour
	return RetentionPolicy{
		HealthRecords:       30 * day,
		WifiDetections:      90 * day,
		BluetoothDetections: 90 * day,
		CellularDetections:  90 * day,
		GpsTrackPoints:      14 * day,
		SuspiciousActivity:  180 * day,
		NetworkAnalytics:    90 * day,
	}
}

// tableWindow pairs a table name with its retention duration, for the
// generic sweep in PurgeExpired.
type tableWindow struct {
	table    string
	tsColumn string
	window   time.Duration
}

func (p RetentionPolicy) windows() []tableWindow {
	return []tableWindow{
		{"wifi_detections", "detection_timestamp", p.WifiDetections},
		{"bluetooth_detections", "detection_timestamp", p.BluetoothDetections},
		{"cellular_detections", "detection_timestamp", p.CellularDetections},
		{"gps_track_points", "detection_timestamp", p.GpsTrackPoints},
		{"suspicious_activity", "detection_timestamp", p.SuspiciousActivity},
		{"network_analytics", "detection_timestamp", p.NetworkAnalytics},
	}
}

// PurgeExpired deletes rows older than each table's configured window,
// returning per-table counts of rows removed. health_records is handled
// separately via PurgeOldHealth since it uses the buffered-writer path.
func (d *DB) PurgeExpired(policy RetentionPolicy, now time.Time) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, w := range policy.windows() {
		cutoff := now.Add(-w.window).UTC().Format(time.RFC3339Nano)
		res, err := d.db.Exec(`DELETE FROM `+w.table+` WHERE `+w.tsColumn+` < ?`, cutoff)
		if err != nil {
			return counts, domain.StorageError(err, "purge expired rows from %s", w.table)
		}
		n, _ := res.RowsAffected()
		counts[w.table] = n
	}
	return counts, nil
}

// vacuuming guards against concurrent Vacuum calls; spec.md requires
// Vacuum to be a no-op while another writer (here: another Vacuum) is
// active, rather than blocking or erroring.
var vacuuming int32

// Vacuum reclaims space. No-op if another Vacuum call is already in
// flight.
func (d *DB) Vacuum() error {
	if !atomic.CompareAndSwapInt32(&vacuuming, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&vacuuming, 0)

	d.Flush()
	if _, err := d.db.Exec(`VACUUM`); err != nil {
		return domain.StorageError(err, "vacuum")
	}
	return nil
}

// tableNames lists every table get_table_counts reports on.
var tableNames = []string{
	"health_records", "app_state", "dashboard_settings", "fingerprints",
	"scan_sessions", "wifi_detections", "bluetooth_detections",
	"cellular_detections", "gps_track_points", "network_fingerprints",
	"suspicious_activity", "network_analytics", "sync_offsets", "geofence_polygons",
}

// GetTableCounts returns {table -> row count} for observability.
func (d *DB) GetTableCounts() (map[string]int64, error) {
	d.Flush()
	counts := make(map[string]int64, len(tableNames))
	for _, t := range tableNames {
		var n int64
		if err := d.db.QueryRow(`SELECT COUNT(*) FROM ` + t).Scan(&n); err != nil {
			return nil, domain.StorageError(err, "count rows in %s", t)
		}
		counts[t] = n
	}
	return counts, nil
}
