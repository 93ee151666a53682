package store

import (
	"database/sql"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// StartScanSession creates a new scan session row.
func (d *DB) StartScanSession(id string, startedAt time.Time) error {
	_, err := d.db.Exec(`INSERT INTO scan_sessions (id, started_at) VALUES (?, ?)`,
		id, startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return domain.StorageError(err, "start scan session")
	}
	return nil
}

// EndScanSession marks a scan session as finished.
func (d *DB) EndScanSession(id string, endedAt time.Time) error {
	res, err := d.db.Exec(`UPDATE scan_sessions SET ended_at = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return domain.StorageError(err, "end scan session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundError("scan session %q", id)
	}
	return nil
}

// sessionExists is consulted by every detection append API: spec.md
// requires a ValidationError, not a constraint-violation StorageError,
// when the caller references an unknown scan_session_id.
func (d *DB) sessionExists(id string) (bool, error) {
	var exists int
	err := d.db.QueryRow(`SELECT 1 FROM scan_sessions WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, domain.StorageError(err, "check scan session")
	}
	return true, nil
}

func (d *DB) requireSession(id string) error {
	ok, err := d.sessionExists(id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ValidationError("unknown scan_session_id %q", id)
	}
	return nil
}

// AppendWifiDetection records one Wi-Fi observation.
func (d *DB) AppendWifiDetection(det domain.WifiDetection) error {
	if err := d.requireSession(det.ScanSessionID); err != nil {
		return err
	}
	_, err := d.db.Exec(`INSERT INTO wifi_detections
		(scan_session_id, detection_timestamp, bssid, ssid, channel, signal_dbm, encryption, lat, lon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		det.ScanSessionID, det.DetectionTimestamp.UTC().Format(time.RFC3339Nano),
		det.BSSID, det.SSID, det.Channel, det.SignalDBM, det.Encryption, det.Lat, det.Lon)
	if err != nil {
		return domain.StorageError(err, "append wifi detection")
	}
	return nil
}

// AppendBluetoothDetection records one Bluetooth observation.
func (d *DB) AppendBluetoothDetection(det domain.BluetoothDetection) error {
	if err := d.requireSession(det.ScanSessionID); err != nil {
		return err
	}
	_, err := d.db.Exec(`INSERT INTO bluetooth_detections
		(scan_session_id, detection_timestamp, address, name, rssi, lat, lon)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		det.ScanSessionID, det.DetectionTimestamp.UTC().Format(time.RFC3339Nano),
		det.Address, det.Name, det.RSSI, det.Lat, det.Lon)
	if err != nil {
		return domain.StorageError(err, "append bluetooth detection")
	}
	return nil
}

// AppendCellularDetection records one cell-tower observation.
func (d *DB) AppendCellularDetection(det domain.CellularDetection) error {
	if err := d.requireSession(det.ScanSessionID); err != nil {
		return err
	}
	_, err := d.db.Exec(`INSERT INTO cellular_detections
		(scan_session_id, detection_timestamp, mcc, mnc, cell_id, signal_dbm, lat, lon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		det.ScanSessionID, det.DetectionTimestamp.UTC().Format(time.RFC3339Nano),
		det.MCC, det.MNC, det.CellID, det.SignalDBM, det.Lat, det.Lon)
	if err != nil {
		return domain.StorageError(err, "append cellular detection")
	}
	return nil
}

// AppendGpsTrackPoint records one GPS fix.
func (d *DB) AppendGpsTrackPoint(p domain.GpsTrackPoint) error {
	if err := d.requireSession(p.ScanSessionID); err != nil {
		return err
	}
	_, err := d.db.Exec(`INSERT INTO gps_track_points
		(scan_session_id, detection_timestamp, lat, lon, accuracy, speed_m_s)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ScanSessionID, p.DetectionTimestamp.UTC().Format(time.RFC3339Nano),
		p.Lat, p.Lon, p.Accuracy, p.SpeedMS)
	if err != nil {
		return domain.StorageError(err, "append gps track point")
	}
	return nil
}

// RecentGpsTrack returns the n most recent GPS fixes for a session,
// oldest first — feeds the TileCache's route-ahead prefetch.
func (d *DB) RecentGpsTrack(sessionID string, n int) ([]domain.GpsTrackPoint, error) {
	rows, err := d.db.Query(`SELECT id, scan_session_id, detection_timestamp, lat, lon, accuracy, speed_m_s
		FROM gps_track_points WHERE scan_session_id = ? ORDER BY detection_timestamp DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, domain.StorageError(err, "load recent gps track")
	}
	defer rows.Close()

	var out []domain.GpsTrackPoint
	for rows.Next() {
		var p domain.GpsTrackPoint
		var ts string
		if err := rows.Scan(&p.ID, &p.ScanSessionID, &ts, &p.Lat, &p.Lon, &p.Accuracy, &p.SpeedMS); err != nil {
			return nil, domain.StorageError(err, "scan gps track point")
		}
		p.DetectionTimestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, p)
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// GpsTrackRange returns every GPS fix with start <= detection_timestamp
// <= end across all sessions, oldest first, for CLI KML export.
func (d *DB) GpsTrackRange(start, end time.Time) ([]domain.GpsTrackPoint, error) {
	rows, err := d.db.Query(`SELECT id, scan_session_id, detection_timestamp, lat, lon, accuracy, speed_m_s
		FROM gps_track_points WHERE detection_timestamp >= ? AND detection_timestamp <= ?
		ORDER BY detection_timestamp ASC, id ASC`,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, domain.StorageError(err, "load gps track range")
	}
	defer rows.Close()

	var out []domain.GpsTrackPoint
	for rows.Next() {
		var p domain.GpsTrackPoint
		var ts string
		if err := rows.Scan(&p.ID, &p.ScanSessionID, &ts, &p.Lat, &p.Lon, &p.Accuracy, &p.SpeedMS); err != nil {
			return nil, domain.StorageError(err, "scan gps track point")
		}
		p.DetectionTimestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

// AppendNetworkFingerprint records a derived per-network summary.
func (d *DB) AppendNetworkFingerprint(nf domain.NetworkFingerprint) error {
	if err := d.requireSession(nf.ScanSessionID); err != nil {
		return err
	}
	_, err := d.db.Exec(`INSERT INTO network_fingerprints
		(scan_session_id, detection_timestamp, bssid, fingerprint_hash)
		VALUES (?, ?, ?, ?)`,
		nf.ScanSessionID, nf.DetectionTimestamp.UTC().Format(time.RFC3339Nano), nf.BSSID, nf.FingerprintHash)
	if err != nil {
		return domain.StorageError(err, "append network fingerprint")
	}
	return nil
}

// AppendSuspiciousActivity flags a detection as anomalous.
func (d *DB) AppendSuspiciousActivity(sa domain.SuspiciousActivity) error {
	if err := d.requireSession(sa.ScanSessionID); err != nil {
		return err
	}
	_, err := d.db.Exec(`INSERT INTO suspicious_activity
		(scan_session_id, detection_timestamp, category, description, related_bssid)
		VALUES (?, ?, ?, ?, ?)`,
		sa.ScanSessionID, sa.DetectionTimestamp.UTC().Format(time.RFC3339Nano), sa.Category, sa.Description, sa.RelatedBSSID)
	if err != nil {
		return domain.StorageError(err, "append suspicious activity")
	}
	return nil
}

// AppendNetworkAnalyticsRow records a derived per-session rollup metric.
func (d *DB) AppendNetworkAnalyticsRow(r domain.NetworkAnalyticsRow) error {
	if err := d.requireSession(r.ScanSessionID); err != nil {
		return err
	}
	_, err := d.db.Exec(`INSERT INTO network_analytics
		(scan_session_id, detection_timestamp, metric, value)
		VALUES (?, ?, ?, ?)`,
		r.ScanSessionID, r.DetectionTimestamp.UTC().Format(time.RFC3339Nano), r.Metric, r.Value)
	if err != nil {
		return domain.StorageError(err, "append network analytics row")
	}
	return nil
}
