package store

import (
	"database/sql"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// GetSyncOffset returns the resumable upload cursor for destination, or a
// zero-valued offset if RemoteSync has never synced to it before.
func (d *DB) GetSyncOffset(destination string) (domain.SyncOffset, error) {
	var off domain.SyncOffset
	var lastAttempt, lastSuccess sql.NullString
	off.DestinationURL = destination
	err := d.db.QueryRow(`SELECT last_row_id, last_attempt, last_success, consecutive_failures
		FROM sync_offsets WHERE destination_url = ?`, destination).
		Scan(&off.LastRowID, &lastAttempt, &lastSuccess, &off.ConsecutiveFailures)
	if err == sql.ErrNoRows {
		return off, nil
	}
	if err != nil {
		return domain.SyncOffset{}, domain.StorageError(err, "get sync offset")
	}
	if lastAttempt.Valid {
		off.LastAttempt, _ = time.Parse(time.RFC3339Nano, lastAttempt.String)
	}
	if lastSuccess.Valid {
		off.LastSuccess, _ = time.Parse(time.RFC3339Nano, lastSuccess.String)
	}
	return off, nil
}

// SaveSyncOffset upserts the cursor for destination.
func (d *DB) SaveSyncOffset(off domain.SyncOffset) error {
	var lastAttempt, lastSuccess sql.NullString
	if !off.LastAttempt.IsZero() {
		lastAttempt = sql.NullString{String: off.LastAttempt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	if !off.LastSuccess.IsZero() {
		lastSuccess = sql.NullString{String: off.LastSuccess.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := d.db.Exec(`INSERT INTO sync_offsets
		(destination_url, last_row_id, last_attempt, last_success, consecutive_failures)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(destination_url) DO UPDATE SET
			last_row_id=excluded.last_row_id,
			last_attempt=excluded.last_attempt,
			last_success=excluded.last_success,
			consecutive_failures=excluded.consecutive_failures`,
		off.DestinationURL, off.LastRowID, lastAttempt, lastSuccess, off.ConsecutiveFailures)
	if err != nil {
		return domain.StorageError(err, "save sync offset")
	}
	return nil
}

// RowsSince returns up to limit health_records with id > sinceRowID,
// ordered by id ascending — the range RemoteSync extracts and uploads.
func (d *DB) RowsSince(sinceRowID int64, limit int) ([]domain.HealthRecord, int64, error) {
	d.Flush()
	rows, err := d.db.Query(`SELECT id, timestamp, cpu_temp_celsius, cpu_percent, mem_percent, disk_percent
		FROM health_records WHERE id > ? ORDER BY id ASC LIMIT ?`, sinceRowID, limit)
	if err != nil {
		return nil, sinceRowID, domain.StorageError(err, "load rows since offset")
	}
	defer rows.Close()

	var out []domain.HealthRecord
	maxID := sinceRowID
	for rows.Next() {
		var rec domain.HealthRecord
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.CPUTempCelsius, &rec.CPUPercent, &rec.MemPercent, &rec.DiskPercent); err != nil {
			return nil, sinceRowID, domain.StorageError(err, "scan row")
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}
	return out, maxID, rows.Err()
}
