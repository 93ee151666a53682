package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
	"github.com/piwardrive/piwardrive/internal/retry"
)

// diskRetryDelays is the fixed 50/200/800ms sequence spec.md mandates for
// transient disk faults on the Store.
var diskRetryDelays = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 800 * time.Millisecond}

// healthBuffer amortises health_records writes: records accumulate until
// either the buffer reaches its size threshold or the flush interval
// elapses, at which point they're written in one transaction.
type healthBuffer struct {
	db  *DB
	cfg Config

	mu      sync.Mutex
	pending []domain.HealthRecord

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newHealthBuffer(db *DB, cfg Config) *healthBuffer {
	if cfg.HealthBufferSize <= 0 {
		cfg.HealthBufferSize = 20
	}
	if cfg.HealthFlushInterval <= 0 {
		cfg.HealthFlushInterval = int64(5 * time.Second)
	}
	hb := &healthBuffer{
		db:      db,
		cfg:     cfg,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go hb.loop()
	return hb
}

func (hb *healthBuffer) loop() {
	defer close(hb.doneCh)
	interval := time.Duration(hb.cfg.HealthFlushInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-hb.stopCh:
			hb.flush()
			return
		case <-ticker.C:
			hb.flush()
		case <-hb.flushCh:
			hb.flush()
		}
	}
}

func (hb *healthBuffer) stop() {
	close(hb.stopCh)
	<-hb.doneCh
}

// SaveHealth appends a record to the buffer, triggering an eager flush if
// the buffer has reached its size threshold.
func (hb *healthBuffer) SaveHealth(rec domain.HealthRecord) {
	hb.mu.Lock()
	hb.pending = append(hb.pending, rec)
	full := len(hb.pending) >= hb.cfg.HealthBufferSize
	hb.mu.Unlock()

	if full {
		select {
		case hb.flushCh <- struct{}{}:
		default:
		}
	}
}

// flush writes all pending records in one transaction, retrying
// transient disk errors per spec.md's fixed delay sequence.
func (hb *healthBuffer) flush() {
	hb.mu.Lock()
	if len(hb.pending) == 0 {
		hb.mu.Unlock()
		return
	}
	batch := hb.pending
	hb.pending = nil
	hb.mu.Unlock()

	ctx := context.Background()
	err := retry.FixedDelays(ctx, diskRetryDelays, func() error {
		return writeHealthBatch(hb.db.db, batch)
	})
	if err != nil {
		// Re-queue so the next flush retries; a persistent disk fault
		// keeps growing the in-memory buffer rather than silently
		// dropping samples, bounded by operator-visible memory growth.
		hb.mu.Lock()
		hb.pending = append(batch, hb.pending...)
		hb.mu.Unlock()
	}
}

func writeHealthBatch(sqldb *sql.DB, batch []domain.HealthRecord) error {
	tx, err := sqldb.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO health_records
		(timestamp, cpu_temp_celsius, cpu_percent, mem_percent, disk_percent)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range batch {
		if _, err := stmt.Exec(
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.CPUTempCelsius, rec.CPUPercent, rec.MemPercent, rec.DiskPercent,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SaveHealth buffers rec for amortised write.
func (d *DB) SaveHealth(rec domain.HealthRecord) {
	d.health.SaveHealth(rec)
}

// Flush forces the buffered health writer to drain immediately.
func (d *DB) Flush() {
	d.health.flush()
}

// LoadRecentHealth returns the most recent n health records, newest
// first. Flushes the buffer first so in-flight samples are visible.
func (d *DB) LoadRecentHealth(n int) ([]domain.HealthRecord, error) {
	d.Flush()
	rows, err := d.db.Query(`SELECT id, timestamp, cpu_temp_celsius, cpu_percent, mem_percent, disk_percent
		FROM health_records ORDER BY timestamp DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, domain.StorageError(err, "load recent health")
	}
	defer rows.Close()

	var out []domain.HealthRecord
	for rows.Next() {
		var rec domain.HealthRecord
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.CPUTempCelsius, &rec.CPUPercent, &rec.MemPercent, &rec.DiskPercent); err != nil {
			return nil, domain.StorageError(err, "scan health record")
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError(err, "iterate health records")
	}
	return out, nil
}

// HealthRange returns health_records with start <= timestamp <= end,
// oldest first, for CLI range export.
func (d *DB) HealthRange(start, end time.Time) ([]domain.HealthRecord, error) {
	d.Flush()
	rows, err := d.db.Query(`SELECT id, timestamp, cpu_temp_celsius, cpu_percent, mem_percent, disk_percent
		FROM health_records WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC, id ASC`,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, domain.StorageError(err, "load health range")
	}
	defer rows.Close()

	var out []domain.HealthRecord
	for rows.Next() {
		var rec domain.HealthRecord
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.CPUTempCelsius, &rec.CPUPercent, &rec.MemPercent, &rec.DiskPercent); err != nil {
			return nil, domain.StorageError(err, "scan health record")
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError(err, "iterate health records")
	}
	return out, nil
}

// PurgeOldHealth deletes health_records with timestamp < cutoff.
func (d *DB) PurgeOldHealth(cutoff time.Time) (int64, error) {
	d.Flush()
	res, err := d.db.Exec(`DELETE FROM health_records WHERE timestamp < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, domain.StorageError(err, "purge old health")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
