// Package remotesync implements the Remote Sync Engine of spec.md §4.6:
// it extracts unsynced Store rows into a range-db file and pushes them to
// a remote aggregator with a resumable, at-most-once-observable offset.
// Rate limiting follows FluxForge's scheduler/limiter.go token-bucket
// wrapper around golang.org/x/time/rate; retry/backoff reuses the shared
// internal/retry helper (same full-jitter exponential shape the teacher's
// download.go would use for a flaky network fetch).
package remotesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/piwardrive/piwardrive/internal/domain"
	"github.com/piwardrive/piwardrive/internal/infra/metrics"
	"github.com/piwardrive/piwardrive/internal/retry"
)

// RowSource is the Store surface RemoteSync needs: ranged extraction of
// the table it uploads.
type RowSource interface {
	RowsSince(sinceRowID int64, limit int) ([]domain.HealthRecord, int64, error)
	GetSyncOffset(destination string) (domain.SyncOffset, error)
	SaveSyncOffset(domain.SyncOffset) error
}

// Config configures one destination's Engine.
type Config struct {
	Destination    string
	BatchMax       int
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	RateLimit      rate.Limit
	RateBurst      int
	RetryBase      time.Duration
	RetryCap       time.Duration
	MaxRetries     int
}

// DefaultConfig returns production defaults for one destination.
func DefaultConfig(destination string) Config {
	return Config{
		Destination:    destination,
		BatchMax:       500,
		IdleTimeout:    5 * time.Minute,
		RequestTimeout: 15 * time.Second,
		RateLimit:      rate.Limit(2), // 2 req/s sustained
		RateBurst:      4,
		RetryBase:      250 * time.Millisecond,
		RetryCap:       30 * time.Second,
		MaxRetries:     3,
	}
}

// Engine pushes one destination's unsynced rows on each SyncOnce call.
// A Supervisor registers SyncOnce as a scheduled job per spec.md §4.3;
// the job's own consecutive-failure counter disables it after repeated
// permanent failures, so Engine itself never disables anything.
type Engine struct {
	cfg     Config
	store   RowSource
	client  *http.Client
	limiter *rate.Limiter
}

// New creates an Engine for one destination.
func New(cfg Config, store RowSource) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   store,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
	}
}

// SyncOnce runs one sync attempt: extract, encode, rate-limit, POST,
// advance or record failure. Returns a *domain.Error with KindPermanentProt
// for a non-retriable 4xx (the scheduler disables the job after its usual
// consecutive-failure count), or KindTransientNet after retries are
// exhausted on a 5xx/timeout/transport failure.
func (e *Engine) SyncOnce(ctx context.Context) error {
	now := time.Now().UTC()
	off, err := e.store.GetSyncOffset(e.cfg.Destination)
	if err != nil {
		return err
	}

	if off.ConsecutiveFailures > 0 {
		backoff := retry.ExponentialConfig{Base: e.cfg.RetryBase, Cap: e.cfg.RetryCap}.Delay(off.ConsecutiveFailures - 1)
		if !off.LastAttempt.IsZero() && now.Before(off.LastAttempt.Add(backoff)) {
			return nil // still inside this destination's own backoff window
		}
	}

	rows, maxID, err := e.store.RowsSince(off.LastRowID, e.cfg.BatchMax)
	if err != nil {
		return domain.StorageError(err, "remotesync: extract rows since %d", off.LastRowID)
	}
	if len(rows) == 0 {
		return nil // nothing new; spec.md §4.6 step 5 — skip entirely
	}

	body, err := encodeHealthRows(rows)
	if err != nil {
		return domain.Wrap(domain.KindStorage, "remotesync: encode range-db", err)
	}

	off.LastAttempt = now
	postErr := e.post(ctx, body, off.LastRowID, maxID)

	if postErr == nil {
		off.LastRowID = maxID
		off.LastSuccess = now
		off.ConsecutiveFailures = 0
		metrics.SyncUploads.WithLabelValues("success").Inc()
	} else {
		off.ConsecutiveFailures++
		outcome := "transient_failure"
		if kindOf(postErr) == domain.KindPermanentProt {
			outcome = "permanent_failure"
		}
		metrics.SyncUploads.WithLabelValues(outcome).Inc()
	}
	metrics.SyncLagRows.WithLabelValues(e.cfg.Destination).Set(float64(maxID - off.LastRowID))

	if saveErr := e.store.SaveSyncOffset(off); saveErr != nil {
		if postErr != nil {
			return postErr
		}
		return saveErr
	}
	return postErr
}

func kindOf(err error) domain.Kind {
	var de *domain.Error
	if ok := asDomainError(err, &de); ok {
		return de.Kind
	}
	return ""
}

func asDomainError(err error, target **domain.Error) bool {
	de, ok := err.(*domain.Error)
	if !ok {
		return false
	}
	*target = de
	return true
}

func encodeHealthRows(recs []domain.HealthRecord) ([]byte, error) {
	rows := make([]json.RawMessage, 0, len(recs))
	for _, rec := range recs {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, b)
	}
	return EncodeRangeDB([]Table{{Name: "health_records", Rows: rows}})
}

// post uploads body with rate limiting and retries transient failures
// (5xx, timeouts, transport errors) up to cfg.MaxRetries with full-jitter
// exponential backoff. A 4xx other than 408/429 is permanent and returned
// immediately without retry.
func (e *Engine) post(ctx context.Context, body []byte, rangeStart, rangeEnd int64) error {
	shouldRetry := func(err error) bool {
		var de *domain.Error
		if asDomainError(err, &de) {
			return de.Kind != domain.KindPermanentProt
		}
		return true
	}
	cfg := retry.ExponentialConfig{Base: e.cfg.RetryBase, Cap: e.cfg.RetryCap, MaxRetries: e.cfg.MaxRetries}
	return retry.Exponential(ctx, cfg, shouldRetry, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		return e.doPost(ctx, body, rangeStart, rangeEnd)
	})
}

func (e *Engine) doPost(ctx context.Context, body []byte, rangeStart, rangeEnd int64) error {
	url := e.cfg.Destination + "/ingest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.Wrap(domain.KindTransientNet, "remotesync: build request", err)
	}
	req.Header.Set("Content-Type", "application/x-pwdb")
	req.Header.Set("X-Range-Start", strconv.FormatInt(rangeStart, 10))
	req.Header.Set("X-Range-End", strconv.FormatInt(rangeEnd, 10))

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindTransientNet, "remotesync: POST failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return domain.NewError(domain.KindPermanentProt, fmt.Sprintf("remotesync: permanent HTTP %d from %s", resp.StatusCode, url))
	}
	return domain.NewError(domain.KindTransientNet, fmt.Sprintf("remotesync: retriable HTTP %d from %s", resp.StatusCode, url))
}
