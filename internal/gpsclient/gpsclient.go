// Package gpsclient implements the GPS Client of spec.md §4.7: a
// lazy-connecting client for gpsd's line-delimited JSON protocol that
// never blocks a caller on a dead daemon and never returns an error —
// only a fix or its absence. No ecosystem gpsd client appears anywhere
// in the retrieved corpus, so this is hand-rolled against net/bufio.
package gpsclient

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
	"github.com/piwardrive/piwardrive/internal/retry"
)

// watchCommand enables gpsd's streaming JSON reports on a fresh connection.
const watchCommand = `?WATCH={"enable":true,"json":true}` + "\r\n"

// Config configures the Client.
type Config struct {
	Host         string
	Port         string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// MaxLinesPerRead bounds how many JSON reports Position reads while
	// looking for a TPV (position) message before giving up for this call.
	MaxLinesPerRead int
}

// DefaultConfig returns gpsd client defaults, honoring the PW_GPSD_HOST /
// PW_GPSD_PORT environment overrides spec.md §6 requires.
func DefaultConfig() Config {
	host := "localhost"
	if v := os.Getenv("PW_GPSD_HOST"); v != "" {
		host = v
	}
	port := "2947"
	if v := os.Getenv("PW_GPSD_PORT"); v != "" {
		port = v
	}
	return Config{
		Host:            host,
		Port:            port,
		DialTimeout:     2 * time.Second,
		ReadTimeout:     2 * time.Second,
		ReconnectMin:    2 * time.Second,
		ReconnectMax:    30 * time.Second,
		MaxLinesPerRead: 20,
	}
}

// tpvReport is gpsd's Time-Position-Velocity report; only the fields
// Client needs are decoded.
type tpvReport struct {
	Class string  `json:"class"`
	Mode  int     `json:"mode"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Epx   float64 `json:"epx"`
	Epy   float64 `json:"epy"`
}

// Client is a lazily-connecting gpsd client. All state is guarded by mu;
// Position is safe to call from any goroutine, including concurrently.
type Client struct {
	cfg Config

	mu          sync.Mutex
	conn        net.Conn
	reader      *bufio.Reader
	failCount   int
	nextAttempt time.Time
}

// New creates a Client. No network I/O happens until the first Position call.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Position returns the last TPV fix read from gpsd, connecting or
// reconnecting as needed. It never blocks longer than DialTimeout +
// ReadTimeout and never returns an error to the caller: any failure
// (dial, read, parse, no-fix) yields (zero, false) and schedules a
// bounded reconnect backoff for the next call.
func (c *Client) Position() (domain.GPSFix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.conn == nil {
		if now.Before(c.nextAttempt) {
			return domain.GPSFix{}, false
		}
		if err := c.connectLocked(); err != nil {
			c.recordFailureLocked()
			return domain.GPSFix{}, false
		}
	}

	fix, ok := c.readFixLocked()
	if !ok {
		c.closeLocked()
		c.recordFailureLocked()
		return domain.GPSFix{}, false
	}
	c.failCount = 0
	return fix, true
}

func (c *Client) connectLocked() error {
	addr := net.JoinHostPort(c.cfg.Host, c.cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, c.cfg.DialTimeout)
	if err != nil {
		return err
	}
	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		conn.Close()
		return err
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

func (c *Client) recordFailureLocked() {
	c.failCount++
	backoff := retry.ExponentialConfig{Base: c.cfg.ReconnectMin, Cap: c.cfg.ReconnectMax}.Delay(c.failCount - 1)
	c.nextAttempt = time.Now().Add(backoff)
}

// readFixLocked scans up to MaxLinesPerRead JSON reports looking for a
// TPV message carrying a 2D or 3D fix, bounded by ReadTimeout.
func (c *Client) readFixLocked() (domain.GPSFix, bool) {
	deadline := time.Now().Add(c.cfg.ReadTimeout)
	c.conn.SetReadDeadline(deadline)

	for i := 0; i < c.cfg.MaxLinesPerRead; i++ {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return domain.GPSFix{}, false
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var report tpvReport
		if err := json.Unmarshal([]byte(line), &report); err != nil {
			continue // non-TPV or malformed report; keep scanning
		}
		if report.Class != "TPV" || report.Mode < 2 {
			continue
		}
		accuracy := report.Epx
		if report.Epy > accuracy {
			accuracy = report.Epy
		}
		return domain.GPSFix{Lat: report.Lat, Lon: report.Lon, Mode: report.Mode, Accuracy: accuracy}, true
	}
	return domain.GPSFix{}, false
}
