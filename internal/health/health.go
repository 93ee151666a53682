// Package health implements the Health & Telemetry Collector of
// spec.md §4.4: a tick sampler that reads host sensors and external
// scanner liveness, persists HealthRecords, and publishes status/alert
// events to the in-process topic bus.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
	"github.com/piwardrive/piwardrive/internal/infra/metrics"
	"github.com/piwardrive/piwardrive/internal/infra/sensors"
	"github.com/piwardrive/piwardrive/internal/pubsub"
	"github.com/piwardrive/piwardrive/internal/store"
)

// StatusTopic carries every successful sample; AlertsTopic carries
// anomaly ALERT events (spec.md §4.4).
const (
	StatusTopic = "status"
	AlertsTopic = "alerts"
)

// AnomalyThresholds configures the N-consecutive-sample ALERT rule.
type AnomalyThresholds struct {
	HotTempCelsius     float64
	ConsecutiveSamples int
}

// DefaultAnomalyThresholds matches spec.md §4.4's 95% mem/disk rule
// with a 70C default hot-temperature threshold for SBC-class hardware.
func DefaultAnomalyThresholds() AnomalyThresholds {
	return AnomalyThresholds{HotTempCelsius: 70, ConsecutiveSamples: 3}
}

// Config configures the Collector.
type Config struct {
	TickInterval time.Duration
	Interfaces   []string
	DiskPath     string
	Thresholds   AnomalyThresholds
	Services     []ServiceConfig
}

// DefaultConfig returns production collector defaults.
func DefaultConfig(diskPath string) Config {
	return Config{
		TickInterval: 5 * time.Second,
		Interfaces:   []string{"wlan0"},
		DiskPath:     diskPath,
		Thresholds:   DefaultAnomalyThresholds(),
		Services:     DefaultServiceConfigs(),
	}
}

// GPSSource supplies the last-known fix without blocking (spec.md §4.7).
type GPSSource interface {
	Position() (domain.GPSFix, bool)
}

// StatusSample is the payload published on StatusTopic: the stored
// HealthRecord plus the ephemeral readings spec.md does not persist
// (throughput, GPS, service liveness).
type StatusSample struct {
	Record     domain.HealthRecord
	Throughput map[string][2]float64 // iface -> {rxBps, txBps}
	GPS        *domain.GPSFix
	Services   map[string]bool
}

// AlertEvent is published on AlertsTopic when an anomaly threshold is
// breached for ConsecutiveSamples in a row.
type AlertEvent struct {
	Category string // "cpu_temp", "mem", "disk"
	Value    float64
	At       time.Time
}

// Collector samples host telemetry on a fixed tick and feeds the Store
// and topic bus.
type Collector struct {
	cfg   Config
	store *store.DB
	bus   *pubsub.Broker
	gps   GPSSource
	log   *slog.Logger

	thermal    *sensors.ThermalMonitor
	util       *sensors.UtilizationMonitor
	throughput *sensors.ThroughputMonitor
	battery    *sensors.BatteryMonitor

	breakers map[string]*serviceBreaker

	consecHot  int
	consecMem  int
	consecDisk int
}

// New creates a Collector. gps may be nil if no GPS daemon is
// configured.
func New(cfg Config, st *store.DB, bus *pubsub.Broker, gps GPSSource, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	breakers := make(map[string]*serviceBreaker, len(cfg.Services))
	for _, svc := range cfg.Services {
		breakers[svc.Name] = newServiceBreaker(svc.Name, svc.FailThreshold, svc.CooldownBase, svc.CooldownMax)
	}
	return &Collector{
		cfg:        cfg,
		store:      st,
		bus:        bus,
		gps:        gps,
		log:        log,
		thermal:    sensors.NewThermalMonitor(),
		util:       sensors.NewUtilizationMonitor(cfg.DiskPath),
		throughput: sensors.NewThroughputMonitor(),
		battery:    sensors.NewBatteryMonitor(),
		breakers:   breakers,
	}
}

// Run ticks until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	interval := c.cfg.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sample(ctx)
		}
	}
}

// Sample performs one tick: reads sensors and service liveness, saves
// the HealthRecord, and publishes to the topic bus.
func (c *Collector) Sample(ctx context.Context) {
	now := time.Now().UTC()
	rec := domain.HealthRecord{Timestamp: now}

	if v, ok := c.thermal.CPUTempCelsius(); ok {
		rec.CPUTempCelsius = &v
		metrics.CPUTemperature.Set(v)
	}
	if v, ok := c.util.CPUPercent(); ok {
		rec.CPUPercent = &v
		metrics.CPUUsage.Set(v)
	}
	if v, ok := c.util.MemPercent(); ok {
		rec.MemPercent = &v
		metrics.MemoryUsage.Set(v)
	}
	if v, ok := c.util.DiskPercent(); ok {
		rec.DiskPercent = &v
		metrics.DiskUsage.Set(v)
	}

	through := make(map[string][2]float64, len(c.cfg.Interfaces))
	for _, iface := range c.cfg.Interfaces {
		if rx, tx, ok := c.throughput.Throughput(iface, now); ok {
			through[iface] = [2]float64{rx, tx}
			metrics.InterfaceThroughput.WithLabelValues(iface, "rx").Set(rx)
			metrics.InterfaceThroughput.WithLabelValues(iface, "tx").Set(tx)
		}
	}

	var fix *domain.GPSFix
	if c.gps != nil {
		if f, ok := c.gps.Position(); ok {
			fix = &f
		}
	}

	services := c.probeServices(ctx)

	c.store.SaveHealth(rec)
	c.checkAnomalies(rec, now)

	if c.bus != nil {
		c.bus.Publish(StatusTopic, StatusSample{Record: rec, Throughput: through, GPS: fix, Services: services})
	}
}

func (c *Collector) probeServices(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(c.cfg.Services))
	for _, svc := range c.cfg.Services {
		svc := svc
		breaker := c.breakers[svc.Name]
		live := false
		result, err := breaker.Execute(func() (any, error) {
			ok, stderr, runErr := runProbe(ctx, svc)
			if stderr != "" {
				c.log.Debug("probe stderr", "service", svc.Name, "stderr", stderr)
			}
			if runErr != nil {
				return false, runErr
			}
			return ok, nil
		})
		if err == nil {
			live, _ = result.(bool)
		}
		out[svc.Name] = live
		if live {
			metrics.ServiceStatus.WithLabelValues(svc.Name).Set(1)
		} else {
			metrics.ServiceStatus.WithLabelValues(svc.Name).Set(0)
		}
	}
	return out
}

func (c *Collector) checkAnomalies(rec domain.HealthRecord, now time.Time) {
	n := c.cfg.Thresholds.ConsecutiveSamples
	if n <= 0 {
		n = 1
	}

	c.consecHot = bumpStreak(c.consecHot, rec.CPUTempCelsius != nil && *rec.CPUTempCelsius > c.cfg.Thresholds.HotTempCelsius)
	c.consecMem = bumpStreak(c.consecMem, rec.MemPercent != nil && *rec.MemPercent > 95)
	c.consecDisk = bumpStreak(c.consecDisk, rec.DiskPercent != nil && *rec.DiskPercent > 95)

	if c.consecHot == n {
		c.alert("cpu_temp", valueOrZero(rec.CPUTempCelsius), now)
	}
	if c.consecMem == n {
		c.alert("mem", valueOrZero(rec.MemPercent), now)
	}
	if c.consecDisk == n {
		c.alert("disk", valueOrZero(rec.DiskPercent), now)
	}
}

func (c *Collector) alert(category string, value float64, at time.Time) {
	metrics.AlertsTotal.WithLabelValues(category).Inc()
	if c.bus != nil {
		c.bus.Publish(AlertsTopic, AlertEvent{Category: category, Value: value, At: at})
	}
}

func bumpStreak(streak int, hit bool) int {
	if !hit {
		return 0
	}
	return streak + 1
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
