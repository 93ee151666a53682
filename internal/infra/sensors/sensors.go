// Package sensors reads host telemetry: CPU temperature, CPU/memory/disk
// utilization, and per-interface network throughput. Platform-specific
// readers live in sensors_<os>.go build-tagged files.
package sensors

import "time"

// ThermalMonitor reads CPU temperature.
type ThermalMonitor struct{}

// NewThermalMonitor creates a thermal monitor.
func NewThermalMonitor() *ThermalMonitor { return &ThermalMonitor{} }

// CPUTempCelsius returns the CPU temperature in Celsius, or (0, false) when
// sensor data is unavailable on this platform.
func (t *ThermalMonitor) CPUTempCelsius() (float64, bool) {
	return readCPUTemp()
}

// UtilizationMonitor reads CPU/memory/disk percent utilization.
type UtilizationMonitor struct {
	diskPath string
	prevIdle uint64
	prevTot  uint64
	havePrev bool
}

// NewUtilizationMonitor creates a utilization monitor that reports disk
// usage for diskPath (typically the PW_HOME data directory's filesystem).
func NewUtilizationMonitor(diskPath string) *UtilizationMonitor {
	return &UtilizationMonitor{diskPath: diskPath}
}

// CPUPercent returns instantaneous CPU utilization (0-100), or false if
// unavailable. Computed from deltas between consecutive calls.
func (m *UtilizationMonitor) CPUPercent() (float64, bool) {
	idle, total, ok := readCPUTicks()
	if !ok {
		return 0, false
	}
	if !m.havePrev {
		m.prevIdle, m.prevTot, m.havePrev = idle, total, true
		return 0, false
	}
	deltaIdle := float64(idle - m.prevIdle)
	deltaTot := float64(total - m.prevTot)
	m.prevIdle, m.prevTot = idle, total
	if deltaTot <= 0 {
		return 0, false
	}
	pct := (1 - deltaIdle/deltaTot) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// MemPercent returns memory utilization (0-100).
func (m *UtilizationMonitor) MemPercent() (float64, bool) {
	return readMemPercent()
}

// DiskPercent returns disk utilization (0-100) of the configured path.
func (m *UtilizationMonitor) DiskPercent() (float64, bool) {
	return readDiskPercent(m.diskPath)
}

// InterfaceSample is a point-in-time byte counter reading for one interface.
type InterfaceSample struct {
	RxBytes uint64
	TxBytes uint64
	At      time.Time
}

// ThroughputMonitor computes Δbytes/Δt per named interface from cached
// prior samples.
type ThroughputMonitor struct {
	prior map[string]InterfaceSample
}

// NewThroughputMonitor creates a throughput monitor.
func NewThroughputMonitor() *ThroughputMonitor {
	return &ThroughputMonitor{prior: make(map[string]InterfaceSample)}
}

// Throughput returns (rxBytesPerSec, txBytesPerSec, ok) for iface. The
// first call for a given interface always returns ok=false while it
// seeds the cache.
func (t *ThroughputMonitor) Throughput(iface string, now time.Time) (rxBps, txBps float64, ok bool) {
	cur, readOK := readInterfaceCounters(iface)
	if !readOK {
		return 0, 0, false
	}
	cur.At = now
	prev, had := t.prior[iface]
	t.prior[iface] = cur
	if !had {
		return 0, 0, false
	}
	dt := cur.At.Sub(prev.At).Seconds()
	if dt <= 0 {
		return 0, 0, false
	}
	rxBps = float64(cur.RxBytes-prev.RxBytes) / dt
	txBps = float64(cur.TxBytes-prev.TxBytes) / dt
	return rxBps, txBps, true
}

// BatteryMonitor reads battery state (present for completeness; PiWardrive
// typically runs on mains-powered field hardware but battery-backed units
// exist).
type BatteryMonitor struct{}

// NewBatteryMonitor creates a battery monitor.
func NewBatteryMonitor() *BatteryMonitor { return &BatteryMonitor{} }

// IsPresent returns true if the host reports a battery.
func (b *BatteryMonitor) IsPresent() bool { return hasBattery() }

// Percentage returns charge level (0-100).
func (b *BatteryMonitor) Percentage() int { return batteryPercentage() }
