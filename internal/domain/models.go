package domain

import "time"

// HealthRecord is an immutable host-telemetry sample written by the
// HealthCollector and purged by the retention job. Pointer fields are
// optional — a sensor that is unavailable on a given platform leaves its
// field nil rather than reporting a false zero.
type HealthRecord struct {
	ID              int64     `json:"id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	CPUTempCelsius  *float64  `json:"cpu_temp_celsius,omitempty"`
	CPUPercent      *float64  `json:"cpu_percent,omitempty"`
	MemPercent      *float64  `json:"mem_percent,omitempty"`
	DiskPercent     *float64  `json:"disk_percent,omitempty"`
}

// AppState is the singleton UI-continuity row: exactly one row exists,
// upserted in place.
type AppState struct {
	LastScreen string    `json:"last_screen"`
	LastStart  time.Time `json:"last_start"`
	FirstRun   bool      `json:"first_run"`
}

// DashboardSettings is the singleton opaque widget layout, replaced
// atomically on save.
type DashboardSettings struct {
	WidgetsJSON string    `json:"widgets_json"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Fingerprint is unique per BSSID; FirstSeen is immutable, LastSeen
// advances on every subsequent observation.
type Fingerprint struct {
	BSSID     string    `json:"bssid"`
	SSID      string    `json:"ssid,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// ScanSession groups a run of detections under one FK so detection tables
// never need to stand alone.
type ScanSession struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// WifiDetection is one Wi-Fi observation within a ScanSession.
type WifiDetection struct {
	ID                 int64     `json:"id,omitempty"`
	ScanSessionID      string    `json:"scan_session_id"`
	DetectionTimestamp time.Time `json:"detection_timestamp"`
	BSSID              string    `json:"bssid"`
	SSID               string    `json:"ssid,omitempty"`
	Channel            int       `json:"channel,omitempty"`
	SignalDBM          int       `json:"signal_dbm,omitempty"`
	Encryption         string    `json:"encryption,omitempty"`
	Lat                *float64  `json:"lat,omitempty"`
	Lon                *float64  `json:"lon,omitempty"`
}

// BluetoothDetection is one Bluetooth observation within a ScanSession.
type BluetoothDetection struct {
	ID                 int64     `json:"id,omitempty"`
	ScanSessionID      string    `json:"scan_session_id"`
	DetectionTimestamp time.Time `json:"detection_timestamp"`
	Address            string    `json:"address"`
	Name               string    `json:"name,omitempty"`
	RSSI               int       `json:"rssi,omitempty"`
	Lat                *float64  `json:"lat,omitempty"`
	Lon                *float64  `json:"lon,omitempty"`
}

// CellularDetection is one cell-tower observation within a ScanSession.
type CellularDetection struct {
	ID                 int64     `json:"id,omitempty"`
	ScanSessionID      string    `json:"scan_session_id"`
	DetectionTimestamp time.Time `json:"detection_timestamp"`
	MCC                string    `json:"mcc,omitempty"`
	MNC                string    `json:"mnc,omitempty"`
	CellID             string    `json:"cell_id,omitempty"`
	SignalDBM          int       `json:"signal_dbm,omitempty"`
	Lat                *float64  `json:"lat,omitempty"`
	Lon                *float64  `json:"lon,omitempty"`
}

// GpsTrackPoint is one fix recorded during a ScanSession, feeding the
// TileCache's route-ahead prefetch.
type GpsTrackPoint struct {
	ID                 int64     `json:"id,omitempty"`
	ScanSessionID      string    `json:"scan_session_id"`
	DetectionTimestamp time.Time `json:"detection_timestamp"`
	Lat                float64   `json:"lat"`
	Lon                float64   `json:"lon"`
	Accuracy           float64   `json:"accuracy,omitempty"`
	SpeedMS            float64   `json:"speed_m_s,omitempty"`
}

// GPSFix is a live position reading returned by the GPS client's
// get_position contract: lat/lon, gpsd mode (0=no fix, 2=2D, 3=3D), and
// horizontal accuracy in meters. Never persisted directly — collectors
// fold it into HealthRecord/GpsTrackPoint as needed.
type GPSFix struct {
	Lat      float64
	Lon      float64
	Mode     int
	Accuracy float64
}

// NetworkFingerprint is a derived per-network summary, append-mostly.
type NetworkFingerprint struct {
	ID                 int64     `json:"id,omitempty"`
	ScanSessionID      string    `json:"scan_session_id"`
	DetectionTimestamp time.Time `json:"detection_timestamp"`
	BSSID              string    `json:"bssid"`
	FingerprintHash     string   `json:"fingerprint_hash"`
}

// SuspiciousActivity flags a detection as anomalous; longest retention
// window of the detection tables since it is security-relevant.
type SuspiciousActivity struct {
	ID                 int64     `json:"id,omitempty"`
	ScanSessionID      string    `json:"scan_session_id"`
	DetectionTimestamp time.Time `json:"detection_timestamp"`
	Category           string    `json:"category"`
	Description        string    `json:"description"`
	RelatedBSSID       string    `json:"related_bssid,omitempty"`
}

// NetworkAnalyticsRow is a derived per-session rollup, append-mostly.
type NetworkAnalyticsRow struct {
	ID                 int64     `json:"id,omitempty"`
	ScanSessionID      string    `json:"scan_session_id"`
	DetectionTimestamp time.Time `json:"detection_timestamp"`
	Metric             string    `json:"metric"`
	Value              float64   `json:"value"`
}

// SyncOffset is the per-destination resumable upload cursor owned by
// RemoteSync.
type SyncOffset struct {
	DestinationURL     string    `json:"destination_url"`
	LastRowID          int64     `json:"last_row_id"`
	LastAttempt        time.Time `json:"last_attempt,omitempty"`
	LastSuccess        time.Time `json:"last_success,omitempty"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
}

// TileKey identifies one map tile in the standard z/x/y scheme.
type TileKey struct {
	Z int
	X int
	Y int
}

// TileBlob is a cached map tile; eviction is by MTime (LRU).
type TileBlob struct {
	Key      TileKey
	Path     string
	ByteSize int64
	MTime    time.Time
}

// GeofencePolygon is an operator-defined named region with optional
// enter/exit notification text.
type GeofencePolygon struct {
	Name         string       `json:"name"`
	Points       [][2]float64 `json:"points"` // [lat, lon] pairs, len >= 3
	EnterMessage string       `json:"enter_message,omitempty"`
	ExitMessage  string       `json:"exit_message,omitempty"`
}

// ScheduledJob is the in-memory registration the Poll Scheduler holds for
// one periodic job. Mutated only by the scheduler loop.
type ScheduledJob struct {
	Name            string
	IntervalSeconds float64
	JitterFraction  float64
	Priority        Priority
	NextDue         time.Time
	LastDuration    time.Duration
	LastError       error
	ConsecutiveFails int
	State           JobState
}

// JobState is a ScheduledJob's lifecycle state.
type JobState string

const (
	JobIdle      JobState = "IDLE"
	JobScheduled JobState = "SCHEDULED"
	JobQueued    JobState = "QUEUED"
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
	JobCancelled JobState = "CANCELLED"
	JobDisabled  JobState = "DISABLED"
)
