package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// internalCheck is one dependency probe for GET /api/internal/health,
// grounded on the teacher's internal/health.Checker 3-check pattern
// (sqlite ping, disk space, model directory), generalized here to
// PiWardrive's own dependencies.
type internalCheck struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// handleInternalHealth implements GET /api/internal/health: a structured
// dependency checklist distinct from /api/status (which serves
// HealthRecords) and /healthz (a bare liveness probe).
func (s *Server) handleInternalHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Current()
	logDir := ""
	if len(cfg.LogPaths) > 0 {
		logDir = filepath.Dir(cfg.LogPaths[0])
	}

	checks := []struct {
		name string
		fn   func() error
	}{
		{"sqlite", s.store.Ping},
		{"tile_directory", func() error { return checkDir(cfg.OfflineTilePath) }},
		{"log_directory", func() error { return checkDir(logDir) }},
	}

	now := time.Now()
	results := make([]internalCheck, len(checks))
	allHealthy := true
	for i, c := range checks {
		results[i] = internalCheck{Name: c.name, CheckedAt: now}
		if err := c.fn(); err != nil {
			results[i].Error = err.Error()
			allHealthy = false
		} else {
			results[i].Healthy = true
		}
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": allHealthy, "checks": results})
}

func checkDir(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "stat", Path: path, Err: os.ErrInvalid}
	}
	return nil
}
