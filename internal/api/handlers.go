package api

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/piwardrive/piwardrive/internal/config"
	"github.com/piwardrive/piwardrive/internal/domain"
	"github.com/piwardrive/piwardrive/internal/servicectl"
	"github.com/piwardrive/piwardrive/internal/widget"
)

const (
	defaultStatusN = 50
	maxStatusN     = 1000
)

// handleStatus implements GET /api/status. When PW_HEALTH_FILE is set
// it serves that file's bytes verbatim (a testing affordance, spec.md
// §9) after confirming the bytes are at least syntactically valid JSON
// -- malformed content is a StorageError, not a silent 200 (spec.md §9
// open question, resolved: never mask corruption as an empty success).
// Otherwise it returns the N most recent HealthRecords from the Store.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if path := os.Getenv("PW_HEALTH_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			writeError(w, domain.StorageError(err, "read PW_HEALTH_FILE"))
			return
		}
		if !json.Valid(data) {
			writeError(w, domain.StorageError(nil, "PW_HEALTH_FILE does not contain valid JSON"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}

	n := defaultStatusN
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeValidationError(w, "n must be a positive integer")
			return
		}
		n = parsed
	}
	if n > maxStatusN {
		n = maxStatusN
	}

	records, err := s.store.LoadRecentHealth(n)
	if err != nil {
		writeError(w, domain.StorageError(err, "load recent health"))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleWidgets implements GET /api/widgets: the registered widget
// names, extended with any config-enabled name not yet registered so
// the response is always a superset of the allow-list (spec.md S2).
func (s *Server) handleWidgets(w http.ResponseWriter, r *http.Request) {
	names := widget.Names()
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	if s.cfg != nil {
		for name, enabled := range s.cfg.Current().Widgets {
			if enabled && !seen[name] {
				names = append(names, name)
				seen[name] = true
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"widgets": names})
}

// handleLogs implements GET /api/logs?path=&lines=: tails the last
// `lines` lines of an allow-listed file. Any path outside cfg.LogPaths
// is rejected with 403 before the filesystem is touched.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeValidationError(w, "path is required")
		return
	}

	allowed := false
	if s.cfg != nil {
		for _, p := range s.cfg.Current().LogPaths {
			if p == path {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		writeJSON(w, http.StatusForbidden, errorEnvelopeFor(domain.KindAuth, "path is not in the log allow-list"))
		return
	}

	n := 100
	if v := r.URL.Query().Get("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeValidationError(w, "lines must be a positive integer")
			return
		}
		n = parsed
	}

	lines, err := tailLines(path, n)
	if err != nil {
		writeError(w, domain.StorageError(err, "tail log %s", path))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

// tailLines returns up to the last n lines of the file at path.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		all = append(all, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// handleServiceControl implements POST /api/service/{name}/{start|stop|restart}.
func (s *Server) handleServiceControl(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	action := chi.URLParam(r, "action")

	active, err := s.svcctl.Do(r.Context(), name, servicectl.Action(action))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

// handleConfigUpdate implements POST /api/config: decode, validate,
// atomically swap, return the now-active document.
func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, domain.ValidationError("read request body: %v", err))
		return
	}
	next, err := config.FromJSON(body)
	if err != nil {
		writeError(w, err)
		return
	}
	applied, err := s.cfg.Swap(next)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

// errorEnvelopeFor builds an {error:{kind,message}} body for a status
// code that diverges from the authoritative table (spec.md explicitly
// calls for 403 on a disallowed log path, where AuthError's table entry
// is 401).
func errorEnvelopeFor(kind domain.Kind, message string) errorEnvelope {
	var env errorEnvelope
	env.Error.Kind = string(kind)
	env.Error.Message = message
	return env
}
