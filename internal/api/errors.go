package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// statusForKind is the single error-to-HTTP mapping table spec.md §7
// requires to be authoritative for the whole service.
var statusForKind = map[domain.Kind]int{
	domain.KindValidation:    http.StatusUnprocessableEntity,
	domain.KindAuth:          http.StatusUnauthorized,
	domain.KindNotFound:      http.StatusNotFound,
	domain.KindStorage:       http.StatusInternalServerError,
	domain.KindTransientNet:  http.StatusBadGateway,
	domain.KindPermanentProt: http.StatusBadGateway,
	domain.KindTaskExpired:   http.StatusGone,
	domain.KindTaskCancelled: http.StatusGone,
	domain.KindConfig:        http.StatusInternalServerError,
	domain.KindQueueFull:     http.StatusServiceUnavailable,
	domain.KindRateLimited:   http.StatusTooManyRequests,
}

// errorEnvelope is the {error:{kind,message}} body every non-2xx
// response carries (spec.md §4.8).
type errorEnvelope struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError classifies err into the authoritative status table and
// writes the {error:{kind,message}} envelope. A plain (non-*domain.Error)
// error is treated as an unclassified StorageError.
func writeError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = domain.StorageError(err, "unclassified error")
	}
	status, ok := statusForKind[de.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	var env errorEnvelope
	env.Error.Kind = string(de.Kind)
	env.Error.Message = de.Message
	writeJSON(w, status, env)
}

// writeValidationError is a convenience for handler-local validation
// failures that never constructed a *domain.Error.
func writeValidationError(w http.ResponseWriter, format string, args ...any) {
	writeError(w, domain.ValidationError(format, args...))
}
