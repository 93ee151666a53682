package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// tokenTTL is how long a bearer token issued by POST /auth/login remains
// valid (spec.md §4.8: "a bearer token valid for T seconds").
const tokenTTL = 24 * time.Hour

// tokenStore is an in-memory expiring bearer-token registry. Opaque
// random tokens (crypto/rand), not the asymmetric identity keys the
// teacher's internal/security/crypto.go issues -- spec.md needs only a
// server-side revocable credential, not a third-party-verifiable claim,
// so ed25519 signing is more machinery than the contract calls for.
type tokenStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time // token -> expiry
}

func newTokenStore() *tokenStore {
	return &tokenStore{tokens: make(map[string]time.Time)}
}

func (s *tokenStore) issue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.StorageError(err, "generate auth token")
	}
	token := hex.EncodeToString(buf)
	s.mu.Lock()
	s.tokens[token] = time.Now().Add(tokenTTL)
	s.mu.Unlock()
	return token, nil
}

func (s *tokenStore) revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

func (s *tokenStore) valid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(s.tokens, token)
		return false
	}
	return true
}

// sweepExpired removes every expired token and returns how many it
// removed. The server does not call it on a timer; outside it, an
// expired token is removed only when valid looks it up.
func (s *tokenStore) sweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for tok, exp := range s.tokens {
		if now.After(exp) {
			delete(s.tokens, tok)
			n++
		}
	}
	return n
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	token, err := s.tokens.issue()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := bearerToken(r); ok {
		s.tokens.revoke(token)
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireAuth gates a handler behind a valid bearer token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || !s.tokens.valid(token) {
			writeError(w, domain.AuthError("missing or invalid bearer token"))
			return
		}
		next(w, r)
	}
}
