package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/piwardrive/piwardrive/internal/config"
	"github.com/piwardrive/piwardrive/internal/domain"
	"github.com/piwardrive/piwardrive/internal/pubsub"
	"github.com/piwardrive/piwardrive/internal/servicectl"
	"github.com/piwardrive/piwardrive/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	db, err := store.Open(t.TempDir(), store.Config{HealthBufferSize: 1, HealthFlushInterval: int64(time.Hour)})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.NewStore(config.Default(t.TempDir()))
	svcctl := servicectl.New([]string{"kismet"})
	bus := pubsub.New(16)
	return NewServer(db, bus, cfg, svcctl, nil), db
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHandleInternalHealth_ReportsEachCheck(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/internal/health")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Healthy bool            `json:"healthy"`
		Checks  []internalCheck `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Healthy {
		t.Fatalf("expected healthy=true, got %+v", body)
	}
	if len(body.Checks) != 3 {
		t.Fatalf("len(checks) = %d, want 3", len(body.Checks))
	}
}

func TestHandleStatus_ReturnsRecentHealthFromStore(t *testing.T) {
	s, db := newTestServer(t)
	db.SaveHealth(domain.HealthRecord{Timestamp: time.Now()})
	db.Flush()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status?n=5")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var records []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
}

func TestHandleStatus_ServesHealthFileVerbatim(t *testing.T) {
	s, _ := newTestServer(t)
	path := filepath.Join(t.TempDir(), "health.json")
	os.WriteFile(path, []byte(`[{"timestamp":"ts1"}]`), 0o644)
	t.Setenv("PW_HEALTH_FILE", path)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if got := string(mustRead(t, resp)); got != `[{"timestamp":"ts1"}]` {
		t.Fatalf("body = %q", got)
	}
}

func TestHandleStatus_MalformedHealthFileIsStorageError(t *testing.T) {
	s, _ := newTestServer(t)
	path := filepath.Join(t.TempDir(), "health.json")
	os.WriteFile(path, []byte(`not json`), 0o644)
	t.Setenv("PW_HEALTH_FILE", path)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestHandleWidgets_ReturnsWidgetsEnvelope(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/widgets")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Widgets []string `json:"widgets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	enabled := map[string]bool{"health": true, "gps": true, "tilecache": true, "remotesync": true}
	got := map[string]bool{}
	for _, w := range body.Widgets {
		got[w] = true
	}
	for name := range enabled {
		if !got[name] {
			t.Fatalf("widgets %v missing configured widget %q", body.Widgets, name)
		}
	}
}

func TestHandleLogs_RejectsPathOutsideAllowList(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/logs?path=/etc/passwd&lines=2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestHandleLogs_TailsAllowedFile(t *testing.T) {
	s, _ := newTestServer(t)
	path := filepath.Join(t.TempDir(), "out.txt")
	os.WriteFile(path, []byte("1\n2\n3"), 0o644)
	cfg := s.cfg.Current()
	cfg.LogPaths = []string{path}
	s.cfg.Swap(cfg)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/logs?path=" + path + "&lines=2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Lines []string `json:"lines"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Lines) != 2 || body.Lines[0] != "2" || body.Lines[1] != "3" {
		t.Fatalf("lines = %v, want [2 3]", body.Lines)
	}
}

func TestAuth_LoginThenLogoutRevokesToken(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/auth/login", "application/json", nil)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	var body struct {
		Token string `json:"token"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body.Token == "" {
		t.Fatal("expected a non-empty token")
	}
	if !s.tokens.valid(body.Token) {
		t.Fatal("expected token to be valid immediately after login")
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+body.Token)
	http.DefaultClient.Do(req)
	if s.tokens.valid(body.Token) {
		t.Fatal("expected token to be revoked after logout")
	}
}

func TestHandleConfigUpdate_RequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/config", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHandleConfigUpdate_AppliesValidDocument(t *testing.T) {
	s, _ := newTestServer(t)
	token, _ := s.tokens.issue()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	next := s.cfg.Current()
	next.DebugMode = true
	data, _ := config.ToJSON(next)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/config", bytes.NewReader(data))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !s.cfg.Current().DebugMode {
		t.Fatal("expected DebugMode to be applied")
	}
}

func TestHandleServiceControl_UnknownUnitReturns422(t *testing.T) {
	s, _ := newTestServer(t)
	token, _ := s.tokens.issue()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/service/evil/start", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	var env errorEnvelope
	json.NewDecoder(resp.Body).Decode(&env)
	if env.Error.Kind != "ValidationError" {
		t.Fatalf("kind = %s", env.Error.Kind)
	}
}

func mustRead(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	return buf.Bytes()
}
