package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimitMiddleware_RejectsAfterBurstExhausted(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var lastStatus int
	for i := 0; i < 25; i++ {
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		lastStatus = resp.StatusCode
		resp.Body.Close()
		if lastStatus == http.StatusTooManyRequests {
			break
		}
	}
	if lastStatus != http.StatusTooManyRequests {
		t.Fatalf("expected a 429 within the burst window, last status = %d", lastStatus)
	}
}

func TestClientLimiter_TracksKeysIndependently(t *testing.T) {
	l := newClientLimiter(1, 1)
	if !l.allow("a") {
		t.Fatal("first request for key a should be allowed")
	}
	if l.allow("a") {
		t.Fatal("second immediate request for key a should be rejected")
	}
	if !l.allow("b") {
		t.Fatal("key b has its own bucket and should be allowed")
	}
}
