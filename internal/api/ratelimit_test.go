package api

import (
	"net/http"
	"testing"
)

func TestRateLimitOnWrites(t *testing.T) {
	env := newTestEnv(t, 10)

	first := doReq(t, env.srv.URL, env.adminKey, http.MethodPost, "/api/v1/test-connection", map[string]any{"service": "llm"})
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected first write 200, got %d", first.StatusCode)
	}
	if first.Header.Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("write limit header = %q, want 1", first.Header.Get("X-RateLimit-Limit"))
	}
	_ = first.Body.Close()

	second := doReq(t, env.srv.URL, env.adminKey, http.MethodPost, "/api/v1/test-connection", map[string]any{"service": "llm"})
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected second write 429, got %d", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	_ = second.Body.Close()

	// Reads have their own window.
	read := doReq(t, env.srv.URL, env.adminKey, http.MethodGet, "/api/v1/agents", nil)
	if read.StatusCode != http.StatusOK {
		t.Fatalf("read after write limit status = %d", read.StatusCode)
	}
	_ = read.Body.Close()

	// Limits are per operator.
	otherKey := createOperatorForTest(t, env.db, "other", "operator")
	other := doReq(t, env.srv.URL, otherKey, http.MethodPost, "/api/v1/test-connection", map[string]any{"service": "llm"})
	if other.StatusCode != http.StatusOK {
		t.Fatalf("other operator write status = %d", other.StatusCode)
	}
	_ = other.Body.Close()
}
