package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	appctx "github.com/spott-app/spott-backend/internal/context"
)

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	rl := NewRateLimiter(5)

	for i := 0; i < 5; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("request %d denied within budget", i+1)
		}
	}
	if rl.Allow("alice") {
		t.Error("request allowed over budget")
	}
	// other keys have their own bucket
	if !rl.Allow("bob") {
		t.Error("unrelated key throttled")
	}
}

func TestRateLimitHandlerKeysByPrincipal(t *testing.T) {
	rl := NewRateLimiter(1)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	alice := uuid.New().String()
	bob := uuid.New().String()

	request := func(principal string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/posts", nil)
		req = req.WithContext(appctx.WithPrincipal(req.Context(), principal, ""))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := request(alice); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	rec := request(alice)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Error("missing Retry-After header")
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Code != "TOO_MANY_REQUESTS" {
		t.Errorf("code = %q", resp.Error.Code)
	}

	// a different principal is not affected
	if rec := request(bob); rec.Code != http.StatusOK {
		t.Errorf("other principal status = %d, want 200", rec.Code)
	}
}

func TestRateLimitBehindAuthKeysByPrincipal(t *testing.T) {
	tokens := newTestTokenService()
	rl := NewRateLimiter(1)
	mw := NewAuthMiddleware(tokens)

	// The server chains auth ahead of the limiter so the principal is
	// in the context by the time the key is picked.
	handler := mw.Authenticate(rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	tokenFor := func(id string) string {
		pair, err := tokens.GenerateTokenPair(id, id+"@spott.app", "user")
		if err != nil {
			t.Fatal(err)
		}
		return pair.AccessToken
	}
	alice := tokenFor(uuid.New().String())
	bob := tokenFor(uuid.New().String())

	request := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/posts", nil)
		req.RemoteAddr = "10.0.0.1:1111" // shared address must not matter
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := request(alice); got != http.StatusOK {
		t.Fatalf("alice first request status = %d, want 200", got)
	}
	if got := request(bob); got != http.StatusOK {
		t.Fatalf("bob status = %d, want 200 despite shared address", got)
	}
	if got := request(alice); got != http.StatusTooManyRequests {
		t.Errorf("alice second request status = %d, want 429", got)
	}
}

func TestRateLimitHandlerFallsBackToRemoteAddr(t *testing.T) {
	rl := NewRateLimiter(1)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/posts", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := request("10.0.0.1:1111"); got != http.StatusOK {
		t.Fatalf("first request status = %d", got)
	}
	// same host, different port shares the bucket
	if got := request("10.0.0.1:2222"); got != http.StatusTooManyRequests {
		t.Errorf("same-host request status = %d, want 429", got)
	}
	if got := request("10.0.0.2:1111"); got != http.StatusOK {
		t.Errorf("other-host request status = %d, want 200", got)
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1)
	for i := 0; i < 50; i++ {
		if !rl.Allow(fmt.Sprintf("key-%d", i)) {
			t.Fatalf("fresh key %d denied", i)
		}
	}
}
