package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	appctx "github.com/spott-app/spott-backend/internal/context"
	"github.com/spott-app/spott-backend/internal/repository"
)

type fakeHistory struct {
	places    []repository.SavedPlace
	cities    []repository.CityCount
	placesErr error
}

func (f *fakeHistory) ListSavedPlaces(ctx context.Context, userID uuid.UUID, limit int) ([]repository.SavedPlace, error) {
	if f.placesErr != nil {
		return nil, f.placesErr
	}
	return f.places, nil
}

func (f *fakeHistory) SavedCityHistogram(ctx context.Context, userID uuid.UUID) ([]repository.CityCount, error) {
	return f.cities, nil
}

type fakeSocial struct {
	interactions []repository.Interaction
}

func (f *fakeSocial) ListRecentInteractions(ctx context.Context, userID uuid.UUID, limit int) ([]repository.Interaction, error) {
	return f.interactions, nil
}

func newTestHandler(cfg Config, history HistoryRepo, social InteractionRepo) *Handler {
	svc := NewService(cfg, history, social, nil)
	return NewHandler(svc, nil)
}

func chatRequest(t *testing.T, principal string, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistant", strings.NewReader(body))
	if principal != "" {
		req = req.WithContext(appctx.WithPrincipal(req.Context(), principal, "user@spott.app"))
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("response is not an error object: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("error field missing")
	}
	return body["error"]
}

func TestChatRequiresAuthentication(t *testing.T) {
	h := newTestHandler(Config{}, &fakeHistory{}, &fakeSocial{})

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, "", `{"messages":[{"role":"user","content":"hi"}]}`))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	decodeError(t, rec)
}

func TestChatRejectsGarbagePrincipal(t *testing.T) {
	h := newTestHandler(Config{}, &fakeHistory{}, &fakeSocial{})

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, "not-a-uuid", `{"messages":[{"role":"user","content":"hi"}]}`))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestChatRejectsMissingMessages(t *testing.T) {
	h := newTestHandler(Config{}, &fakeHistory{}, &fakeSocial{})

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, uuid.New().String(), `{"messages":[]}`))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "messages are required" {
		t.Errorf("error = %q", msg)
	}
}

func TestChatRejectsMalformedBody(t *testing.T) {
	h := newTestHandler(Config{}, &fakeHistory{}, &fakeSocial{})

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, uuid.New().String(), `{broken`))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	decodeError(t, rec)
}

func TestChatEnforcesPerPrincipalRateLimit(t *testing.T) {
	h := newTestHandler(Config{RateLimit: 1}, &fakeHistory{}, &fakeSocial{})
	principal := uuid.New()

	// burn the budget
	if !h.service.Allow(principal) {
		t.Fatal("first request should be within budget")
	}

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, principal.String(),
		`{"messages":[{"role":"user","content":"hi"}]}`))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	decodeError(t, rec)
}

func TestRateLimitIsPerPrincipal(t *testing.T) {
	svc := NewService(Config{RateLimit: 1}, &fakeHistory{}, &fakeSocial{}, nil)

	alice := uuid.New()
	bob := uuid.New()
	if !svc.Allow(alice) {
		t.Fatal("alice's first request denied")
	}
	if svc.Allow(alice) {
		t.Error("alice's second request allowed over budget")
	}
	if !svc.Allow(bob) {
		t.Error("bob throttled by alice's usage")
	}
}

func TestOptionsSetsCORSHeaders(t *testing.T) {
	h := newTestHandler(Config{}, &fakeHistory{}, &fakeSocial{})

	rec := httptest.NewRecorder()
	h.Options(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/assistant", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}

func TestSystemPromptFoldsInSavedContext(t *testing.T) {
	history := &fakeHistory{
		places: []repository.SavedPlace{
			{Name: "Cafe Roma", City: "Lisbon"},
			{Name: "Il Forno", City: "Rome"},
		},
		cities: []repository.CityCount{{City: "Lisbon", Count: 4}},
	}
	social := &fakeSocial{interactions: []repository.Interaction{
		{Kind: "like"}, {Kind: "like"}, {Kind: "save"},
	}}
	svc := NewService(Config{}, history, social, nil)

	prompt := svc.systemPrompt(context.Background(), uuid.New(), Request{
		UserLanguage: "pt",
	})

	for _, want := range []string{
		"Cafe Roma (Lisbon)",
		"Il Forno (Rome)",
		"Lisbon (4)",
		"like x2",
		"Answer in the user's language: pt",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSystemPromptDegradesWhenLookupsFail(t *testing.T) {
	history := &fakeHistory{placesErr: errors.New("db down")}
	svc := NewService(Config{}, history, &fakeSocial{}, nil)

	prompt := svc.systemPrompt(context.Background(), uuid.New(), Request{})
	if !strings.Contains(prompt, "travel assistant") {
		t.Errorf("prompt lost its persona: %s", prompt)
	}
	if strings.Contains(prompt, "Places the user has saved") {
		t.Error("prompt mentions saved places despite lookup failure")
	}
}
