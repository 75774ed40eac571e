// Package assistant proxies the travel assistant chat to an
// OpenAI-compatible completion gateway, folding the principal's saved
// places and recent activity into the system prompt and relaying the
// completion as a server-sent event stream.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"golang.org/x/time/rate"

	"github.com/spott-app/spott-backend/internal/repository"
)

// contextPlaceLimit bounds how many saved places feed the prompt.
const contextPlaceLimit = 15

// ErrRateLimited is returned when the principal exceeded the local
// request budget.
var ErrRateLimited = errors.New("assistant rate limit exceeded")

// HistoryRepo is the slice of the repositories the prompt builder needs.
type HistoryRepo interface {
	ListSavedPlaces(ctx context.Context, userID uuid.UUID, limit int) ([]repository.SavedPlace, error)
	SavedCityHistogram(ctx context.Context, userID uuid.UUID) ([]repository.CityCount, error)
}

// InteractionRepo supplies recent activity for the prompt.
type InteractionRepo interface {
	ListRecentInteractions(ctx context.Context, userID uuid.UUID, limit int) ([]repository.Interaction, error)
}

// ChatMessage is one turn of the conversation as sent by the client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the assistant request body.
type Request struct {
	Messages        []ChatMessage `json:"messages"`
	UserLanguage    string        `json:"userLanguage,omitempty"`
	CurrentLocation *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"currentLocation,omitempty"`
	CurrentTime string `json:"currentTime,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

// Config holds assistant service configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// requests per minute per principal
	RateLimit int
	Timeout   time.Duration
}

// Service builds prompts and streams completions.
type Service struct {
	client  openai.Client
	model   string
	history HistoryRepo
	social  InteractionRepo
	logger  *slog.Logger

	rateLimit rate.Limit
	burst     int
	mu        sync.Mutex
	limiters  map[uuid.UUID]*rate.Limiter
}

// NewService creates the assistant service.
func NewService(cfg Config, history HistoryRepo, social InteractionRepo, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	perMinute := cfg.RateLimit
	if perMinute <= 0 {
		perMinute = 10
	}
	return &Service{
		client:    openai.NewClient(opts...),
		model:     model,
		history:   history,
		social:    social,
		logger:    logger.With("component", "assistant.service"),
		rateLimit: rate.Limit(float64(perMinute) / 60.0),
		burst:     perMinute,
		limiters:  make(map[uuid.UUID]*rate.Limiter),
	}
}

// Allow reports whether the principal is within the request budget.
func (s *Service) Allow(principal uuid.UUID) bool {
	s.mu.Lock()
	limiter, ok := s.limiters[principal]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.burst)
		s.limiters[principal] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

// Stream opens a streaming completion for the request on behalf of the
// principal. Callers must Close the returned stream.
func (s *Service) Stream(ctx context.Context, principal uuid.UUID, req Request) (*ssestream.Stream[openai.ChatCompletionChunk], error) {
	if !s.Allow(principal) {
		return nil, ErrRateLimited
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	messages = append(messages, openai.SystemMessage(s.systemPrompt(ctx, principal, req)))
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	stream := s.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(s.model),
		Messages: messages,
	})
	return stream, nil
}

// systemPrompt assembles the travel assistant persona plus whatever the
// repositories know about the principal. Retrieval failures degrade to a
// context-free prompt rather than failing the request.
func (s *Service) systemPrompt(ctx context.Context, principal uuid.UUID, req Request) string {
	var b strings.Builder
	b.WriteString("You are SPOTT's travel assistant. Recommend places, plan routes, ")
	b.WriteString("and answer questions about cities. Be concise and concrete.\n")

	if req.UserLanguage != "" {
		fmt.Fprintf(&b, "Answer in the user's language: %s.\n", req.UserLanguage)
	}
	if req.CurrentLocation != nil {
		fmt.Fprintf(&b, "The user is currently at latitude %.5f, longitude %.5f.\n",
			req.CurrentLocation.Latitude, req.CurrentLocation.Longitude)
	}
	if req.CurrentTime != "" {
		fmt.Fprintf(&b, "The user's local time is %s", req.CurrentTime)
		if req.Timezone != "" {
			fmt.Fprintf(&b, " (%s)", req.Timezone)
		}
		b.WriteString(".\n")
	}

	if places, err := s.history.ListSavedPlaces(ctx, principal, contextPlaceLimit); err != nil {
		s.logger.Warn("saved places lookup failed, continuing without", "error", err)
	} else if len(places) > 0 {
		b.WriteString("Places the user has saved: ")
		for i, p := range places {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s (%s)", p.Name, p.City)
		}
		b.WriteString(".\n")
	}

	if cities, err := s.history.SavedCityHistogram(ctx, principal); err != nil {
		s.logger.Warn("city histogram lookup failed, continuing without", "error", err)
	} else if len(cities) > 0 {
		b.WriteString("Cities the user saves most: ")
		for i, c := range cities {
			if i >= 5 {
				break
			}
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%d)", c.City, c.Count)
		}
		b.WriteString(".\n")
	}

	if acts, err := s.social.ListRecentInteractions(ctx, principal, 10); err != nil {
		s.logger.Warn("interaction lookup failed, continuing without", "error", err)
	} else if len(acts) > 0 {
		kinds := make(map[string]int)
		for _, a := range acts {
			kinds[a.Kind]++
		}
		b.WriteString("Recent activity:")
		for kind, n := range kinds {
			fmt.Fprintf(&b, " %s x%d", kind, n)
		}
		b.WriteString(".\n")
	}

	return b.String()
}
