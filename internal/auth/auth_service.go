package auth

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/repository"
)

var (
	ErrEmailExists         = errors.New("email already registered")
	ErrUsernameExists      = errors.New("username already taken")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.]{3,30}$`)

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RegisterRequest is the payload for account creation.
type RegisterRequest struct {
	Username        string `json:"username"`
	DisplayName     string `json:"display_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// LoginRequest is the payload for authentication.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the payload for token renewal.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse carries a freshly issued token pair.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// AuthResponse is returned from register and login.
type AuthResponse struct {
	User   *repository.Profile `json:"user"`
	Tokens TokenResponse       `json:"tokens"`
}

// Service implements registration, login and token refresh over profiles.
type Service struct {
	profiles          *repository.ProfileRepo
	tokenService      *TokenService
	passwordValidator *PasswordValidator
	logger            *slog.Logger
}

// NewService creates the auth service.
func NewService(profiles *repository.ProfileRepo, tokens *TokenService, validator *PasswordValidator, logger *slog.Logger) *Service {
	return &Service{
		profiles:          profiles,
		tokenService:      tokens,
		passwordValidator: validator,
		logger:            logger,
	}
}

// Register creates a profile and returns it with a token pair.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, []ValidationError, error) {
	var validationErrors []ValidationError

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !emailRegex.MatchString(email) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "email",
			Message: "Invalid email format",
		})
	}

	username := strings.TrimSpace(strings.ToLower(req.Username))
	if !usernameRegex.MatchString(username) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "username",
			Message: "Username must be 3-30 characters of lowercase letters, digits, dots or underscores",
		})
	}

	for _, err := range s.passwordValidator.ValidatePassword(req.Password) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field,
			Message: err.Message,
		})
	}

	if req.Password != req.ConfirmPassword {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "confirm_password",
			Message: "Password and confirm_password do not match",
		})
	}

	if len(validationErrors) > 0 {
		return nil, validationErrors, nil
	}

	if exists, err := s.profiles.EmailExists(ctx, email); err != nil {
		return nil, nil, err
	} else if exists {
		return nil, nil, ErrEmailExists
	}
	if exists, err := s.profiles.UsernameExists(ctx, username); err != nil {
		return nil, nil, err
	} else if exists {
		return nil, nil, ErrUsernameExists
	}

	passwordHash, err := s.passwordValidator.HashPassword(req.Password)
	if err != nil {
		return nil, nil, err
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}

	profile := &repository.Profile{
		Username:     username,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: passwordHash,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrProfileExists) {
			return nil, nil, ErrEmailExists
		}
		return nil, nil, err
	}

	tokenPair, err := s.tokenService.GenerateTokenPair(profile.ID.String(), profile.Email, profile.Username)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("profile registered", "profile_id", profile.ID, "username", profile.Username)

	return &AuthResponse{
		User: profile,
		Tokens: TokenResponse{
			AccessToken:  tokenPair.AccessToken,
			RefreshToken: tokenPair.RefreshToken,
			ExpiresIn:    tokenPair.ExpiresIn,
			TokenType:    "Bearer",
		},
	}, nil, nil
}

// Login authenticates a profile by email and password.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))

	profile, err := s.profiles.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := s.passwordValidator.VerifyPassword(req.Password, profile.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.profiles.TouchLastSeen(ctx, profile.ID); err != nil {
		s.logger.Warn("touch last seen failed", "profile_id", profile.ID, "error", err)
	}
	now := time.Now().UTC()
	profile.LastSeenAt = &now

	tokenPair, err := s.tokenService.GenerateTokenPair(profile.ID.String(), profile.Email, profile.Username)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		User: profile,
		Tokens: TokenResponse{
			AccessToken:  tokenPair.AccessToken,
			RefreshToken: tokenPair.RefreshToken,
			ExpiresIn:    tokenPair.ExpiresIn,
			TokenType:    "Bearer",
		},
	}, nil
}

// Refresh validates a refresh token and issues a new token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	claims, err := s.tokenService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	profileID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	profile, err := s.profiles.GetByID(ctx, profileID)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	tokenPair, err := s.tokenService.GenerateTokenPair(profile.ID.String(), profile.Email, profile.Username)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		ExpiresIn:    tokenPair.ExpiresIn,
		TokenType:    "Bearer",
	}, nil
}
