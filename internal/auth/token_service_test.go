package auth

import (
	"testing"
	"time"
)

func newTestTokenService() *TokenService {
	return NewTokenService(TokenServiceConfig{
		AccessSecret:       "test-access-secret",
		RefreshSecret:      "test-refresh-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		Issuer:             "spott-test",
	})
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	svc := newTestTokenService()

	token, err := svc.GenerateAccessToken("user-123", "alice@example.com", "alice")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.PrincipalID() != "user-123" {
		t.Errorf("PrincipalID = %q, want %q", claims.PrincipalID(), "user-123")
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "alice@example.com")
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, want %q", claims.Username, "alice")
	}
	if claims.Type != AccessTokenType {
		t.Errorf("Type = %q, want %q", claims.Type, AccessTokenType)
	}
}

func TestRefreshTokenRejectedAsAccessToken(t *testing.T) {
	svc := newTestTokenService()

	refresh, err := svc.GenerateRefreshToken("user-123")
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}

	if _, err := svc.ValidateAccessToken(refresh); err == nil {
		t.Error("refresh token accepted as access token")
	}
}

func TestValidateAccessTokenWrongSecret(t *testing.T) {
	svc := newTestTokenService()
	other := NewTokenService(TokenServiceConfig{
		AccessSecret:       "different-secret",
		RefreshSecret:      "different-refresh",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "spott-test",
	})

	token, err := svc.GenerateAccessToken("user-123", "alice@example.com", "alice")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	if _, err := other.ValidateAccessToken(token); err == nil {
		t.Error("token accepted with wrong secret")
	}
}

func TestValidateAccessTokenWrongIssuer(t *testing.T) {
	svc := newTestTokenService()
	other := NewTokenService(TokenServiceConfig{
		AccessSecret:       "test-access-secret",
		RefreshSecret:      "test-refresh-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "someone-else",
	})

	token, err := svc.GenerateAccessToken("user-123", "alice@example.com", "alice")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	if _, err := other.ValidateAccessToken(token); err == nil {
		t.Error("token accepted with wrong issuer")
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	svc := NewTokenService(TokenServiceConfig{
		AccessSecret:       "test-access-secret",
		RefreshSecret:      "test-refresh-secret",
		AccessTokenExpiry:  -time.Minute,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "spott-test",
	})

	token, err := svc.GenerateAccessToken("user-123", "alice@example.com", "alice")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	if _, err := svc.ValidateAccessToken(token); err == nil {
		t.Error("expired token accepted")
	}
}

func TestGenerateTokenPair(t *testing.T) {
	svc := newTestTokenService()

	pair, err := svc.GenerateTokenPair("user-123", "alice@example.com", "alice")
	if err != nil {
		t.Fatalf("GenerateTokenPair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token in pair")
	}
	if pair.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Errorf("ExpiresIn = %d, want %d", pair.ExpiresIn, int64((15*time.Minute).Seconds()))
	}

	claims, err := svc.ValidateRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("ValidateRefreshToken: %v", err)
	}
	if claims.PrincipalID() != "user-123" {
		t.Errorf("PrincipalID = %q, want %q", claims.PrincipalID(), "user-123")
	}
	if claims.Email != "" || claims.Username != "" {
		t.Errorf("refresh token leaked profile claims: email=%q username=%q",
			claims.Email, claims.Username)
	}
}
