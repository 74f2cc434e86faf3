package auth

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", 15*time.Minute)

	token, err := m.GenerateToken(RoleOperator)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if claims.Role != RoleOperator {
		t.Errorf("expected role %q, got %q", RoleOperator, claims.Role)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute)

	token, err := m.GenerateToken(RoleOperator)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	_, err = m.ValidateToken(token)
	if err != ErrTokenExpired {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenSignedWithOtherSecretRejected(t *testing.T) {
	issuer := NewJWTManager("secret-a", 15*time.Minute)
	verifier := NewJWTManager("secret-b", 15*time.Minute)

	token, err := issuer.GenerateToken(RoleOperator)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	if _, err := verifier.ValidateToken(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	m := NewJWTManager("test-secret", 15*time.Minute)

	if _, err := m.ValidateToken("not.a.token"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestServiceLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt hash failed: %v", err)
	}

	svc := NewService("test-secret", string(hash), 15*time.Minute)

	resp, err := svc.Login("correct horse")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("expected access token")
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("expected token type Bearer, got %q", resp.TokenType)
	}
	if resp.ExpiresIn != 900 {
		t.Errorf("expected expires_in 900, got %d", resp.ExpiresIn)
	}

	// The issued token validates against the same manager.
	if _, err := svc.JWTManager().ValidateToken(resp.AccessToken); err != nil {
		t.Errorf("issued token failed validation: %v", err)
	}
}

func TestServiceLoginWrongPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt hash failed: %v", err)
	}

	svc := NewService("test-secret", string(hash), 15*time.Minute)

	if _, err := svc.Login("battery staple"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}
