// Package auth issues and validates operator access tokens. The engine has
// a single operator credential. Mutating API routes require a bearer token
// obtained by presenting the operator password.
package auth

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// AuthError carries a machine-readable code alongside the message.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid operator password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
)

// TokenResponse is returned after a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // Seconds
	TokenType   string `json:"token_type"` // Always "Bearer"
}

// Service authenticates the operator and issues tokens.
type Service struct {
	jwtManager   *JWTManager
	operatorHash string
}

// NewService creates an auth service. operatorHash is a bcrypt hash of the
// operator password.
func NewService(jwtSecret, operatorHash string, tokenDuration time.Duration) *Service {
	return &Service{
		jwtManager:   NewJWTManager(jwtSecret, tokenDuration),
		operatorHash: operatorHash,
	}
}

// Login verifies the operator password and returns a signed token.
func (s *Service) Login(password string) (*TokenResponse, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(s.operatorHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwtManager.GenerateToken(RoleOperator)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: token,
		ExpiresIn:   s.jwtManager.TokenDurationSeconds(),
		TokenType:   "Bearer",
	}, nil
}

// JWTManager exposes the token manager for middleware wiring.
func (s *Service) JWTManager() *JWTManager {
	return s.jwtManager
}
