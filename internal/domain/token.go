package domain

import (
	"time"
)

// TokenType distinguishes the two JWT kinds issued by the token manager.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenPair holds a freshly issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshTokenRecord is the server-side registry entry that makes a refresh
// token revocable independently of its embedded expiry. IsActive=false makes
// the token permanently unusable.
type RefreshTokenRecord struct {
	TokenID   string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsActive  bool      `json:"is_active"`
}
