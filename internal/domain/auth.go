package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================
// Auth
// ============================================================

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token string         `json:"token"`
	User  map[string]any `json:"user"`
}

// LoginRequest is the body accepted by the local facade's login route.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenInfo describes a bearer token for display purposes only.
// The token is opaque to the client; nothing here is used for authorization.
type TokenInfo struct {
	Subject   string     `json:"subject,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Expired   bool       `json:"expired"`
}

// InspectToken reads the claims of a JWT-shaped token without verifying it.
// Returns false when the token is not a JWT.
func InspectToken(token string, now time.Time) (TokenInfo, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, false
	}

	var info TokenInfo
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time.UTC()
		info.ExpiresAt = &t
		info.Expired = !now.Before(t)
	}
	return info, true
}
