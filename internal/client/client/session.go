package client

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type sessionClaims struct {
	jwt.RegisteredClaims
	UserID string
}

// UserFromToken reads the UserID claim without verifying the signature.
// The server verifies every request; the client only needs the id to scope
// local records.
func UserFromToken(token string) (string, error) {
	if token == "" {
		return "", ErrNoSession
	}
	claims := &sessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse access token: %w", err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("parse access token: empty UserID claim")
	}
	return claims.UserID, nil
}
