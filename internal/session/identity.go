package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoUserID is returned when neither the profile nor the token names a user.
var ErrNoUserID = errors.New("no user id configured and none found in token")

// UserIDFromToken reads the user id claim of an auth token. The signature is
// not checked: the backend verifies it, and the id only partitions local data.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	for _, key := range []string{"userId", "user_id", "sub"} {
		if v, ok := claims[key]; ok {
			switch id := v.(type) {
			case string:
				if id != "" {
					return id, nil
				}
			case float64:
				return fmt.Sprintf("%.0f", id), nil
			}
		}
	}
	return "", ErrNoUserID
}

// UserID picks the configured user id, falling back to the token claim.
func UserID(configured, token string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if token == "" {
		return "", ErrNoUserID
	}
	return UserIDFromToken(token)
}
