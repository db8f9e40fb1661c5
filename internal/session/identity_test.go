package session

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUserIDFromToken(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"userId claim", jwt.MapClaims{"userId": "abc"}, "abc"},
		{"numeric id", jwt.MapClaims{"userId": 42}, "42"},
		{"subject", jwt.MapClaims{"sub": "s-1"}, "s-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserIDFromToken(signed(t, tt.claims))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("UserIDFromToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserIDFromTokenWithoutClaim(t *testing.T) {
	_, err := UserIDFromToken(signed(t, jwt.MapClaims{"role": "admin"}))
	if !errors.Is(err, ErrNoUserID) {
		t.Errorf("error = %v, want ErrNoUserID", err)
	}
}

func TestUserIDFromMalformedToken(t *testing.T) {
	if _, err := UserIDFromToken("not-a-jwt"); err == nil {
		t.Error("expected parse error")
	}
}

func TestUserIDPrefersConfigured(t *testing.T) {
	got, err := UserID("configured", signed(t, jwt.MapClaims{"userId": "token"}))
	if err != nil || got != "configured" {
		t.Errorf("UserID() = %q, %v", got, err)
	}
	if _, err := UserID("", ""); !errors.Is(err, ErrNoUserID) {
		t.Errorf("UserID(empty) error = %v, want ErrNoUserID", err)
	}
}
