// Package authtest signs tokens in the layout the identity service issues,
// for tests that need an authenticated caller.
package authtest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"homehub/auth"
)

// Token signs an HS256 token for p that expires after ttl. A nil
// p.HomeIDs is encoded as null, which verifies as an unscoped principal.
func Token(t testing.TB, secret string, p auth.Principal, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := auth.Claims{
		UserID:  p.UserID,
		Role:    p.Role,
		HomeIDs: p.HomeIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
