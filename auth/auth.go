package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

var (
	ErrMissingToken = errors.New("auth: token required")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Principal is the verified identity behind a token. A nil HomeIDs means
// the token carried no homeIds claim and the principal is not home-scoped.
type Principal struct {
	UserID  string
	Role    string
	HomeIDs []string
}

// CanAccessHome reports whether the principal may see homeID. Admins and
// unscoped principals see every home; a scoped principal only the homes
// listed in its token.
func (p Principal) CanAccessHome(homeID string) bool {
	if homeID == "" {
		return false
	}
	if p.Role == RoleAdmin || p.HomeIDs == nil {
		return true
	}
	return slices.Contains(p.HomeIDs, homeID)
}

// Claims are the JWT claims issued by the identity service. homeIds is
// optional; an empty list scopes the token to no home at all.
type Claims struct {
	UserID  string   `json:"userId"`
	Role    string   `json:"role"`
	HomeIDs []string `json:"homeIds"`
	jwt.RegisteredClaims
}

type AuthModule struct {
	JWTSecret string
}

func NewAuthModule(JWTSecret string) *AuthModule {
	return &AuthModule{JWTSecret: JWTSecret}
}

// Verify validates an HS256 token and returns its principal.
func (a *AuthModule) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(a.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return Principal{}, ErrInvalidToken
	}

	return Principal{
		UserID:  claims.UserID,
		Role:    claims.Role,
		HomeIDs: claims.HomeIDs,
	}, nil
}

// VerifyBearer accepts an Authorization header value.
func (a *AuthModule) VerifyBearer(header string) (Principal, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return Principal{}, ErrMissingToken
	}
	return a.Verify(token)
}
