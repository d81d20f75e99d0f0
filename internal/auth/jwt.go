package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "edc-exchange"

var errNoUser = errors.New("token without user_id")

// Claims are issued by the external auth service; this service only
// verifies them.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	jwt.RegisteredClaims
}

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
	jwt.WithExpirationRequired(),
	jwt.WithLeeway(30*time.Second),
)

// GenerateJWT signs an HS256 token for userID. A non-positive expiration
// means 24h. Used by tests and local tooling.
func GenerateJWT(secret string, userID uuid.UUID, expiration time.Duration) (string, error) {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
	}).SignedString([]byte(secret))
}

// ParseJWT verifies an HMAC-signed token with an expiry and a user id.
func ParseJWT(secret string, tokenStr string) (*Claims, error) {
	var claims Claims
	if _, err := parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.UserID == uuid.Nil {
		return nil, errNoUser
	}
	return &claims, nil
}
