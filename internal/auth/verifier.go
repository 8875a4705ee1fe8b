// Package auth exchanges a bearer credential for a verified identity.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers missing, malformed, expired, or badly signed credentials.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the result of a successful credential exchange.
type Identity struct {
	UserID string
	Email  string
}

// Verifier turns a bearer credential into a verified identity, or rejects it.
type Verifier interface {
	Verify(credential string) (Identity, error)
}

// Claims is the JWT payload: standard registered claims plus the user's email.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Compile-time check to ensure JWTVerifier implements Verifier
var _ Verifier = (*JWTVerifier)(nil)

// JWTVerifier validates HS256-signed tokens with a shared secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: missing credential", ErrInvalidToken)
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// Issue signs a token for userID. Used by local tooling and tests; production
// deployments are expected to mint tokens in a separate identity service.
func (v *JWTVerifier) Issue(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
