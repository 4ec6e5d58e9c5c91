// Package auth verifies and issues bearer credentials and runs the
// connection-open handshake that turns a credential pair into a user.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token fails to parse or verify.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a token is well formed but past its expiry.
	ErrExpiredToken = errors.New("token has expired")
	// ErrUnsupportedAlgorithm is returned for non-HMAC signing algorithms.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
)

// Claims carries the registered claims of a chat credential. Subject holds
// the username.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTVerifier decodes and issues HMAC-signed JWT credentials.
type JWTVerifier struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
}

// NewJWTVerifier creates a verifier for the named HMAC algorithm (HS256,
// HS384 or HS512).
func NewJWTVerifier(secret, algorithm string) (*JWTVerifier, error) {
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTVerifier{
		secret: []byte(secret),
		method: method,
		now:    time.Now,
	}, nil
}

// Issue signs a credential for subject that expires after ttl.
func (v *JWTVerifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(v.method, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies tokenString and returns its claims.
func (v *JWTVerifier) Decode(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != v.method.Alg() {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
