package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	// ErrTokenExpired is returned when the exp claim lies in the past.
	ErrTokenExpired = errors.New("token expired")
	// ErrMissingSubject is returned when the sub claim is absent or empty.
	ErrMissingSubject = errors.New("token has no subject")
)

// SignHS256 creates a compact JWT string using HS256.
func SignHS256(claims map[string]any, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString(secret)
}

// ParseAndVerifyHS256 verifies the token signature and standard time claims
// and returns its claims. Only HMAC signed tokens are accepted.
func ParseAndVerifyHS256(token string, secret []byte) (map[string]any, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Subject returns the sub claim after checking exp against now. A token
// without exp does not expire.
func Subject(claims map[string]any, now time.Time) (string, error) {
	if exp, ok := claims["exp"].(float64); ok && now.Unix() >= int64(exp) {
		return "", ErrTokenExpired
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrMissingSubject
	}
	return sub, nil
}
