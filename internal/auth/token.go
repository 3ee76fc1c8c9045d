package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ms-checkin/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// ParseOperatorToken reads the organizer token the device was provisioned
// with. The signature is not checked here: the backend verifies it on every
// call, the device only needs the subject and expiry.
func ParseOperatorToken(tokenString string) (models.OperatorToken, error) {
	if tokenString == "" {
		return models.OperatorToken{}, errors.New("empty token")
	}

	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return models.OperatorToken{}, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.OperatorToken{}, errors.New("invalid token claims")
	}

	var operator models.OperatorToken
	if sub, err := claims.GetSubject(); err == nil {
		operator.OperatorID = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		operator.ExpiresAt = exp.Time.UTC()
	}
	return operator, nil
}

// TokenExpiresWithin reports whether the token expires in less than d.
func TokenExpiresWithin(tokenString string, d time.Duration) bool {
	operator, err := ParseOperatorToken(tokenString)
	if err != nil || operator.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(operator.ExpiresAt) < d
}
