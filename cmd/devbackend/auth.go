package main

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

// tokenCheck guards the websocket endpoint with a single shared token.
// Only its bcrypt hash is kept in memory.
type tokenCheck struct {
	hash []byte
}

// newTokenCheck returns nil when token is empty, meaning the endpoint is open.
func newTokenCheck(token string) (*tokenCheck, error) {
	if token == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &tokenCheck{hash: hash}, nil
}

func (c *tokenCheck) validate(r *http.Request) error {
	if c == nil {
		return nil
	}
	token := extractBearerToken(r)
	if token == "" {
		return errMissingToken
	}
	// CompareHashAndPassword is constant-time.
	if err := bcrypt.CompareHashAndPassword(c.hash, []byte(token)); err != nil {
		return errInvalidToken
	}
	return nil
}

// extractBearerToken reads "Bearer <token>" from the Authorization header,
// falling back to the token query parameter.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const bearerPrefix = "bearer "
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		return auth[len(bearerPrefix):]
	}
	return r.URL.Query().Get("token")
}
