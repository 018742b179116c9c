package server

import (
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned by an Authenticator that cannot identify the caller.
var ErrUnauthenticated = errors.New("server: unauthenticated")

// Authenticator maps a request to a user id.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (string, error)

// Authenticate calls f(r).
func (f AuthenticatorFunc) Authenticate(r *http.Request) (string, error) {
	return f(r)
}

// StaticAuthenticator resolves bearer tokens from a fixed table.
// It is meant for development and tests.
type StaticAuthenticator map[string]string

// Authenticate implements Authenticator.
func (a StaticAuthenticator) Authenticate(r *http.Request) (string, error) {
	token, ok := bearerToken(r)
	if !ok {
		return "", ErrUnauthenticated
	}
	userID, ok := a[token]
	if !ok || userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
