// Package auth validates bearer tokens presented to the admin API.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator checks one presented token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one shared token. An empty Token rejects
// everything.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// AllowAll accepts any token, including none.
type AllowAll struct{}

func (AllowAll) Validate(string) error { return nil }

// FromToken returns StaticToken for a non-empty token and AllowAll
// otherwise.
func FromToken(token string) Validator {
	token = strings.TrimSpace(token)
	if token == "" {
		return AllowAll{}
	}
	return StaticToken{Token: token}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
