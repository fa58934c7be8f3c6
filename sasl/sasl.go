// Package sasl implements the SASL mechanisms used by SMTP AUTH
// (RFC 4954): PLAIN (RFC 4616) and LOGIN. Mechanisms decode the
// challenge/response exchange only; verifying the extracted credentials
// is the caller's job.
package sasl

import (
	"encoding/base64"
	"errors"
	"strings"
)

var (
	// ErrInvalidFormat means a response decoded but did not have the shape
	// the mechanism requires.
	ErrInvalidFormat = errors.New("sasl: invalid response format")

	// ErrInvalidBase64 means a client response was not valid base64.
	ErrInvalidBase64 = errors.New("sasl: invalid base64 encoding")
)

// Credentials is the identity material extracted from a completed exchange.
type Credentials struct {
	// AuthorizationID is the identity to act as, when the mechanism carries
	// one. Usually empty, meaning "same as the authentication identity".
	AuthorizationID string

	// AuthenticationID is the identity whose password is being presented.
	AuthenticationID string

	// Password is the cleartext password.
	Password string
}

// Identity returns the effective identity: the authorization identity when
// present, otherwise the authentication identity.
func (c *Credentials) Identity() string {
	if c.AuthorizationID != "" {
		return c.AuthorizationID
	}
	return c.AuthenticationID
}

// Mechanism is one server-side SASL exchange. Step is called with the
// client's base64 response ("" when none has arrived yet, as with AUTH
// without an initial response); it returns the next base64 challenge to
// send, or done=true when the exchange has finished. A Mechanism is
// single-use and not safe for concurrent use.
type Mechanism interface {
	// Name returns the mechanism name in its canonical uppercase form.
	Name() string

	// Step advances the exchange by one client response.
	Step(response string) (challenge string, done bool, err error)

	// Credentials returns the extracted credentials once Step has reported
	// done. It returns nil before that.
	Credentials() *Credentials
}

// New creates a fresh Mechanism by name. The name match is
// case-insensitive. ok is false for unknown mechanisms.
func New(name string) (Mechanism, bool) {
	switch strings.ToUpper(name) {
	case "PLAIN":
		return &plainMechanism{}, true
	case "LOGIN":
		return &loginMechanism{}, true
	default:
		return nil, false
	}
}

// decode unwraps one base64 client response. An empty response is the
// client asking for the challenge, which decodes to empty.
func decode(response string) (string, error) {
	if response == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(response)
	if err != nil {
		return "", ErrInvalidBase64
	}
	return string(raw), nil
}
