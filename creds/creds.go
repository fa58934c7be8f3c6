// Package creds provides a static credential table backed by bcrypt
// hashes, for servers whose accounts live in a config file rather than a
// directory service.
package creds

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnknownIdentity means no account exists for the identity. It is
// deliberately indistinguishable from a bad password at the protocol
// level; both produce the same 535 reply.
var ErrUnknownIdentity = errors.New("creds: unknown identity")

// Static is an Authenticator over a fixed identity-to-hash table.
// Safe for concurrent use.
type Static struct {
	mu     sync.RWMutex
	hashes map[string][]byte
}

// NewStatic creates an empty credential table.
func NewStatic() *Static {
	return &Static{hashes: make(map[string][]byte)}
}

// SetPassword hashes password with bcrypt and stores it for identity.
func (s *Static) SetPassword(identity, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.hashes[identity] = hash
	s.mu.Unlock()
	return nil
}

// SetHash stores a precomputed bcrypt hash for identity, as read from a
// config file.
func (s *Static) SetHash(identity string, hash []byte) {
	s.mu.Lock()
	s.hashes[identity] = append([]byte(nil), hash...)
	s.mu.Unlock()
}

// Authenticate checks password against the stored hash for identity.
func (s *Static) Authenticate(_ context.Context, _, identity, password string) error {
	s.mu.RLock()
	hash, ok := s.hashes[identity]
	s.mu.RUnlock()
	if !ok {
		// Burn comparable time so unknown identities are not observably
		// faster than wrong passwords.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return ErrUnknownIdentity
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password))
}

// Bcrypt hash of an unguessable throwaway value, used to equalize timing.
var dummyHash = func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("magpie-dummy-comparison"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
}()
