// Package memstore keeps accepted messages in memory. It is meant for
// tests and examples, not for durability.
package memstore

import (
	"context"
	"sync"

	"github.com/corvuslabs/magpie"
)

// Store collects messages in arrival order. The zero value is ready to use.
type Store struct {
	mu       sync.Mutex
	messages []*magpie.Message
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Save appends a deep copy of msg.
func (s *Store) Save(_ context.Context, msg *magpie.Message) error {
	copied := *msg
	copied.Data = append([]byte(nil), msg.Data...)
	copied.Envelope.To = append([]magpie.Path(nil), msg.Envelope.To...)
	if msg.Envelope.Params != nil {
		copied.Envelope.Params = make(map[string]string, len(msg.Envelope.Params))
		for k, v := range msg.Envelope.Params {
			copied.Envelope.Params[k] = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, &copied)
	return nil
}

// Messages returns the stored messages in arrival order.
func (s *Store) Messages() []*magpie.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*magpie.Message(nil), s.messages...)
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
