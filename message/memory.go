package message

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	messages []Message
	keys     map[string]struct{}
	err      error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]struct{})}
}

func (s *MemoryStore) Append(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	k := m.ConversationID + "|" + m.Timestamp
	if _, ok := s.keys[k]; ok {
		return ErrConflict
	}
	s.keys[k] = struct{}{}
	s.messages = append(s.messages, *m)
	return nil
}

// SetErr makes every later Append fail with err (nil restores normal behaviour).
func (s *MemoryStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Messages returns a copy of everything stored, in append order.
func (s *MemoryStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}
