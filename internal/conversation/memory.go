package conversation

import (
	"context"
	"sync"

	"github.com/nuvin-ai/nuvin/pkg/models"
)

// MemoryStore is the in-memory Store used for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*models.Message
	metadata map[string]*Metadata
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]*models.Message),
		metadata: make(map[string]*Metadata),
	}
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &copied)

	meta, ok := s.metadata[msg.ConversationID]
	if !ok {
		meta = &Metadata{ConversationID: msg.ConversationID}
		s.metadata[msg.ConversationID] = meta
	}
	meta.applyAppend(msg)
	return nil
}

// Messages implements Store.
func (s *MemoryStore) Messages(_ context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, ok := s.messages[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]*models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Metadata implements Store.
func (s *MemoryStore) Metadata(_ context.Context, conversationID string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.metadata[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *meta
	return &copied, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
