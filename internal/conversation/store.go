// Package conversation provides the append-only conversation log and
// per-session metrics accumulation.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nuvin-ai/nuvin/pkg/models"
)

// ErrNotFound indicates an unknown conversation id.
var ErrNotFound = errors.New("conversation not found")

// Metadata is the derived summary of one conversation, recomputed on every
// append.
type Metadata struct {
	ConversationID string    `json:"conversation_id"`
	Topic          string    `json:"topic,omitempty"`
	MessageCount   int       `json:"message_count"`
	TokenCount     int       `json:"token_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store is the append-only per-conversation message log. Messages are never
// updated or deleted.
type Store interface {
	// AppendMessage appends one message and recomputes the conversation
	// metadata.
	AppendMessage(ctx context.Context, msg *models.Message) error

	// Messages returns a conversation's messages in append order.
	Messages(ctx context.Context, conversationID string) ([]*models.Message, error)

	// Metadata returns the derived conversation metadata.
	Metadata(ctx context.Context, conversationID string) (*Metadata, error)

	// Close releases store resources.
	Close() error
}

// estimateTokens approximates token counts for metadata bookkeeping at
// roughly four characters per token. Exact counts come from provider usage
// blocks; this estimate only feeds the conversation summary.
func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}

// deriveTopic picks a conversation topic from the first user message,
// trimmed to one line of at most 80 characters.
func deriveTopic(msg *models.Message) string {
	if msg.Role != models.RoleUser {
		return ""
	}
	topic := strings.TrimSpace(msg.Content)
	if i := strings.IndexByte(topic, '\n'); i >= 0 {
		topic = topic[:i]
	}
	if len(topic) > 80 {
		topic = topic[:77] + "..."
	}
	return topic
}

// applyAppend folds one message into the metadata.
func (m *Metadata) applyAppend(msg *models.Message) {
	now := msg.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	if m.MessageCount == 0 {
		m.CreatedAt = now
	}
	m.MessageCount++
	m.TokenCount += estimateTokens(msg.Content)
	for _, result := range msg.ToolResults {
		m.TokenCount += estimateTokens(result.Content)
	}
	if m.Topic == "" {
		m.Topic = deriveTopic(msg)
	}
	m.UpdatedAt = now
}
