package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/nuvin-ai/nuvin/pkg/models"
)

// SQLiteStore persists conversations in SQLite. The message table is
// append-only; metadata lives in its own table and is rewritten on every
// append.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives
// an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening conversation database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_results TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			topic TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			token_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing conversation schema: %w", err)
		}
	}
	return nil
}

// AppendMessage implements Store. The message insert and the metadata
// rewrite happen in one transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	toolCalls, err := marshalNullable(msg.ToolCalls)
	if err != nil {
		return err
	}
	toolResults, err := marshalNullable(msg.ToolResults)
	if err != nil {
		return err
	}
	metadata, err := marshalNullable(msg.Metadata)
	if err != nil {
		return err
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_results, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, toolCalls, toolResults, metadata, createdAt,
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	meta, err := s.readMetadata(ctx, tx, msg.ConversationID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if meta == nil {
		meta = &Metadata{ConversationID: msg.ConversationID}
	}
	meta.applyAppend(msg)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, topic, message_count, token_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
			topic = excluded.topic,
			message_count = excluded.message_count,
			token_count = excluded.token_count,
			updated_at = excluded.updated_at`,
		meta.ConversationID, meta.Topic, meta.MessageCount, meta.TokenCount, meta.CreatedAt, meta.UpdatedAt,
	); err != nil {
		return fmt.Errorf("updating conversation metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

// Messages implements Store.
func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_calls, tool_results, metadata, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, rowid`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		var toolCalls, toolResults, metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &toolCalls, &toolResults, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = models.Role(role)
		if err := unmarshalNullable(toolCalls, &msg.ToolCalls); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(toolResults, &msg.ToolResults); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(metadata, &msg.Metadata); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, ErrNotFound
	}
	return messages, nil
}

// Metadata implements Store.
func (s *SQLiteStore) Metadata(ctx context.Context, conversationID string) (*Metadata, error) {
	return s.readMetadata(ctx, s.db, conversationID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) readMetadata(ctx context.Context, q querier, conversationID string) (*Metadata, error) {
	meta := &Metadata{}
	err := q.QueryRowContext(ctx,
		`SELECT conversation_id, topic, message_count, token_count, created_at, updated_at
		 FROM conversations WHERE conversation_id = ?`,
		conversationID,
	).Scan(&meta.ConversationID, &meta.Topic, &meta.MessageCount, &meta.TokenCount, &meta.CreatedAt, &meta.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading conversation metadata: %w", err)
	}
	return meta, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalNullable(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case []models.ToolCall:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case []models.ToolResult:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding message field: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable(ns sql.NullString, target any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(ns.String), target); err != nil {
		return fmt.Errorf("decoding message field: %w", err)
	}
	return nil
}
