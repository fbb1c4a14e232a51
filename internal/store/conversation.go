package store

import (
	"context"
	"time"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is one archived turn of dialogue.
type Conversation struct {
	ID        int64
	Role      string
	Content   string
	ModelUsed string
	LatencyMs int64
	Timestamp time.Time
}

// Embedding is a vector representation of a conversation turn. The vector is
// an opaque blob; encoding and similarity search belong to the recall layer.
type Embedding struct {
	ID             int64
	ConversationID int64
	TextContent    string
	Vector         []byte
	Metadata       string
	CreatedAt      time.Time
}

// ConversationStats summarises the conversation archive for status reporting.
type ConversationStats struct {
	TotalTurns   int64   // user turns recorded
	AvgLatencyMs float64 // mean assistant latency, 0 when no data
}

// RecordConversation archives a dialogue turn and returns its row ID. A zero
// Timestamp defaults to now.
func (s *Store) RecordConversation(ctx context.Context, c Conversation) (int64, error) {
	const query = `
		INSERT INTO conversations (role, content, model_used, latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?)`

	res, err := s.q.ExecContext(ctx, query,
		c.Role, c.Content, c.ModelUsed, c.LatencyMs, dbTime(orNow(c.Timestamp)))
	if err != nil {
		return 0, mapErr("record conversation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapErr("record conversation", err)
	}
	return id, nil
}

// GetConversation retrieves one archived turn by ID. Returns ErrNotFound if
// no such row exists.
func (s *Store) GetConversation(ctx context.Context, id int64) (Conversation, error) {
	const query = `
		SELECT id, role, content, model_used, latency_ms, timestamp
		FROM conversations WHERE id = ?`

	var c Conversation
	var ts string
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Role, &c.Content, &c.ModelUsed, &c.LatencyMs, &ts)
	if err != nil {
		return Conversation{}, mapErr("get conversation", err)
	}
	if c.Timestamp, err = parseTime("get conversation", ts); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// DeleteConversation removes an archived turn. Embeddings referencing it are
// deleted by the schema's ON DELETE CASCADE. Deleting a non-existent row is
// not an error.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	const query = `DELETE FROM conversations WHERE id = ?`
	if _, err := s.q.ExecContext(ctx, query, id); err != nil {
		return mapErr("delete conversation", err)
	}
	return nil
}

// RecentConversations returns the latest turns, newest first.
func (s *Store) RecentConversations(ctx context.Context, limit int) ([]Conversation, error) {
	const query = `
		SELECT id, role, content, model_used, latency_ms, timestamp
		FROM conversations ORDER BY timestamp DESC LIMIT ?`

	rows, err := s.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, mapErr("recent conversations", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var ts string
		if err := rows.Scan(&c.ID, &c.Role, &c.Content, &c.ModelUsed, &c.LatencyMs, &ts); err != nil {
			return nil, mapErr("recent conversations scan", err)
		}
		if c.Timestamp, err = parseTime("recent conversations", ts); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("recent conversations", err)
	}
	return convs, nil
}

// Stats returns archive-wide counters for status reporting.
func (s *Store) Stats(ctx context.Context) (ConversationStats, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM conversations WHERE role = 'user'),
			(SELECT COALESCE(AVG(latency_ms), 0) FROM conversations
			 WHERE role = 'assistant' AND latency_ms > 0)`

	var st ConversationStats
	if err := s.q.QueryRowContext(ctx, query).Scan(&st.TotalTurns, &st.AvgLatencyMs); err != nil {
		return ConversationStats{}, mapErr("stats", err)
	}
	return st, nil
}

// StoreEmbedding saves a vector for a conversation turn and returns its row
// ID. The referenced conversation must exist; a dangling reference returns
// ErrIntegrity. A zero CreatedAt defaults to now.
func (s *Store) StoreEmbedding(ctx context.Context, e Embedding) (int64, error) {
	const query = `
		INSERT INTO embeddings (conversation_id, text_content, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`

	res, err := s.q.ExecContext(ctx, query,
		e.ConversationID, e.TextContent, e.Vector, e.Metadata, dbTime(orNow(e.CreatedAt)))
	if err != nil {
		return 0, mapErr("store embedding", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapErr("store embedding", err)
	}
	return id, nil
}

// RetrieveEmbeddings returns all embeddings for a conversation turn, oldest
// first. A conversation without embeddings yields an empty slice, not an
// error.
func (s *Store) RetrieveEmbeddings(ctx context.Context, conversationID int64) ([]Embedding, error) {
	const query = `
		SELECT id, conversation_id, text_content, embedding, metadata, created_at
		FROM embeddings WHERE conversation_id = ? ORDER BY created_at`

	rows, err := s.q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, mapErr("retrieve embeddings", err)
	}
	defer rows.Close()

	var embs []Embedding
	for rows.Next() {
		var e Embedding
		var created string
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.TextContent, &e.Vector, &e.Metadata, &created); err != nil {
			return nil, mapErr("retrieve embeddings scan", err)
		}
		if e.CreatedAt, err = parseTime("retrieve embeddings", created); err != nil {
			return nil, err
		}
		embs = append(embs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("retrieve embeddings", err)
	}
	return embs, nil
}

// AllEmbeddings returns every stored embedding, oldest first. The recall
// layer scans these for similarity; at assistant scale a full scan is cheap.
func (s *Store) AllEmbeddings(ctx context.Context) ([]Embedding, error) {
	const query = `
		SELECT id, conversation_id, text_content, embedding, metadata, created_at
		FROM embeddings ORDER BY created_at`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, mapErr("all embeddings", err)
	}
	defer rows.Close()

	var embs []Embedding
	for rows.Next() {
		var e Embedding
		var created string
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.TextContent, &e.Vector, &e.Metadata, &created); err != nil {
			return nil, mapErr("all embeddings scan", err)
		}
		if e.CreatedAt, err = parseTime("all embeddings", created); err != nil {
			return nil, err
		}
		embs = append(embs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("all embeddings", err)
	}
	return embs, nil
}
