package store

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/parley/internal/conversation"
)

// SearchHit is one history entry matching a full-text query.
type SearchHit struct {
	Key       conversation.Key `json:"key"`
	Kind      string           `json:"kind"`
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"createdAt"`
	Rank      float64          `json:"rank"`
}

// Search finds history entries matching query using FTS5, best match
// first. A limit of 0 defaults to 20. A non-empty key restricts the search
// to that conversation.
func (s *ConversationStore) Search(ctx context.Context, query string, key conversation.Key, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT c.key_str, m.kind, m.content, m.created_at, rank
		 FROM messages_fts
		 JOIN messages m ON m.rowid = messages_fts.rowid
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE messages_fts MATCH ?
		   AND (? = '' OR c.key_str = ?)
		 ORDER BY rank
		 LIMIT ?`,
		query, string(key), string(key), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var createdAt int64
		if err := rows.Scan(&h.Key, &h.Kind, &h.Content, &createdAt, &h.Rank); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		h.CreatedAt = fromNanos(createdAt)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
