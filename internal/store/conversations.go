package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/parley/internal/conversation"
)

// Message kinds as stored in the messages table.
const (
	kindUser       = "user"
	kindAssistant  = "assistant"
	kindToolUse    = "tool_use"
	kindToolResult = "tool_result"
)

// ConversationStore keeps conversations in SQLite. A conversation is one
// row plus its history in order; Save writes both in one transaction.
type ConversationStore struct {
	db    *DB
	clock conversation.Clock
}

// NewConversationStore creates a store over db. Loaded conversations use
// clock for later transitions; nil means the system clock.
func NewConversationStore(db *DB, clock conversation.Clock) *ConversationStore {
	return &ConversationStore{db: db, clock: clock}
}

// FindByKey loads the conversation stored under key.
func (s *ConversationStore) FindByKey(ctx context.Context, key conversation.Key) (conversation.Conversation, bool, error) {
	var (
		snap      conversation.Snapshot
		turnJSON  sql.NullString
		token     sql.NullString
		createdAt int64
		updatedAt int64
	)
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, key_str, turn, continuity_token, created_at, updated_at
		 FROM conversations WHERE key_str = ?`, string(key),
	).Scan(&snap.ID, &snap.Key, &turnJSON, &token, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Conversation{}, false, nil
	}
	if err != nil {
		return conversation.Conversation{}, false, fmt.Errorf("finding conversation: %w", err)
	}

	snap.CreatedAt = fromNanos(createdAt)
	snap.UpdatedAt = fromNanos(updatedAt)
	if token.Valid {
		tok := token.String
		snap.ContinuityToken = &tok
	}
	if turnJSON.Valid {
		var turn conversation.TurnSnapshot
		if err := json.Unmarshal([]byte(turnJSON.String), &turn); err != nil {
			return conversation.Conversation{}, false, fmt.Errorf("decoding turn of %s: %w", snap.ID, err)
		}
		snap.Turn = &turn
	}

	snap.Messages, err = s.loadMessages(ctx, snap.ID)
	if err != nil {
		return conversation.Conversation{}, false, err
	}
	return conversation.Restore(snap, s.clock), true, nil
}

func (s *ConversationStore) loadMessages(ctx context.Context, id conversation.ConversationID) ([]conversation.Message, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, kind, user_id, content, tool_call_id, is_error, tool_calls, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq`, string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var r messageRow
		if err := rows.Scan(&r.ID, &r.Kind, &r.UserID, &r.Content, &r.ToolCallID, &r.IsError, &r.ToolCalls, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m, err := r.decode()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Save replaces the conversation stored under c.Key(); the last save wins.
// Stored messages that match the saved history are kept and the rest of
// the history is rewritten from the first difference.
func (s *ConversationStore) Save(ctx context.Context, c conversation.Conversation) error {
	snap := c.Snapshot()

	var turnJSON sql.NullString
	if snap.Turn != nil {
		data, err := json.Marshal(snap.Turn)
		if err != nil {
			return fmt.Errorf("encoding turn: %w", err)
		}
		turnJSON = sql.NullString{String: string(data), Valid: true}
	}
	var token sql.NullString
	if snap.ContinuityToken != nil {
		token = sql.NullString{String: *snap.ContinuityToken, Valid: true}
	}

	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE key_str = ?`, string(snap.Key)).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("finding conversation: %w", err)
		case existingID != string(snap.ID):
			if err := deleteConversation(ctx, tx, existingID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, key_str, turn, continuity_token, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   turn = excluded.turn,
			   continuity_token = excluded.continuity_token,
			   updated_at = excluded.updated_at`,
			string(snap.ID), string(snap.Key), turnJSON, token,
			snap.CreatedAt.UnixNano(), snap.UpdatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("writing conversation: %w", err)
		}

		kept, err := sharedPrefix(ctx, tx, snap)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE conversation_id = ? AND seq >= ?`, string(snap.ID), kept,
		); err != nil {
			return fmt.Errorf("truncating messages: %w", err)
		}

		for seq := kept; seq < len(snap.Messages); seq++ {
			r, err := encodeMessage(snap.Messages[seq])
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (conversation_id, seq, id, kind, user_id, content, tool_call_id, is_error, tool_calls, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				string(snap.ID), seq, r.ID, r.Kind, r.UserID, r.Content, r.ToolCallID, r.IsError, r.ToolCalls, r.CreatedAt,
			); err != nil {
				return fmt.Errorf("writing message %d: %w", seq, err)
			}
		}
		return nil
	})
}

// sharedPrefix counts the leading stored messages whose IDs match snap's
// history in order.
func sharedPrefix(ctx context.Context, tx *sql.Tx, snap conversation.Snapshot) (int, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM messages WHERE conversation_id = ? ORDER BY seq`, string(snap.ID))
	if err != nil {
		return 0, fmt.Errorf("reading message ids: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		if n >= len(snap.Messages) || string(snap.Messages[n].MessageID()) != id {
			break
		}
		n++
	}
	return n, rows.Err()
}

// Delete removes the conversation for key and its history. A missing key
// is not an error.
func (s *ConversationStore) Delete(ctx context.Context, key conversation.Key) error {
	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE key_str = ?`, string(key)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("finding conversation: %w", err)
		}
		return deleteConversation(ctx, tx, id)
	})
}

func deleteConversation(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}

// Keys returns every stored key, most recently updated first.
func (s *ConversationStore) Keys(ctx context.Context) ([]conversation.Key, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT key_str FROM conversations ORDER BY updated_at DESC, key_str`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var keys []conversation.Key
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, conversation.Key(k))
	}
	return keys, rows.Err()
}

// messageRow is a history entry in its column form.
type messageRow struct {
	ID         string
	Kind       string
	UserID     string
	Content    string
	ToolCallID string
	IsError    bool
	ToolCalls  sql.NullString
	CreatedAt  int64
}

func encodeMessage(m conversation.Message) (messageRow, error) {
	r := messageRow{ID: string(m.MessageID()), CreatedAt: m.Created().UnixNano()}
	switch m := m.(type) {
	case conversation.UserMessage:
		r.Kind = kindUser
		r.UserID = string(m.User)
		r.Content = m.Text
	case conversation.AssistantMessage:
		r.Kind = kindAssistant
		r.Content = m.Text
	case conversation.AssistantToolUseMessage:
		r.Kind = kindToolUse
		data, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return r, fmt.Errorf("encoding tool calls: %w", err)
		}
		r.ToolCalls = sql.NullString{String: string(data), Valid: true}
	case conversation.ToolResultMessage:
		r.Kind = kindToolResult
		r.ToolCallID = string(m.ToolCallID)
		r.Content = m.Text
		r.IsError = m.IsError
	default:
		return r, fmt.Errorf("unknown message type %T", m)
	}
	return r, nil
}

func (r messageRow) decode() (conversation.Message, error) {
	id := conversation.MessageID(r.ID)
	at := fromNanos(r.CreatedAt)
	switch r.Kind {
	case kindUser:
		return conversation.UserMessage{ID: id, CreatedAt: at, User: conversation.UserID(r.UserID), Text: r.Content}, nil
	case kindAssistant:
		return conversation.AssistantMessage{ID: id, CreatedAt: at, Text: r.Content}, nil
	case kindToolUse:
		var calls []conversation.ToolCall
		if r.ToolCalls.Valid {
			if err := json.Unmarshal([]byte(r.ToolCalls.String), &calls); err != nil {
				return nil, fmt.Errorf("decoding tool calls of message %s: %w", r.ID, err)
			}
		}
		return conversation.AssistantToolUseMessage{ID: id, CreatedAt: at, ToolCalls: calls}, nil
	case kindToolResult:
		return conversation.ToolResultMessage{
			ID:         id,
			CreatedAt:  at,
			ToolCallID: conversation.ToolCallID(r.ToolCallID),
			Text:       r.Content,
			IsError:    r.IsError,
		}, nil
	}
	return nil, fmt.Errorf("message %s has unknown kind %q", r.ID, r.Kind)
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
