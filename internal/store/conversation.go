package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// Conversation roles.
const (
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleSystem = "system"
	RoleTool   = "tool"
)

// Message is one entry of a conversation log.
type Message struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	Meta           map[string]any
	CreatedAt      time.Time
}

// AddMessage appends an entry to the conversation log.
func (s *Store) AddMessage(ctx context.Context, conversationID, role, content string, meta map[string]any) error {
	var metaJSON []byte
	if len(meta) > 0 {
		var err error
		if metaJSON, err = json.Marshal(meta); err != nil {
			return err
		}
	}
	query := `INSERT INTO messages (conversation_id, role, content, meta, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, query, conversationID, role, content, string(metaJSON), s.now().UnixMilli())
	return err
}

// GetConversation returns the last limit entries in chronological order.
// limit <= 0 returns the whole conversation.
func (s *Store) GetConversation(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, conversation_id, role, content, meta, created_at FROM messages
		WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var meta string
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &meta, &created); err != nil {
			return nil, err
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &m.Meta); err != nil {
				return nil, err
			}
		}
		m.CreatedAt = time.UnixMilli(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetHistory returns the last limit human/assistant turns as model messages.
// Tool traffic and intermediate tool-call turns are left out.
func (s *Store) GetHistory(ctx context.Context, conversationID string, limit int) ([]llms.MessageContent, error) {
	msgs, err := s.GetConversation(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}

	var history []llms.MessageContent
	for _, m := range msgs {
		if kind, _ := m.Meta["kind"].(string); kind == "tool_calls" {
			continue
		}
		var role llms.ChatMessageType
		switch m.Role {
		case RoleHuman:
			role = llms.ChatMessageTypeHuman
		case RoleAI:
			role = llms.ChatMessageTypeAI
		default:
			continue
		}
		history = append(history, llms.TextParts(role, m.Content))
	}

	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}
