package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"advisorchat/internal/feed"
	"advisorchat/internal/models"
	"advisorchat/internal/redis"

	"github.com/google/uuid"
)

const (
	conversationIndexKey = "chat:index"
	conversationIndexTTL = 30 * time.Second
)

var (
	ErrEmptyBody  = errors.New("message body is required")
	ErrMissingKey = errors.New("conversation key is required")
)

// Service persists conversations and messages and broadcasts every
// insert on the live feed.
type Service struct {
	db        *sql.DB
	publisher feed.Publisher
	cache     *redis.Client
	autoReply *AutoReply
	now       func() time.Time
}

// NewService constructs the chat store. cache and autoReply may be nil.
func NewService(db *sql.DB, publisher feed.Publisher, cache *redis.Client, autoReply *AutoReply) *Service {
	return &Service{
		db:        db,
		publisher: publisher,
		cache:     cache,
		autoReply: autoReply,
		now:       time.Now,
	}
}

// History returns the full transcript for a conversation ordered by
// creation time, ids breaking ties. No pagination: brokerage chats are
// short-lived and bounded.
func (s *Service) History(ctx context.Context, conversationKey string) ([]models.Message, error) {
	if conversationKey == "" {
		return nil, ErrMissingKey
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_key, role, body, created_at FROM messages WHERE conversation_key = ? ORDER BY created_at ASC, id ASC`,
		conversationKey,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationKey, &m.Role, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Append stores a new message and returns it with the assigned id and
// timestamp. The first visitor message of a conversation may trigger
// an automated reply.
func (s *Service) Append(ctx context.Context, conversationKey string, role models.Role, body string) (*models.Message, error) {
	msg, isNew, err := s.appendOne(ctx, conversationKey, role, body)
	if err != nil {
		return nil, err
	}

	if isNew && role == models.RoleVisitor && s.autoReply != nil {
		if reply, ok := s.autoReply.MessageFor(s.now().UTC()); ok {
			if _, _, err := s.appendOne(ctx, conversationKey, models.RoleBot, reply); err != nil {
				log.Printf("chat: auto reply failed: %v", err)
			}
		}
	}
	return msg, nil
}

func (s *Service) appendOne(ctx context.Context, conversationKey string, role models.Role, body string) (*models.Message, bool, error) {
	if conversationKey == "" {
		return nil, false, ErrMissingKey
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, false, ErrEmptyBody
	}
	switch role {
	case models.RoleVisitor, models.RoleAdvisor, models.RoleBot:
	default:
		return nil, false, fmt.Errorf("unknown role %q", role)
	}

	now := s.now().UTC()
	msg := models.Message{
		ID:              uuid.NewString(),
		ConversationKey: conversationKey,
		Role:            role,
		Body:            body,
		CreatedAt:       now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	isNew, err := touchConversation(ctx, tx, conversationKey, now)
	if err != nil {
		return nil, false, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_key, role, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationKey, msg.Role, msg.Body, msg.CreatedAt,
	); err != nil {
		return nil, false, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit message: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, msg); err != nil {
			// Viewers recover through their reconciliation fetch.
			log.Printf("chat: publish message failed: %v", err)
		}
	}
	s.invalidateIndex(ctx)
	return &msg, isNew, nil
}

// touchConversation bumps last_message_at, creating the conversation
// row on first contact. Returns whether the row is new.
func touchConversation(ctx context.Context, tx *sql.Tx, conversationKey string, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE conversation_key = ?`,
		now, conversationKey,
	)
	if err != nil {
		return false, fmt.Errorf("touch conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected > 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (conversation_key, created_at, last_message_at) VALUES (?, ?, ?)`,
		conversationKey, now, now,
	); err != nil {
		return false, fmt.Errorf("create conversation: %w", err)
	}
	return true, nil
}

// ListConversations returns conversation summaries ordered by last
// activity, most recent first. Served from the redis cache when warm.
func (s *Service) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, conversationIndexKey); err == nil {
			var cached []models.Conversation
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
		} else if err != redis.ErrCacheMiss {
			log.Printf("chat: conversation index cache read failed: %v", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_key, created_at, last_message_at FROM conversations ORDER BY last_message_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.Key, &c.CreatedAt, &c.LastMessageAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(conversations); err == nil {
			if err := s.cache.Set(ctx, conversationIndexKey, data, conversationIndexTTL); err != nil {
				log.Printf("chat: conversation index cache write failed: %v", err)
			}
		}
	}
	return conversations, nil
}

func (s *Service) invalidateIndex(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, conversationIndexKey); err != nil && err != redis.ErrCacheMiss {
		log.Printf("chat: conversation index invalidate failed: %v", err)
	}
}
