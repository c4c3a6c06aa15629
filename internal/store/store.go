// Package store provides storage backends for tripmatch.
//
// It defines the append-only conversation history store and the read-only
// candidate pool, with in-memory, SQLite, PostgreSQL, and DynamoDB
// implementations.
package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/swellmates/tripmatch/internal/models"
)

// HistoryStore is the durable per-chat message log. Messages are
// append-only: later turns only append new messages, never mutate history.
// The single exception is AttachMatchPayload, which decorates the latest
// assistant message's metadata without touching its text.
type HistoryStore interface {
	// AppendMessage appends a message to the chat's log.
	AppendMessage(ctx context.Context, chatID string, msg models.ConversationMessage) error

	// GetMessages returns the full message log for a chat in append order.
	// An unknown chat yields an empty log, not an error.
	GetMessages(ctx context.Context, chatID string) ([]models.ConversationMessage, error)

	// AttachMatchPayload persists a match payload against the most recent
	// assistant message of the chat.
	AttachMatchPayload(ctx context.Context, chatID string, payload models.MatchPayload) error

	// Close releases the backend's resources.
	Close() error
}

// CandidatePool exposes the candidate profiles the matcher evaluates.
// Read-only from the matcher's perspective.
type CandidatePool interface {
	ListCandidates(ctx context.Context) ([]models.Candidate, error)
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database DSN (file path for SQLite, URL for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore is a mutex-guarded in-memory history store and candidate
// pool, used in tests and local development.
type InMemoryStore struct {
	mu         sync.RWMutex
	messages   map[string][]models.ConversationMessage
	candidates []models.Candidate
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{messages: make(map[string][]models.ConversationMessage)}
}

// AppendMessage appends a message to the chat's in-memory log.
func (s *InMemoryStore) AppendMessage(ctx context.Context, chatID string, msg models.ConversationMessage) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[chatID] = append(s.messages[chatID], msg)
	slog.Debug("InMemoryStore.AppendMessage succeeded", "chatID", chatID, "role", msg.Role, "total", len(s.messages[chatID]))
	return nil
}

// GetMessages returns a copy of the chat's message log.
func (s *InMemoryStore) GetMessages(ctx context.Context, chatID string) ([]models.ConversationMessage, error) {
	if chatID == "" {
		return nil, models.ErrEmptyChatID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[chatID]
	out := make([]models.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// AttachMatchPayload attaches the payload to the latest assistant message.
func (s *InMemoryStore) AttachMatchPayload(ctx context.Context, chatID string, payload models.MatchPayload) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[chatID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleAssistant {
			p := payload
			msgs[i].MatchPayload = &p
			slog.Debug("InMemoryStore.AttachMatchPayload succeeded", "chatID", chatID, "messageID", msgs[i].ID, "matchedUsers", len(payload.MatchedUsers))
			return nil
		}
	}
	return models.ErrNoAssistantMessage
}

// Close implements HistoryStore; the in-memory store holds no resources.
func (s *InMemoryStore) Close() error {
	return nil
}

// SetCandidates replaces the in-memory candidate pool.
func (s *InMemoryStore) SetCandidates(candidates []models.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append([]models.Candidate(nil), candidates...)
}

// ListCandidates returns a copy of the candidate pool.
func (s *InMemoryStore) ListCandidates(ctx context.Context) ([]models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out, nil
}
