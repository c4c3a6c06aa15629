// Package store provides storage backends for tripmatch.
//
// This file implements the SQLite-backed history store and candidate pool.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/swellmates/tripmatch/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a HistoryStore and CandidatePool backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// AppendMessage appends a message to the chat's log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, chatID string, msg models.ConversationMessage) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	payload, err := marshalPayload(msg.MatchPayload)
	if err != nil {
		slog.Error("SQLiteStore.AppendMessage payload marshal failed", "error", err, "chatID", chatID)
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, id, role, text, timestamp, match_payload) VALUES (?, ?, ?, ?, ?, ?)`,
		chatID, msg.ID, msg.Role, msg.Text, msg.Timestamp, payload)
	if err != nil {
		slog.Error("SQLiteStore.AppendMessage failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to insert message for chat %s: %w", chatID, err)
	}
	slog.Debug("SQLiteStore.AppendMessage succeeded", "chatID", chatID, "role", msg.Role)
	return nil
}

// GetMessages returns the chat's full message log in append order.
func (s *SQLiteStore) GetMessages(ctx context.Context, chatID string) ([]models.ConversationMessage, error) {
	if chatID == "" {
		return nil, models.ErrEmptyChatID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, text, timestamp, match_payload FROM messages WHERE chat_id = ? ORDER BY seq`, chatID)
	if err != nil {
		slog.Error("SQLiteStore.GetMessages query failed", "error", err, "chatID", chatID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.ConversationMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			slog.Error("SQLiteStore.GetMessages scan failed", "error", err, "chatID", chatID)
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore.GetMessages rows iteration failed", "error", err, "chatID", chatID)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore.GetMessages succeeded", "chatID", chatID, "count", len(messages))
	return messages, nil
}

// AttachMatchPayload persists the payload against the latest assistant message.
func (s *SQLiteStore) AttachMatchPayload(ctx context.Context, chatID string, payload models.MatchPayload) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	serialized, err := marshalPayload(&payload)
	if err != nil {
		slog.Error("SQLiteStore.AttachMatchPayload marshal failed", "error", err, "chatID", chatID)
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET match_payload = ?
		 WHERE seq = (SELECT seq FROM messages WHERE chat_id = ? AND role = ? ORDER BY seq DESC LIMIT 1)`,
		serialized, chatID, models.RoleAssistant)
	if err != nil {
		slog.Error("SQLiteStore.AttachMatchPayload failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to attach match payload for chat %s: %w", chatID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		slog.Warn("SQLiteStore.AttachMatchPayload found no assistant message", "chatID", chatID)
		return models.ErrNoAssistantMessage
	}
	slog.Debug("SQLiteStore.AttachMatchPayload succeeded", "chatID", chatID, "matchedUsers", len(payload.MatchedUsers))
	return nil
}

// SaveCandidate inserts or replaces a candidate profile.
func (s *SQLiteStore) SaveCandidate(ctx context.Context, c models.Candidate) error {
	destinations, err := marshalDestinations(c.Destinations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO candidates (id, name, age, country_from, board_type, surf_level, budget, destinations)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Age, c.CountryFrom, c.BoardType, c.SurfLevel, nilIfEmpty(string(c.Budget)), destinations)
	if err != nil {
		slog.Error("SQLiteStore.SaveCandidate failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save candidate %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore.SaveCandidate succeeded", "id", c.ID)
	return nil
}

// ListCandidates returns every candidate profile.
func (s *SQLiteStore) ListCandidates(ctx context.Context) ([]models.Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, age, country_from, board_type, surf_level, budget, destinations FROM candidates ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore.ListCandidates query failed", "error", err)
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			slog.Error("SQLiteStore.ListCandidates scan failed", "error", err)
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidate rows: %w", err)
	}
	slog.Debug("SQLiteStore.ListCandidates succeeded", "count", len(candidates))
	return candidates, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
