// Package store provides storage backends for tripmatch.
//
// This file implements the PostgreSQL-backed history store and candidate pool.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/swellmates/tripmatch/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a HistoryStore and CandidatePool backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// AppendMessage appends a message to the chat's log.
func (s *PostgresStore) AppendMessage(ctx context.Context, chatID string, msg models.ConversationMessage) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	payload, err := marshalPayload(msg.MatchPayload)
	if err != nil {
		slog.Error("PostgresStore.AppendMessage payload marshal failed", "error", err, "chatID", chatID)
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, id, role, text, timestamp, match_payload) VALUES ($1, $2, $3, $4, $5, $6)`,
		chatID, msg.ID, msg.Role, msg.Text, msg.Timestamp, payload)
	if err != nil {
		slog.Error("PostgresStore.AppendMessage failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to insert message for chat %s: %w", chatID, err)
	}
	slog.Debug("PostgresStore.AppendMessage succeeded", "chatID", chatID, "role", msg.Role)
	return nil
}

// GetMessages returns the chat's full message log in append order.
func (s *PostgresStore) GetMessages(ctx context.Context, chatID string) ([]models.ConversationMessage, error) {
	if chatID == "" {
		return nil, models.ErrEmptyChatID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, text, timestamp, match_payload FROM messages WHERE chat_id = $1 ORDER BY seq`, chatID)
	if err != nil {
		slog.Error("PostgresStore.GetMessages query failed", "error", err, "chatID", chatID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.ConversationMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			slog.Error("PostgresStore.GetMessages scan failed", "error", err, "chatID", chatID)
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore.GetMessages rows iteration failed", "error", err, "chatID", chatID)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("PostgresStore.GetMessages succeeded", "chatID", chatID, "count", len(messages))
	return messages, nil
}

// AttachMatchPayload persists the payload against the latest assistant message.
func (s *PostgresStore) AttachMatchPayload(ctx context.Context, chatID string, payload models.MatchPayload) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	serialized, err := marshalPayload(&payload)
	if err != nil {
		slog.Error("PostgresStore.AttachMatchPayload marshal failed", "error", err, "chatID", chatID)
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET match_payload = $1
		 WHERE seq = (SELECT seq FROM messages WHERE chat_id = $2 AND role = $3 ORDER BY seq DESC LIMIT 1)`,
		serialized, chatID, models.RoleAssistant)
	if err != nil {
		slog.Error("PostgresStore.AttachMatchPayload failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to attach match payload for chat %s: %w", chatID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		slog.Warn("PostgresStore.AttachMatchPayload found no assistant message", "chatID", chatID)
		return models.ErrNoAssistantMessage
	}
	slog.Debug("PostgresStore.AttachMatchPayload succeeded", "chatID", chatID, "matchedUsers", len(payload.MatchedUsers))
	return nil
}

// SaveCandidate inserts or updates a candidate profile.
func (s *PostgresStore) SaveCandidate(ctx context.Context, c models.Candidate) error {
	destinations, err := marshalDestinations(c.Destinations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO candidates (id, name, age, country_from, board_type, surf_level, budget, destinations)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, age = EXCLUDED.age, country_from = EXCLUDED.country_from,
		   board_type = EXCLUDED.board_type, surf_level = EXCLUDED.surf_level,
		   budget = EXCLUDED.budget, destinations = EXCLUDED.destinations`,
		c.ID, c.Name, c.Age, c.CountryFrom, c.BoardType, c.SurfLevel, nilIfEmpty(string(c.Budget)), destinations)
	if err != nil {
		slog.Error("PostgresStore.SaveCandidate failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save candidate %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore.SaveCandidate succeeded", "id", c.ID)
	return nil
}

// ListCandidates returns every candidate profile.
func (s *PostgresStore) ListCandidates(ctx context.Context) ([]models.Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, age, country_from, board_type, surf_level, budget, destinations FROM candidates ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore.ListCandidates query failed", "error", err)
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			slog.Error("PostgresStore.ListCandidates scan failed", "error", err)
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidate rows: %w", err)
	}
	slog.Debug("PostgresStore.ListCandidates succeeded", "count", len(candidates))
	return candidates, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
