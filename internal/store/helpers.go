// Package store provides shared row-scanning helpers for the SQL backends.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/swellmates/tripmatch/internal/models"
)

// marshalPayload serializes a match payload for a nullable column.
func marshalPayload(p *models.MatchPayload) (interface{}, error) {
	if p.IsEmpty() {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal match payload: %w", err)
	}
	return string(b), nil
}

// scanMessage scans a ConversationMessage from sql.Rows.
func scanMessage(rows *sql.Rows) (models.ConversationMessage, error) {
	var m models.ConversationMessage
	var payloadJSON sql.NullString
	if err := rows.Scan(&m.ID, &m.Role, &m.Text, &m.Timestamp, &payloadJSON); err != nil {
		return m, fmt.Errorf("scan message failed: %w", err)
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		var p models.MatchPayload
		if err := json.Unmarshal([]byte(payloadJSON.String), &p); err != nil {
			return m, fmt.Errorf("failed to unmarshal match payload: %w", err)
		}
		m.MatchPayload = &p
	}
	return m, nil
}

// scanCandidate scans a Candidate from sql.Rows.
func scanCandidate(rows *sql.Rows) (models.Candidate, error) {
	var c models.Candidate
	var budget, destinationsJSON sql.NullString
	if err := rows.Scan(&c.ID, &c.Name, &c.Age, &c.CountryFrom, &c.BoardType, &c.SurfLevel, &budget, &destinationsJSON); err != nil {
		return c, fmt.Errorf("scan candidate failed: %w", err)
	}
	c.Budget = models.Budget(budget.String)
	if destinationsJSON.Valid && destinationsJSON.String != "" {
		if err := json.Unmarshal([]byte(destinationsJSON.String), &c.Destinations); err != nil {
			return c, fmt.Errorf("failed to unmarshal destinations: %w", err)
		}
	}
	return c, nil
}

// marshalDestinations serializes a candidate's destinations for a nullable column.
func marshalDestinations(dests []models.Destination) (interface{}, error) {
	if len(dests) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(dests)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal destinations: %w", err)
	}
	return string(b), nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
