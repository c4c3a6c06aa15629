// Package models defines conversation message structures for tripmatch.
package models

import "time"

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	// RoleUser marks a message written by the user.
	RoleUser MessageRole = "user"
	// RoleAssistant marks a message produced by the engine.
	RoleAssistant MessageRole = "assistant"
	// RoleSystem marks extractor seed context. System messages are never
	// surfaced to the aggregator or rendering layer.
	RoleSystem MessageRole = "system"
)

// IsValidRole checks if the given message role is supported.
func IsValidRole(r MessageRole) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// MatchPayload is the match metadata attached to an assistant message once
// a match set has been delivered. A message carrying a non-empty payload is
// immutable once appended.
type MatchPayload struct {
	MatchedUsers       []MatchedUser `json:"matched_users"`
	DestinationCountry string        `json:"destination_country,omitempty"`
}

// IsEmpty reports whether the payload carries no matched users.
func (p *MatchPayload) IsEmpty() bool {
	return p == nil || len(p.MatchedUsers) == 0
}

// ConversationMessage is a single entry in the append-only message log.
type ConversationMessage struct {
	ID           string        `json:"id"`
	Role         MessageRole   `json:"role"`
	Text         string        `json:"text"`
	Timestamp    time.Time     `json:"timestamp"`
	MatchPayload *MatchPayload `json:"match_payload,omitempty"`
}

// Validate performs validation on a ConversationMessage.
func (m *ConversationMessage) Validate() error {
	if !IsValidRole(m.Role) {
		return ErrInvalidRole
	}
	if m.Text == "" && m.MatchPayload.IsEmpty() {
		return ErrEmptyMessage
	}
	return nil
}
