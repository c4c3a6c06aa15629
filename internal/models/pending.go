// Package models defines session state structures for tripmatch.
package models

// PendingKind tags the variant of a pending confirmation.
type PendingKind string

const (
	// PendingNone means no confirmation is outstanding; turns route normally.
	PendingNone PendingKind = "none"
	// PendingSingleCriterion means a single-criterion match set is held
	// pending the user's choice to see results now or add criteria.
	PendingSingleCriterion PendingKind = "single_criterion"
	// PendingPartial means a partial match set is held pending the user's
	// choice to accept the closest alternative or revise the request.
	PendingPartial PendingKind = "partial"
)

// PendingConfirmation is the tagged union of confirmation-gate states.
// Exactly one variant holds at any time; constructing through the helpers
// below keeps illegal combinations unrepresentable.
type PendingConfirmation struct {
	Kind          PendingKind   `json:"kind"`
	Matches       []MatchedUser `json:"matches,omitempty"`
	CriterionType Criterion     `json:"criterion_type,omitempty"` // single-criterion variant only
	Destination   string        `json:"destination,omitempty"`    // partial variant only
}

// NoPending returns the empty confirmation state.
func NoPending() PendingConfirmation {
	return PendingConfirmation{Kind: PendingNone}
}

// AwaitSingleCriterionConfirm holds a single-criterion match set for confirmation.
func AwaitSingleCriterionConfirm(matches []MatchedUser, criterion Criterion) PendingConfirmation {
	return PendingConfirmation{Kind: PendingSingleCriterion, Matches: matches, CriterionType: criterion}
}

// AwaitPartialMatchConfirm holds a partial match set for confirmation.
func AwaitPartialMatchConfirm(matches []MatchedUser, destination string) PendingConfirmation {
	return PendingConfirmation{Kind: PendingPartial, Matches: matches, Destination: destination}
}

// IsNone reports whether no confirmation is outstanding.
func (p PendingConfirmation) IsNone() bool {
	return p.Kind == PendingNone || p.Kind == ""
}

// ConversationState is the full per-chat session state. It is created on
// the first user message or restored from the history store, mutated by
// each turn, and owned by exactly one chat id. Pending confirmations are
// ephemeral and never persisted; only committed match payloads survive a
// restore.
type ConversationState struct {
	ChatID   string                `json:"chat_id"`
	Messages []ConversationMessage `json:"messages"`
	Pending  PendingConfirmation   `json:"-"`
	Finished bool                  `json:"finished"`
	// LastRequest caches the most recent complete extraction. Cleared when
	// the user declines a held match set so criteria rebuild from scratch.
	LastRequest *TripPlanningRequest `json:"-"`
}
