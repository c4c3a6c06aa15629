// Package gate implements the confirmation gate that withholds computed
// match sets until the user explicitly affirms or declines the reveal.
package gate

import (
	"log/slog"
	"strings"

	"github.com/swellmates/tripmatch/internal/models"
)

// Intent is the classified meaning of a free-text reply to a held match set.
type Intent string

const (
	// IntentAffirm means the user wants the held matches revealed.
	IntentAffirm Intent = "affirm"
	// IntentDecline means the user wants to revise or expand the request.
	IntentDecline Intent = "decline"
	// IntentUnclear means the reply matched neither token set.
	IntentUnclear Intent = "unclear"
)

// IntentClassifier classifies a user reply while a confirmation is pending.
// It is pluggable so the keyword strategy can later be swapped for a proper
// classifier without touching the gate or the session.
type IntentClassifier interface {
	Classify(text string) Intent
}

// Default token sets for the keyword classifier.
var (
	defaultAffirmTokens  = []string{"yes", "show", "send", "sure", "ok", "okay", "yeah", "now"}
	defaultDeclineTokens = []string{"no", "add", "more", "change", "different"}
)

// KeywordClassifier classifies intent by scanning lower-cased word tokens
// against fixed affirm/decline sets. Matching is on whole words so that
// "now" does not trigger the "no" decline token. When both sets hit
// (e.g. "no, show different people"), decline wins: revising the request
// must never accidentally reveal held matches.
type KeywordClassifier struct {
	affirm  map[string]bool
	decline map[string]bool
}

// NewKeywordClassifier creates a KeywordClassifier with the default token sets.
func NewKeywordClassifier() *KeywordClassifier {
	c := &KeywordClassifier{
		affirm:  make(map[string]bool, len(defaultAffirmTokens)),
		decline: make(map[string]bool, len(defaultDeclineTokens)),
	}
	for _, t := range defaultAffirmTokens {
		c.affirm[t] = true
	}
	for _, t := range defaultDeclineTokens {
		c.decline[t] = true
	}
	return c
}

// Classify implements IntentClassifier.
func (c *KeywordClassifier) Classify(text string) Intent {
	affirmed := false
	for _, token := range tokenize(text) {
		if c.decline[token] {
			return IntentDecline
		}
		if c.affirm[token] {
			affirmed = true
		}
	}
	if affirmed {
		return IntentAffirm
	}
	return IntentUnclear
}

// tokenize lower-cases the text and splits it into word tokens.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

// OutcomeKind tags the result of resolving a pending confirmation.
type OutcomeKind string

const (
	// OutcomeAccepted means the held matches should be promoted and delivered.
	OutcomeAccepted OutcomeKind = "accepted"
	// OutcomeDeclined means the held matches are discarded and the request resets.
	OutcomeDeclined OutcomeKind = "declined"
	// OutcomeStillPending means the reply was unclear; re-prompt, keep state.
	OutcomeStillPending OutcomeKind = "still_pending"
)

// GateOutcome is the result of resolving a user turn against a pending
// confirmation. Matches is populated only when Kind is OutcomeAccepted.
type GateOutcome struct {
	Kind    OutcomeKind
	Matches []models.MatchedUser
}

// Gate resolves user turns while a confirmation is pending. This is a
// strict two-outcome gate per pending type: the user accepts the whole
// held set or none of it.
type Gate struct {
	classifier IntentClassifier
}

// NewGate creates a Gate with the given intent classifier.
func NewGate(classifier IntentClassifier) *Gate {
	return &Gate{classifier: classifier}
}

// NewKeywordGate creates a Gate with the default keyword classifier.
func NewKeywordGate() *Gate {
	return NewGate(NewKeywordClassifier())
}

// Resolve classifies the user text against the pending confirmation.
// An unclear reply leaves the pending state untouched.
func (g *Gate) Resolve(pending models.PendingConfirmation, userText string) GateOutcome {
	if pending.IsNone() {
		slog.Debug("Gate.Resolve: no pending confirmation, nothing to resolve")
		return GateOutcome{Kind: OutcomeStillPending}
	}

	intent := g.classifier.Classify(userText)
	slog.Debug("Gate.Resolve: classified reply", "pendingKind", pending.Kind, "intent", intent, "heldMatches", len(pending.Matches))

	switch intent {
	case IntentAffirm:
		return GateOutcome{Kind: OutcomeAccepted, Matches: pending.Matches}
	case IntentDecline:
		return GateOutcome{Kind: OutcomeDeclined}
	default:
		return GateOutcome{Kind: OutcomeStillPending}
	}
}
