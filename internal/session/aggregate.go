package session

import (
	"context"
	"fmt"

	"github.com/swellmates/tripmatch/internal/models"
)

// Aggregate folds every match payload in a message log into one combined
// payload, in message order. The fold is pure: it never touches storage and
// never deduplicates, so a user matched in two searches appears twice. The
// destination of the newest payload wins. System messages and messages
// without a payload are skipped.
func Aggregate(messages []models.ConversationMessage) models.MatchPayload {
	var combined models.MatchPayload
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		if msg.MatchPayload.IsEmpty() {
			continue
		}
		combined.MatchedUsers = append(combined.MatchedUsers, msg.MatchPayload.MatchedUsers...)
		if msg.MatchPayload.DestinationCountry != "" {
			combined.DestinationCountry = msg.MatchPayload.DestinationCountry
		}
	}
	return combined
}

// AggregateMatches loads the chat's full log and folds its payloads.
func (e *Engine) AggregateMatches(ctx context.Context, chatID string) (models.MatchPayload, error) {
	if chatID == "" {
		return models.MatchPayload{}, models.ErrEmptyChatID
	}
	messages, err := e.history.GetMessages(ctx, chatID)
	if err != nil {
		return models.MatchPayload{}, fmt.Errorf("failed to load messages for aggregation: %w", err)
	}
	return Aggregate(messages), nil
}
