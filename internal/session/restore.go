package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/swellmates/tripmatch/internal/models"
)

// Restore rebuilds conversation state for a chat id from the persisted
// message log. Seed-context system messages are dropped, finished is derived
// from the presence of any match-bearing message, and any pending
// confirmation that was live before the restart is discarded: the user's
// next turn simply runs a fresh search. A store read failure returns a
// fresh empty state together with the error, so callers can keep the chat
// going on the fresh state instead of blocking it.
func (e *Engine) Restore(ctx context.Context, chatID string) (*models.ConversationState, error) {
	if chatID == "" {
		return nil, models.ErrEmptyChatID
	}
	state := NewState(chatID)
	if e.history == nil {
		return state, nil
	}

	messages, err := e.history.GetMessages(ctx, chatID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		slog.Warn("Engine.Restore: history read failed, starting fresh", "chatID", chatID, "error", err)
		return state, fmt.Errorf("failed to read history for restore: %w", err)
	}

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		state.Messages = append(state.Messages, msg)
		if !msg.MatchPayload.IsEmpty() {
			state.Finished = true
		}
	}
	slog.Debug("Engine.Restore: state rebuilt", "chatID", chatID, "messages", len(state.Messages), "finished", state.Finished)
	return state, nil
}
