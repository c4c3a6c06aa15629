// Package session implements the per-chat trip-planning conversation engine.
//
// A session owns the ordered message history for one chat id, forwards user
// text to the criteria extractor, invokes the matcher once criteria are
// complete, and routes held match sets through the confirmation gate.
// Sessions are single-threaded: callers serialize turns per chat id.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/swellmates/tripmatch/internal/extractor"
	"github.com/swellmates/tripmatch/internal/gate"
	"github.com/swellmates/tripmatch/internal/match"
	"github.com/swellmates/tripmatch/internal/models"
	"github.com/swellmates/tripmatch/internal/store"
)

// SeedContextPrefix marks system messages that seed extractor context.
// Seed messages are filtered out on restore and never reach the aggregator.
const SeedContextPrefix = "SYSTEM_CONTEXT:"

// CriteriaExtractor is the extraction collaborator contract the session
// depends on. It fails closed: any error leaves session state untouched.
type CriteriaExtractor interface {
	Extract(ctx context.Context, history []models.ConversationMessage, userText string) (*extractor.ExtractionResult, error)
}

// TurnResult is what one user turn produces for the caller.
type TurnResult struct {
	AssistantText  string
	MatchPayload   *models.MatchPayload
	StructuredData *models.TripPlanningRequest
	IsFinished     bool
}

// Engine drives conversation sessions. It holds no per-chat state itself;
// all mutable state lives on the ConversationState the caller passes in.
type Engine struct {
	extractor CriteriaExtractor
	matcher   *match.Matcher
	gate      *gate.Gate
	history   store.HistoryStore
	pool      store.CandidatePool
}

// NewEngine creates a session engine with its collaborators.
func NewEngine(ex CriteriaExtractor, matcher *match.Matcher, g *gate.Gate, history store.HistoryStore, pool store.CandidatePool) *Engine {
	slog.Debug("session.NewEngine: creating engine", "hasExtractor", ex != nil, "hasHistory", history != nil)
	return &Engine{extractor: ex, matcher: matcher, gate: g, history: history, pool: pool}
}

// NewState creates a fresh conversation state for a chat id.
func NewState(chatID string) *models.ConversationState {
	return &models.ConversationState{
		ChatID:  chatID,
		Pending: models.NoPending(),
	}
}

// NewChatID generates a new chat identifier.
func NewChatID() string {
	return uuid.NewString()
}

// SeedContext appends a system seed message so the extractor sees caller
// context (e.g. the user's own profile) without surfacing it to the user.
func (e *Engine) SeedContext(ctx context.Context, state *models.ConversationState, text string) {
	msg := newMessage(models.RoleSystem, SeedContextPrefix+" "+text)
	e.appendAndPersist(ctx, state, msg)
}

// HandleTurn processes one user turn against the session state. The state
// is mutated in place; on error the state is exactly as it was before the
// turn began.
func (e *Engine) HandleTurn(ctx context.Context, state *models.ConversationState, userText string) (*TurnResult, error) {
	if state == nil || state.ChatID == "" {
		return nil, models.ErrEmptyChatID
	}
	if userText == "" {
		return nil, models.ErrEmptyMessage
	}
	slog.Debug("Engine.HandleTurn: processing turn", "chatID", state.ChatID, "pending", state.Pending.Kind, "finished", state.Finished)

	// A pending confirmation intercepts the turn before any extraction.
	if !state.Pending.IsNone() {
		return e.resolvePendingTurn(ctx, state, userText), nil
	}

	// The extractor call completes before any state mutation so an
	// abandoned turn leaves no half-applied state behind.
	result, err := e.extractor.Extract(ctx, state.Messages, userText)
	if err != nil {
		if ctx.Err() != nil {
			slog.Warn("Engine.HandleTurn: turn abandoned, state preserved", "chatID", state.ChatID, "error", err)
			return nil, err
		}
		slog.Error("Engine.HandleTurn: extraction failed, failing closed", "chatID", state.ChatID, "error", err)
		e.appendAndPersist(ctx, state, newMessage(models.RoleUser, userText))
		e.appendAndPersist(ctx, state, newMessage(models.RoleAssistant, apologyText))
		return &TurnResult{AssistantText: apologyText, IsFinished: state.Finished}, nil
	}

	if !result.IsFinished {
		e.appendAndPersist(ctx, state, newMessage(models.RoleUser, userText))
		e.appendAndPersist(ctx, state, newMessage(models.RoleAssistant, result.Reply))
		slog.Debug("Engine.HandleTurn: criteria gathering continues", "chatID", state.ChatID)
		return &TurnResult{AssistantText: result.Reply, StructuredData: result.Request, IsFinished: state.Finished}, nil
	}

	// Criteria complete: rebuild the request fresh and run matching.
	request := *result.Request
	request.DeriveQueryFilters()

	candidates, err := e.pool.ListCandidates(ctx)
	if err != nil {
		if ctx.Err() != nil {
			slog.Warn("Engine.HandleTurn: turn abandoned during pool read, state preserved", "chatID", state.ChatID, "error", err)
			return nil, err
		}
		slog.Error("Engine.HandleTurn: candidate pool read failed", "chatID", state.ChatID, "error", err)
		e.appendAndPersist(ctx, state, newMessage(models.RoleUser, userText))
		e.appendAndPersist(ctx, state, newMessage(models.RoleAssistant, matchingFailedText))
		return &TurnResult{AssistantText: matchingFailedText, IsFinished: state.Finished}, nil
	}

	matchResult := e.matcher.Match(&request, candidates)
	state.LastRequest = &request
	e.appendAndPersist(ctx, state, newMessage(models.RoleUser, userText))

	turn := e.routeMatchResult(ctx, state, &request, matchResult)
	turn.StructuredData = &request
	return turn, nil
}

// routeMatchResult applies the quality-tier policy to a fresh match result.
func (e *Engine) routeMatchResult(ctx context.Context, state *models.ConversationState, request *models.TripPlanningRequest, result models.MatchResult) *TurnResult {
	switch result.Outcome {
	case models.OutcomeExact:
		slog.Info("Engine.routeMatchResult: revealing exact matches", "chatID", state.ChatID, "count", len(result.Matches))
		payload := &models.MatchPayload{MatchedUsers: result.Matches, DestinationCountry: request.DestinationCountry}
		text := matchesDeliveredText(len(result.Matches))
		msg := newMessage(models.RoleAssistant, text)
		msg.MatchPayload = payload
		e.appendAndPersist(ctx, state, msg)
		state.Finished = true
		return &TurnResult{AssistantText: text, MatchPayload: payload, IsFinished: true}

	case models.OutcomeSingleCriterionExact:
		criterion := request.RequestedCriteria()[0]
		slog.Info("Engine.routeMatchResult: holding single-criterion matches", "chatID", state.ChatID, "criterion", criterion, "count", len(result.Matches))
		state.Pending = models.AwaitSingleCriterionConfirm(result.Matches, criterion)
		text := singleCriterionConfirmText(len(result.Matches), criterion)
		e.appendAndPersist(ctx, state, newMessage(models.RoleAssistant, text))
		return &TurnResult{AssistantText: text, IsFinished: state.Finished}

	case models.OutcomePartial:
		slog.Info("Engine.routeMatchResult: holding partial matches", "chatID", state.ChatID, "count", len(result.Matches))
		state.Pending = models.AwaitPartialMatchConfirm(result.Matches, request.DestinationCountry)
		text := partialConfirmText(result.Matches)
		e.appendAndPersist(ctx, state, newMessage(models.RoleAssistant, text))
		return &TurnResult{AssistantText: text, IsFinished: state.Finished}

	default: // OutcomeEmpty
		slog.Info("Engine.routeMatchResult: no candidates matched", "chatID", state.ChatID, "rejected", result.RejectedCandidates)
		e.appendAndPersist(ctx, state, newMessage(models.RoleAssistant, result.Explanation))
		return &TurnResult{AssistantText: result.Explanation, IsFinished: state.Finished}
	}
}

// resolvePendingTurn delegates a turn to the confirmation gate. The pending
// state is cleared exactly once: on accept (promoted to a match message) or
// on decline (request rebuilt from scratch next turn). An unclear reply
// re-prompts without clearing.
func (e *Engine) resolvePendingTurn(ctx context.Context, state *models.ConversationState, userText string) *TurnResult {
	outcome := e.gate.Resolve(state.Pending, userText)
	e.appendAndPersist(ctx, state, newMessage(models.RoleUser, userText))

	switch outcome.Kind {
	case gate.OutcomeAccepted:
		destination := state.Pending.Destination
		if destination == "" && state.LastRequest != nil {
			destination = state.LastRequest.DestinationCountry
		}
		slog.Info("Engine.resolvePendingTurn: matches accepted", "chatID", state.ChatID, "count", len(outcome.Matches))
		payload := &models.MatchPayload{MatchedUsers: outcome.Matches, DestinationCountry: destination}
		text := matchesDeliveredText(len(outcome.Matches))
		msg := newMessage(models.RoleAssistant, text)
		msg.MatchPayload = payload
		e.appendAndPersist(ctx, state, msg)
		state.Pending = models.NoPending()
		state.Finished = true
		e.appendAndPersist(ctx, state, newMessage(models.RoleAssistant, filterChoiceText))
		return &TurnResult{
			AssistantText: text + "\n\n" + filterChoiceText,
			MatchPayload:  payload,
			IsFinished:    true,
		}

	case gate.OutcomeDeclined:
		slog.Info("Engine.resolvePendingTurn: matches declined, resetting request", "chatID", state.ChatID)
		state.Pending = models.NoPending()
		state.LastRequest = nil
		e.appendAndPersist(ctx, state, newMessage(models.RoleAssistant, declinedText))
		return &TurnResult{AssistantText: declinedText, IsFinished: state.Finished}

	default: // still pending, re-prompt and keep state
		slog.Debug("Engine.resolvePendingTurn: reply unclear, re-prompting", "chatID", state.ChatID)
		e.appendAndPersist(ctx, state, newMessage(models.RoleAssistant, rePromptText))
		return &TurnResult{AssistantText: rePromptText, IsFinished: state.Finished}
	}
}

// appendAndPersist appends the message to the in-memory state and writes it
// through to the history store. Persistence is best-effort: the in-memory
// state is the source of truth for the current turn, so a failed write is
// logged and the turn proceeds.
func (e *Engine) appendAndPersist(ctx context.Context, state *models.ConversationState, msg models.ConversationMessage) {
	state.Messages = append(state.Messages, msg)
	if e.history == nil {
		return
	}
	if err := e.history.AppendMessage(ctx, state.ChatID, msg); err != nil {
		slog.Error("Engine.appendAndPersist: history write failed", "chatID", state.ChatID, "messageID", msg.ID, "error", err)
	}
}

// newMessage constructs a message with a fresh id and timestamp.
func newMessage(role models.MessageRole, text string) models.ConversationMessage {
	return models.ConversationMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// AttachMatchResult persists a match payload against the latest assistant
// message of the chat, for callers that deliver matches out of band.
func (e *Engine) AttachMatchResult(ctx context.Context, chatID string, payload models.MatchPayload) error {
	if e.history == nil {
		return errors.New("session: history store not configured")
	}
	if err := e.history.AttachMatchPayload(ctx, chatID, payload); err != nil {
		return fmt.Errorf("failed to attach match result: %w", err)
	}
	return nil
}

// FindMatches runs the matcher directly against the current candidate pool.
func (e *Engine) FindMatches(ctx context.Context, request *models.TripPlanningRequest) (models.MatchResult, error) {
	candidates, err := e.pool.ListCandidates(ctx)
	if err != nil {
		return models.MatchResult{}, fmt.Errorf("failed to list candidates: %w", err)
	}
	req := *request
	req.DeriveQueryFilters()
	return e.matcher.Match(&req, candidates), nil
}
