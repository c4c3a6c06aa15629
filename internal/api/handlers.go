// Package api provides HTTP handlers for tripmatch endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/swellmates/tripmatch/internal/models"
	"github.com/swellmates/tripmatch/internal/session"
)

// conversationsHandler handles POST /conversations: it creates a new
// conversation, optionally seeds extractor context, and optionally processes
// an initial user message in the same call.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.conversationsHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.conversationsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// An empty body is fine; malformed JSON is not.
	var req models.StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Server.conversationsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	chatID := session.NewChatID()
	state := session.NewState(chatID)
	cs := s.addSession(state)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if req.UserContext != "" {
		s.engine.SeedContext(r.Context(), state, req.UserContext)
	}

	resp := models.TurnResponse{ChatID: chatID}
	if req.InitialMessage != "" {
		turn, err := s.engine.HandleTurn(r.Context(), state, req.InitialMessage)
		if err != nil {
			slog.Error("Server.conversationsHandler: initial turn failed", "error", err, "chatID", chatID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process initial message"))
			return
		}
		resp.AssistantText = turn.AssistantText
		resp.MatchPayload = turn.MatchPayload
		resp.StructuredData = turn.StructuredData
		resp.IsFinished = turn.IsFinished
	}

	slog.Info("Server.conversationsHandler: conversation started", "chatID", chatID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Conversation started successfully", resp))
}

// conversationRouter dispatches /conversations/{id}/... sub-resources.
func (s *Server) conversationRouter(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	path := strings.TrimPrefix(r.URL.Path, "/conversations/")
	segments := strings.Split(strings.Trim(path, "/"), "/")

	if len(segments) == 0 || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown conversation endpoint"))
		return
	}
	chatID := segments[0]

	if len(segments) != 2 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown conversation endpoint"))
		return
	}

	switch segments[1] {
	case "messages":
		s.sendMessageHandler(w, r, chatID)
	case "matches":
		s.findMatchesHandler(w, r, chatID)
	case "match-payload":
		s.attachMatchPayloadHandler(w, r, chatID)
	case "history":
		s.historyHandler(w, r, chatID)
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown conversation endpoint"))
	}
}

// sendMessageHandler handles POST /conversations/{id}/messages.
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request, chatID string) {
	slog.Debug("Server.sendMessageHandler: processing turn", "method", r.Method, "chatID", chatID)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sendMessageHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.sendMessageHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	cs, ok := s.getSession(r.Context(), chatID)
	if !ok {
		slog.Debug("Server.sendMessageHandler: conversation not found", "chatID", chatID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	turn, err := s.engine.HandleTurn(r.Context(), cs.state, req.Text)
	if err != nil {
		slog.Error("Server.sendMessageHandler: turn failed", "error", err, "chatID", chatID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	slog.Info("Server.sendMessageHandler: turn processed", "chatID", chatID, "finished", turn.IsFinished)
	writeJSONResponse(w, http.StatusOK, models.Success(models.TurnResponse{
		ChatID:         chatID,
		AssistantText:  turn.AssistantText,
		MatchPayload:   turn.MatchPayload,
		StructuredData: turn.StructuredData,
		IsFinished:     turn.IsFinished,
	}))
}

// findMatchesHandler handles POST /conversations/{id}/matches: it runs the
// matcher directly against the candidate pool with a caller-supplied
// request, bypassing the conversational flow.
func (s *Server) findMatchesHandler(w http.ResponseWriter, r *http.Request, chatID string) {
	slog.Debug("Server.findMatchesHandler: processing match query", "method", r.Method, "chatID", chatID)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.findMatchesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.TripPlanningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.findMatchesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.findMatchesHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	result, err := s.engine.FindMatches(r.Context(), &req)
	if err != nil {
		slog.Error("Server.findMatchesHandler: match query failed", "error", err, "chatID", chatID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to run match query"))
		return
	}

	slog.Info("Server.findMatchesHandler: match query succeeded", "chatID", chatID, "outcome", result.Outcome, "matches", len(result.Matches))
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// attachMatchPayloadHandler handles POST /conversations/{id}/match-payload:
// it persists a match payload against the latest assistant message.
func (s *Server) attachMatchPayloadHandler(w http.ResponseWriter, r *http.Request, chatID string) {
	slog.Debug("Server.attachMatchPayloadHandler invoked", "method", r.Method, "chatID", chatID)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.attachMatchPayloadHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload models.MatchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.attachMatchPayloadHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := s.engine.AttachMatchResult(r.Context(), chatID, payload); err != nil {
		if errors.Is(err, models.ErrNoAssistantMessage) || errors.Is(err, models.ErrChatNotFound) {
			slog.Debug("Server.attachMatchPayloadHandler: no attach target", "chatID", chatID, "error", err)
			writeJSONResponse(w, http.StatusNotFound, models.Error("No assistant message to attach to"))
			return
		}
		slog.Error("Server.attachMatchPayloadHandler: attach failed", "error", err, "chatID", chatID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to attach match payload"))
		return
	}

	slog.Info("Server.attachMatchPayloadHandler: payload attached", "chatID", chatID, "matchedUsers", len(payload.MatchedUsers))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Match payload attached successfully", nil))
}

// historyHandler handles GET /conversations/{id}/history: it returns the
// persisted message log plus the aggregated match payload.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request, chatID string) {
	slog.Debug("Server.historyHandler invoked", "method", r.Method, "chatID", chatID)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.historyHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	cs, ok := s.getSession(r.Context(), chatID)
	if !ok {
		slog.Debug("Server.historyHandler: conversation not found", "chatID", chatID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	cs.mu.Lock()
	// System seed messages are extractor-only input and never surface to
	// the rendering layer, mirroring the restore filter.
	messages := make([]models.ConversationMessage, 0, len(cs.state.Messages))
	for _, msg := range cs.state.Messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		messages = append(messages, msg)
	}
	finished := cs.state.Finished
	cs.mu.Unlock()

	slog.Debug("Server.historyHandler succeeded", "chatID", chatID, "count", len(messages))
	writeJSONResponse(w, http.StatusOK, models.Success(models.HistoryResponse{
		ChatID:   chatID,
		Messages: messages,
		Matches:  session.Aggregate(messages),
		Finished: finished,
	}))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	active := len(s.sessions)
	s.mu.RUnlock()

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":               "healthy",
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"active_conversations": active,
	})
}
