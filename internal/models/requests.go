package models

// StartConversationRequest is the body for POST /conversations.
// Both fields are optional: UserContext seeds the extractor with caller
// context, InitialMessage processes a first user turn in the same call.
type StartConversationRequest struct {
	UserContext    string `json:"user_context,omitempty"`
	InitialMessage string `json:"initial_message,omitempty"`
}

// SendMessageRequest is the body for POST /conversations/{id}/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// Validate checks that the message text is present.
func (r SendMessageRequest) Validate() error {
	if r.Text == "" {
		return ErrEmptyMessage
	}
	return nil
}

// TurnResponse is the result payload for conversation-start and turn endpoints.
type TurnResponse struct {
	ChatID         string               `json:"chat_id"`
	AssistantText  string               `json:"assistant_text,omitempty"`
	MatchPayload   *MatchPayload        `json:"match_payload,omitempty"`
	StructuredData *TripPlanningRequest `json:"structured_data,omitempty"`
	IsFinished     bool                 `json:"is_finished"`
}

// HistoryResponse is the result payload for GET /conversations/{id}/history.
// Matches is the fold of every match payload in the log.
type HistoryResponse struct {
	ChatID   string                `json:"chat_id"`
	Messages []ConversationMessage `json:"messages"`
	Matches  MatchPayload          `json:"matches"`
	Finished bool                  `json:"finished"`
}
