package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/swellmates/tripmatch/internal/extractor"
	"github.com/swellmates/tripmatch/internal/gate"
	"github.com/swellmates/tripmatch/internal/match"
	"github.com/swellmates/tripmatch/internal/models"
	"github.com/swellmates/tripmatch/internal/session"
	"github.com/swellmates/tripmatch/internal/store"
)

// scriptedExtractor returns canned extraction results in call order.
type scriptedExtractor struct {
	results []*extractor.ExtractionResult
	calls   int
}

func (s *scriptedExtractor) Extract(ctx context.Context, history []models.ConversationMessage, userText string) (*extractor.ExtractionResult, error) {
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i], nil
	}
	return &extractor.ExtractionResult{Reply: "Tell me more."}, nil
}

func newTestServer(results ...*extractor.ExtractionResult) (*Server, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	st.SetCandidates([]models.Candidate{
		{ID: "amy", Name: "Amy", Age: 25, CountryFrom: "Brazil", BoardType: "shortboard", SurfLevel: "intermediate",
			Destinations: []models.Destination{{Country: "Indonesia", Area: "Bali"}}},
		{ID: "ben", Name: "Ben", Age: 31, CountryFrom: "Brazil", BoardType: "longboard", SurfLevel: "advanced",
			Destinations: []models.Destination{{Country: "Indonesia", Area: "Lombok"}}},
	})
	engine := session.NewEngine(&scriptedExtractor{results: results}, match.NewMatcher(), gate.NewKeywordGate(), st, st)
	return NewServer(engine), st
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response envelope: %v", err)
	}
	return resp
}

func resultField(t *testing.T, resp models.APIResponse, key string) interface{} {
	t.Helper()
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object result, got %T", resp.Result)
	}
	return result[key]
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("expected healthy status, got %s", rec.Body.String())
	}
}

func TestStartConversation(t *testing.T) {
	srv, _ := newTestServer(&extractor.ExtractionResult{Reply: "Where do you want to surf?"})

	body := bytes.NewBufferString(`{"user_context": "25 year old from Spain", "initial_message": "find me a buddy"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if resp.Status != string(models.APIStatusOK) {
		t.Fatalf("expected ok status, got %s", resp.Status)
	}
	if chatID, _ := resultField(t, resp, "chat_id").(string); chatID == "" {
		t.Error("expected a chat_id in the result")
	}
	if text, _ := resultField(t, resp, "assistant_text").(string); text != "Where do you want to surf?" {
		t.Errorf("unexpected assistant text %q", text)
	}
}

func TestStartConversation_EmptyBody(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for empty body, got %d", rec.Code)
	}
}

func TestStartConversation_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestSendMessage_UnknownConversation(t *testing.T) {
	srv, _ := newTestServer()
	body := bytes.NewBufferString(`{"text": "hello"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/no-such-chat/messages", body))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSendMessage_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer()
	body := bytes.NewBufferString(`{not json`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/some-chat/messages", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSendMessage_EmptyText(t *testing.T) {
	srv, _ := newTestServer()
	body := bytes.NewBufferString(`{"text": ""}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/some-chat/messages", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestConversationFlow_HoldThenAccept(t *testing.T) {
	srv, _ := newTestServer(&extractor.ExtractionResult{
		Reply:      "Searching now!",
		IsFinished: true,
		Request: &models.TripPlanningRequest{
			NonNegotiableCriteria: map[models.Criterion]models.CriterionValue{
				models.CriterionCountryFrom: {Values: []string{"Brazil"}},
			},
		},
	})

	// Start with an initial message that completes criteria gathering.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations",
		bytes.NewBufferString(`{"initial_message": "anyone from Brazil?"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	chatID, _ := resultField(t, resp, "chat_id").(string)
	if chatID == "" {
		t.Fatal("expected chat_id")
	}
	if payload := resultField(t, resp, "match_payload"); payload != nil {
		t.Error("expected no payload while confirmation pending")
	}

	// Accept the held single-criterion match set.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/"+chatID+"/messages",
		bytes.NewBufferString(`{"text": "yes, show me"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp = decodeEnvelope(t, rec)
	payload, ok := resultField(t, resp, "match_payload").(map[string]interface{})
	if !ok {
		t.Fatalf("expected match payload after accept, got %v", resp.Result)
	}
	users, _ := payload["matched_users"].([]interface{})
	if len(users) != 2 {
		t.Errorf("expected 2 matched users, got %d", len(users))
	}
	if finished, _ := resultField(t, resp, "is_finished").(bool); !finished {
		t.Error("expected conversation finished after accept")
	}
}

func TestFindMatchesEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	body := bytes.NewBufferString(`{
		"non_negotiable_criteria": {
			"country_from": {"values": ["Brazil"]},
			"destination_country": {"values": ["Indonesia"]}
		}
	}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/any-chat/matches", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if outcome, _ := resultField(t, resp, "outcome").(string); outcome != string(models.OutcomeExact) {
		t.Errorf("expected exact outcome, got %q", outcome)
	}
}

func TestFindMatchesEndpoint_InvalidRequest(t *testing.T) {
	srv, _ := newTestServer()
	body := bytes.NewBufferString(`{"budget": "lavish"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/any-chat/matches", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid budget, got %d", rec.Code)
	}
}

func TestAttachMatchPayloadEndpoint(t *testing.T) {
	srv, st := newTestServer(&extractor.ExtractionResult{Reply: "Where to?"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations",
		bytes.NewBufferString(`{"initial_message": "hi"}`)))
	resp := decodeEnvelope(t, rec)
	chatID, _ := resultField(t, resp, "chat_id").(string)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/"+chatID+"/match-payload",
		bytes.NewBufferString(`{"matched_users": [{"user": {"id": "amy"}}], "destination_country": "Indonesia"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	msgs, err := st.GetMessages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.MatchPayload.IsEmpty() {
		t.Error("expected payload attached to the latest assistant message")
	}
}

func TestAttachMatchPayloadEndpoint_NoAssistantMessage(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/ghost-chat/match-payload",
		bytes.NewBufferString(`{"matched_users": []}`)))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(&extractor.ExtractionResult{
		Reply:      "Searching now!",
		IsFinished: true,
		Request: &models.TripPlanningRequest{
			NonNegotiableCriteria: map[models.Criterion]models.CriterionValue{
				models.CriterionCountryFrom:        {Values: []string{"Brazil"}},
				models.CriterionDestinationCountry: {Values: []string{"Indonesia"}},
			},
		},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations",
		bytes.NewBufferString(`{"initial_message": "Brazilians for Indonesia"}`)))
	resp := decodeEnvelope(t, rec)
	chatID, _ := resultField(t, resp, "chat_id").(string)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/"+chatID+"/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp = decodeEnvelope(t, rec)

	messages, _ := resultField(t, resp, "messages").([]interface{})
	if len(messages) != 2 {
		t.Errorf("expected user+assistant messages in history, got %d", len(messages))
	}
	matches, ok := resultField(t, resp, "matches").(map[string]interface{})
	if !ok {
		t.Fatalf("expected aggregated matches object, got %v", resp.Result)
	}
	users, _ := matches["matched_users"].([]interface{})
	if len(users) != 2 {
		t.Errorf("expected 2 aggregated matched users, got %d", len(users))
	}
	if finished, _ := resultField(t, resp, "finished").(bool); !finished {
		t.Error("expected finished conversation in history")
	}
}

func TestHistoryEndpoint_OmitsContextSeed(t *testing.T) {
	srv, _ := newTestServer(&extractor.ExtractionResult{Reply: "Where do you want to surf?"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations",
		bytes.NewBufferString(`{"user_context": "25 year old from Spain", "initial_message": "find me a buddy"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	chatID, _ := resultField(t, resp, "chat_id").(string)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/"+chatID+"/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp = decodeEnvelope(t, rec)

	messages, _ := resultField(t, resp, "messages").([]interface{})
	if len(messages) != 2 {
		t.Errorf("expected only user+assistant messages, got %d", len(messages))
	}
	for _, raw := range messages {
		msg, _ := raw.(map[string]interface{})
		if role, _ := msg["role"].(string); role == string(models.RoleSystem) {
			t.Errorf("system message leaked into history: %v", msg)
		}
		if text, _ := msg["text"].(string); strings.Contains(text, session.SeedContextPrefix) {
			t.Errorf("seed context leaked into history: %q", text)
		}
	}
}

// failingHistory errors on every read and write.
type failingHistory struct{}

func (failingHistory) AppendMessage(ctx context.Context, chatID string, msg models.ConversationMessage) error {
	return errors.New("store down")
}
func (failingHistory) GetMessages(ctx context.Context, chatID string) ([]models.ConversationMessage, error) {
	return nil, errors.New("store down")
}
func (failingHistory) AttachMatchPayload(ctx context.Context, chatID string, payload models.MatchPayload) error {
	return errors.New("store down")
}
func (failingHistory) Close() error { return nil }

func TestSendMessage_HistoryStoreDown(t *testing.T) {
	pool := store.NewInMemoryStore()
	engine := session.NewEngine(&scriptedExtractor{
		results: []*extractor.ExtractionResult{{Reply: "Where do you want to surf?"}},
	}, match.NewMatcher(), gate.NewKeywordGate(), failingHistory{}, pool)
	srv := NewServer(engine)

	// With the store unreachable the chat continues on a fresh session
	// instead of answering 404.
	body := bytes.NewBufferString(`{"text": "find me a buddy"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/existing-chat/messages", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if text, _ := resultField(t, resp, "assistant_text").(string); text != "Where do you want to surf?" {
		t.Errorf("unexpected assistant text %q", text)
	}
}

func TestUnknownConversationSubresource(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/abc/unknown", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
