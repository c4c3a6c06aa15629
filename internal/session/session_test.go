package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/swellmates/tripmatch/internal/extractor"
	"github.com/swellmates/tripmatch/internal/gate"
	"github.com/swellmates/tripmatch/internal/match"
	"github.com/swellmates/tripmatch/internal/models"
	"github.com/swellmates/tripmatch/internal/store"
)

// mockExtractor implements CriteriaExtractor with a scripted result per call.
type mockExtractor struct {
	results []*extractor.ExtractionResult
	errs    []error
	calls   int
}

func (m *mockExtractor) Extract(ctx context.Context, history []models.ConversationMessage, userText string) (*extractor.ExtractionResult, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.results) {
		return m.results[i], nil
	}
	return &extractor.ExtractionResult{Reply: "Tell me more about your trip."}, nil
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) AppendMessage(ctx context.Context, chatID string, msg models.ConversationMessage) error {
	return errors.New("store down")
}
func (failingStore) GetMessages(ctx context.Context, chatID string) ([]models.ConversationMessage, error) {
	return nil, errors.New("store down")
}
func (failingStore) AttachMatchPayload(ctx context.Context, chatID string, payload models.MatchPayload) error {
	return errors.New("store down")
}
func (failingStore) Close() error { return nil }

func testPool() []models.Candidate {
	return []models.Candidate{
		{
			ID: "amy", Name: "Amy", Age: 25, CountryFrom: "Brazil",
			BoardType: "shortboard", SurfLevel: "intermediate",
			Destinations: []models.Destination{{Country: "Indonesia", Area: "Bali"}},
		},
		{
			ID: "ben", Name: "Ben", Age: 31, CountryFrom: "Brazil",
			BoardType: "longboard", SurfLevel: "advanced",
			Destinations: []models.Destination{{Country: "Indonesia", Area: "Lombok"}},
		},
		{
			ID: "cal", Name: "Cal", Age: 42, CountryFrom: "Portugal",
			BoardType: "funboard", SurfLevel: "beginner",
			Destinations: []models.Destination{{Country: "Morocco"}},
		},
	}
}

func newTestEngine(ex CriteriaExtractor, st *store.InMemoryStore) *Engine {
	st.SetCandidates(testPool())
	return NewEngine(ex, match.NewMatcher(), gate.NewKeywordGate(), st, st)
}

func finishedResult(criteria map[models.Criterion]models.CriterionValue) *extractor.ExtractionResult {
	return &extractor.ExtractionResult{
		Reply:      "Searching now!",
		IsFinished: true,
		Request:    &models.TripPlanningRequest{NonNegotiableCriteria: criteria},
	}
}

func TestHandleTurn_GatheringAppendsReply(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(&mockExtractor{
		results: []*extractor.ExtractionResult{{Reply: "Where do you want to surf?"}},
	}, st)
	state := NewState("chat-1")

	turn, err := engine.HandleTurn(context.Background(), state, "I want a surf buddy")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if turn.AssistantText != "Where do you want to surf?" {
		t.Errorf("unexpected assistant text %q", turn.AssistantText)
	}
	if turn.IsFinished {
		t.Error("expected session not finished during gathering")
	}
	if len(state.Messages) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(state.Messages))
	}
	if state.Messages[0].Role != models.RoleUser || state.Messages[1].Role != models.RoleAssistant {
		t.Errorf("unexpected roles %s, %s", state.Messages[0].Role, state.Messages[1].Role)
	}

	persisted, err := st.GetMessages(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(persisted) != 2 {
		t.Errorf("expected 2 persisted messages, got %d", len(persisted))
	}
}

func TestHandleTurn_ExactMatchRevealsImmediately(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(&mockExtractor{
		results: []*extractor.ExtractionResult{finishedResult(map[models.Criterion]models.CriterionValue{
			models.CriterionCountryFrom:        {Values: []string{"Brazil"}},
			models.CriterionDestinationCountry: {Values: []string{"Indonesia"}},
		})},
	}, st)
	state := NewState("chat-2")

	turn, err := engine.HandleTurn(context.Background(), state, "Brazilians going to Indonesia")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !turn.IsFinished || !state.Finished {
		t.Error("expected session finished after exact reveal")
	}
	if turn.MatchPayload == nil || len(turn.MatchPayload.MatchedUsers) != 2 {
		t.Fatalf("expected payload with amy and ben, got %+v", turn.MatchPayload)
	}
	if !state.Pending.IsNone() {
		t.Error("expected no pending confirmation on exact reveal")
	}

	last := state.Messages[len(state.Messages)-1]
	if last.Role != models.RoleAssistant || last.MatchPayload.IsEmpty() {
		t.Error("expected the final assistant message to carry the match payload")
	}
}

func TestHandleTurn_SingleCriterionHoldThenAccept(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(&mockExtractor{
		results: []*extractor.ExtractionResult{finishedResult(map[models.Criterion]models.CriterionValue{
			models.CriterionCountryFrom: {Values: []string{"Brazil"}},
		})},
	}, st)
	state := NewState("chat-3")

	turn, err := engine.HandleTurn(context.Background(), state, "anyone from Brazil?")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if turn.MatchPayload != nil {
		t.Error("expected no payload while confirmation is pending")
	}
	if state.Pending.Kind != models.PendingSingleCriterion {
		t.Fatalf("expected single-criterion pending, got %s", state.Pending.Kind)
	}
	if !strings.Contains(turn.AssistantText, "home country") {
		t.Errorf("expected confirmation prompt naming the criterion, got %q", turn.AssistantText)
	}

	turn, err = engine.HandleTurn(context.Background(), state, "yes, show me")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if turn.MatchPayload == nil || len(turn.MatchPayload.MatchedUsers) != 2 {
		t.Fatalf("expected held matches delivered, got %+v", turn.MatchPayload)
	}
	if !state.Finished || !state.Pending.IsNone() {
		t.Error("expected finished state with pending cleared after accept")
	}

	// user, confirm prompt, user, matches, filter follow-up
	if len(state.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(state.Messages))
	}
	if state.Messages[3].MatchPayload.IsEmpty() {
		t.Error("expected the match message to carry the payload")
	}
	if state.Messages[4].Text != filterChoiceText {
		t.Errorf("expected filter follow-up message, got %q", state.Messages[4].Text)
	}
}

func TestHandleTurn_DeclineClearsPendingAndRequest(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(&mockExtractor{
		results: []*extractor.ExtractionResult{finishedResult(map[models.Criterion]models.CriterionValue{
			models.CriterionCountryFrom: {Values: []string{"Brazil"}},
		})},
	}, st)
	state := NewState("chat-4")

	if _, err := engine.HandleTurn(context.Background(), state, "anyone from Brazil?"); err != nil {
		t.Fatalf("setup turn failed: %v", err)
	}
	turn, err := engine.HandleTurn(context.Background(), state, "no, add more filters")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if turn.MatchPayload != nil {
		t.Error("expected no payload on decline")
	}
	if !state.Pending.IsNone() {
		t.Error("expected pending cleared on decline")
	}
	if state.LastRequest != nil {
		t.Error("expected last request cleared so criteria rebuild from scratch")
	}
	if state.Finished {
		t.Error("expected session still unfinished after decline")
	}
}

func TestHandleTurn_UnclearReplyKeepsPending(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(&mockExtractor{
		results: []*extractor.ExtractionResult{finishedResult(map[models.Criterion]models.CriterionValue{
			models.CriterionCountryFrom: {Values: []string{"Brazil"}},
		})},
	}, st)
	state := NewState("chat-5")

	if _, err := engine.HandleTurn(context.Background(), state, "anyone from Brazil?"); err != nil {
		t.Fatalf("setup turn failed: %v", err)
	}
	pendingBefore := state.Pending

	turn, err := engine.HandleTurn(context.Background(), state, "hmm let me think")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if turn.AssistantText != rePromptText {
		t.Errorf("expected re-prompt, got %q", turn.AssistantText)
	}
	if state.Pending.Kind != pendingBefore.Kind || len(state.Pending.Matches) != len(pendingBefore.Matches) {
		t.Error("expected pending confirmation unchanged after unclear reply")
	}
}

func TestHandleTurn_PartialHoldMentionsDifference(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(&mockExtractor{
		results: []*extractor.ExtractionResult{finishedResult(map[models.Criterion]models.CriterionValue{
			models.CriterionBoardType:          {Values: []string{"gun"}},
			models.CriterionDestinationCountry: {Values: []string{"Indonesia"}},
		})},
	}, st)
	state := NewState("chat-6")

	turn, err := engine.HandleTurn(context.Background(), state, "gun riders for Indonesia")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if state.Pending.Kind != models.PendingPartial {
		t.Fatalf("expected partial pending, got %s", state.Pending.Kind)
	}
	if !strings.Contains(turn.AssistantText, "gun") {
		t.Errorf("expected requested board type in prompt, got %q", turn.AssistantText)
	}
}

func TestHandleTurn_ExtractionFailureFailsClosed(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(&mockExtractor{
		errs: []error{errors.New("model unavailable")},
	}, st)
	state := NewState("chat-7")

	turn, err := engine.HandleTurn(context.Background(), state, "hello")
	if err != nil {
		t.Fatalf("expected recovered error, got %v", err)
	}
	if turn.AssistantText != apologyText {
		t.Errorf("expected apology text, got %q", turn.AssistantText)
	}
	if state.Finished || !state.Pending.IsNone() {
		t.Error("expected state flags untouched by extraction failure")
	}
	if len(state.Messages) != 2 {
		t.Errorf("expected user+apology messages, got %d", len(state.Messages))
	}
}

func TestHandleTurn_EmptyMessageRejected(t *testing.T) {
	engine := newTestEngine(&mockExtractor{}, store.NewInMemoryStore())
	state := NewState("chat-8")

	if _, err := engine.HandleTurn(context.Background(), state, ""); !errors.Is(err, models.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(state.Messages) != 0 {
		t.Error("expected no messages appended on rejected turn")
	}
}

func TestHandleTurn_PersistenceFailureIsNonFatal(t *testing.T) {
	pool := store.NewInMemoryStore()
	pool.SetCandidates(testPool())
	engine := NewEngine(&mockExtractor{
		results: []*extractor.ExtractionResult{{Reply: "Where to?"}},
	}, match.NewMatcher(), gate.NewKeywordGate(), failingStore{}, pool)
	state := NewState("chat-9")

	turn, err := engine.HandleTurn(context.Background(), state, "hi")
	if err != nil {
		t.Fatalf("expected turn to survive store failure, got %v", err)
	}
	if turn.AssistantText != "Where to?" {
		t.Errorf("unexpected assistant text %q", turn.AssistantText)
	}
	if len(state.Messages) != 2 {
		t.Errorf("expected in-memory state intact, got %d messages", len(state.Messages))
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(&mockExtractor{
		results: []*extractor.ExtractionResult{finishedResult(map[models.Criterion]models.CriterionValue{
			models.CriterionCountryFrom:        {Values: []string{"Brazil"}},
			models.CriterionDestinationCountry: {Values: []string{"Indonesia"}},
		})},
	}, st)

	state := NewState("chat-10")
	engine.SeedContext(context.Background(), state, "The user is a 25 year old from Spain.")
	if _, err := engine.HandleTurn(context.Background(), state, "Brazilians going to Indonesia"); err != nil {
		t.Fatalf("setup turn failed: %v", err)
	}

	restored, err := engine.Restore(context.Background(), "chat-10")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !restored.Finished {
		t.Error("expected restored state finished via committed payload")
	}
	if !restored.Pending.IsNone() {
		t.Error("expected pending discarded on restore")
	}
	for _, m := range restored.Messages {
		if m.Role == models.RoleSystem {
			t.Errorf("expected system seed filtered out, found %q", m.Text)
		}
	}
	// seed is filtered, so one fewer message than the live state
	if len(restored.Messages) != len(state.Messages)-1 {
		t.Errorf("expected %d restored messages, got %d", len(state.Messages)-1, len(restored.Messages))
	}
}

func TestRestore_StoreFailureFallsBackToFresh(t *testing.T) {
	pool := store.NewInMemoryStore()
	engine := NewEngine(&mockExtractor{}, match.NewMatcher(), gate.NewKeywordGate(), failingStore{}, pool)

	state, err := engine.Restore(context.Background(), "chat-11")
	if err == nil {
		t.Fatal("expected the store error to surface")
	}
	if state == nil {
		t.Fatal("expected a fresh state alongside the error")
	}
	if len(state.Messages) != 0 || state.Finished {
		t.Error("expected a fresh empty state")
	}
}

func TestAggregate_FoldsPayloadsInOrder(t *testing.T) {
	amy := models.MatchedUser{User: models.Candidate{ID: "amy"}}
	ben := models.MatchedUser{User: models.Candidate{ID: "ben"}}

	messages := []models.ConversationMessage{
		{ID: "1", Role: models.RoleSystem, Text: "SYSTEM_CONTEXT: seed"},
		{ID: "2", Role: models.RoleUser, Text: "find buddies"},
		{ID: "3", Role: models.RoleAssistant, Text: "matches!", MatchPayload: &models.MatchPayload{
			MatchedUsers: []models.MatchedUser{amy}, DestinationCountry: "Indonesia",
		}},
		{ID: "4", Role: models.RoleAssistant, Text: "no payload here"},
		{ID: "5", Role: models.RoleAssistant, Text: "more matches", MatchPayload: &models.MatchPayload{
			MatchedUsers: []models.MatchedUser{ben, amy}, DestinationCountry: "Portugal",
		}},
	}

	combined := Aggregate(messages)
	if len(combined.MatchedUsers) != 3 {
		t.Fatalf("expected 3 aggregated users (duplicates preserved), got %d", len(combined.MatchedUsers))
	}
	if combined.MatchedUsers[0].User.ID != "amy" || combined.MatchedUsers[1].User.ID != "ben" || combined.MatchedUsers[2].User.ID != "amy" {
		t.Errorf("expected message-order fold, got %+v", combined.MatchedUsers)
	}
	if combined.DestinationCountry != "Portugal" {
		t.Errorf("expected newest destination to win, got %q", combined.DestinationCountry)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	messages := []models.ConversationMessage{
		{ID: "1", Role: models.RoleAssistant, Text: "m", MatchPayload: &models.MatchPayload{
			MatchedUsers: []models.MatchedUser{{User: models.Candidate{ID: "amy"}}},
		}},
	}
	first := Aggregate(messages)
	second := Aggregate(messages)
	if len(first.MatchedUsers) != len(second.MatchedUsers) {
		t.Error("expected aggregation to be a pure fold")
	}
}
