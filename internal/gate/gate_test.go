package gate

import (
	"testing"

	"github.com/swellmates/tripmatch/internal/models"
)

func heldMatches() []models.MatchedUser {
	return []models.MatchedUser{
		{User: models.Candidate{ID: "amy", Name: "Amy"}},
		{User: models.Candidate{ID: "ben", Name: "Ben"}},
	}
}

func TestClassify_AffirmTokens(t *testing.T) {
	c := NewKeywordClassifier()
	for _, text := range []string{"yes please", "Show me!", "ok sounds good", "send them over", "NOW"} {
		if got := c.Classify(text); got != IntentAffirm {
			t.Errorf("Classify(%q) = %s, want affirm", text, got)
		}
	}
}

func TestClassify_DeclineTokens(t *testing.T) {
	c := NewKeywordClassifier()
	for _, text := range []string{"no thanks", "add more criteria", "something different", "change it"} {
		if got := c.Classify(text); got != IntentDecline {
			t.Errorf("Classify(%q) = %s, want decline", text, got)
		}
	}
}

func TestClassify_DeclineWinsOverAffirm(t *testing.T) {
	c := NewKeywordClassifier()
	// "no" plus an affirm token must never reveal held matches.
	for _, text := range []string{"no, show me later", "yes but add more", "ok change it"} {
		if got := c.Classify(text); got != IntentDecline {
			t.Errorf("Classify(%q) = %s, want decline precedence", text, got)
		}
	}
}

func TestClassify_WholeWordMatching(t *testing.T) {
	c := NewKeywordClassifier()
	// "now" contains "no" as a substring but is a whole-word affirm token.
	if got := c.Classify("now"); got != IntentAffirm {
		t.Errorf("Classify(\"now\") = %s, want affirm", got)
	}
	// "nope" is not in either token set and must not match "no".
	if got := c.Classify("nope"); got != IntentUnclear {
		t.Errorf("Classify(\"nope\") = %s, want unclear", got)
	}
}

func TestClassify_Unclear(t *testing.T) {
	c := NewKeywordClassifier()
	for _, text := range []string{"maybe", "hmm let me think", ""} {
		if got := c.Classify(text); got != IntentUnclear {
			t.Errorf("Classify(%q) = %s, want unclear", text, got)
		}
	}
}

func TestResolve_AcceptReturnsHeldMatches(t *testing.T) {
	g := NewKeywordGate()
	pending := models.AwaitSingleCriterionConfirm(heldMatches(), models.CriterionCountryFrom)

	outcome := g.Resolve(pending, "yes please")
	if outcome.Kind != OutcomeAccepted {
		t.Fatalf("expected accepted, got %s", outcome.Kind)
	}
	if len(outcome.Matches) != 2 || outcome.Matches[0].User.ID != "amy" || outcome.Matches[1].User.ID != "ben" {
		t.Errorf("expected the full held set returned, got %+v", outcome.Matches)
	}
}

func TestResolve_DeclineDiscardsMatches(t *testing.T) {
	g := NewKeywordGate()
	pending := models.AwaitPartialMatchConfirm(heldMatches(), "Indonesia")

	outcome := g.Resolve(pending, "no, add more")
	if outcome.Kind != OutcomeDeclined {
		t.Fatalf("expected declined, got %s", outcome.Kind)
	}
	if outcome.Matches != nil {
		t.Errorf("expected no matches on decline, got %+v", outcome.Matches)
	}
}

func TestResolve_UnclearKeepsPending(t *testing.T) {
	g := NewKeywordGate()
	pending := models.AwaitSingleCriterionConfirm(heldMatches(), models.CriterionBoardType)

	outcome := g.Resolve(pending, "maybe")
	if outcome.Kind != OutcomeStillPending {
		t.Fatalf("expected still_pending, got %s", outcome.Kind)
	}
}

func TestResolve_NoPending(t *testing.T) {
	g := NewKeywordGate()
	outcome := g.Resolve(models.NoPending(), "yes")
	if outcome.Kind != OutcomeStillPending {
		t.Fatalf("expected still_pending for no pending confirmation, got %s", outcome.Kind)
	}
}
