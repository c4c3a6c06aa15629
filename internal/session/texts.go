package session

import (
	"fmt"
	"strings"

	"github.com/swellmates/tripmatch/internal/match"
	"github.com/swellmates/tripmatch/internal/models"
)

// Fixed assistant texts. These are deterministic on purpose: replaying the
// same turn sequence produces the same transcript.
const (
	apologyText = "Sorry, I had trouble understanding that. Could you rephrase what you're looking for?"

	matchingFailedText = "Sorry, something went wrong while searching for surf buddies. Please try again in a moment."

	filterChoiceText = "Want to keep these filters for your next search, or clear them and start fresh?"

	declinedText = "No problem! Tell me what you'd like to change about the search."

	rePromptText = "Just to confirm: should I show you the matches I found, or would you like to change the search?"
)

// matchesDeliveredText is the text carried by a match-bearing assistant message.
func matchesDeliveredText(count int) string {
	if count == 1 {
		return "Great news! I found 1 surf buddy for your trip."
	}
	return fmt.Sprintf("Great news! I found %d surf buddies for your trip.", count)
}

// singleCriterionConfirmText asks the user to confirm a single-criterion hold.
func singleCriterionConfirmText(count int, criterion models.Criterion) string {
	noun := "surfers"
	if count == 1 {
		noun = "surfer"
	}
	return fmt.Sprintf(
		"I found %d %s matching your %s. Want to see them now, or add more criteria to narrow it down?",
		count, noun, match.CriterionLabel(criterion))
}

// partialConfirmText summarizes how the closest candidates deviate and asks
// the user to accept or revise. Differences are rendered in canonical
// criterion order from the best-ranked candidate.
func partialConfirmText(matches []models.MatchedUser) string {
	var b strings.Builder
	b.WriteString("I couldn't find anyone matching all your criteria, but ")
	if len(matches) == 1 {
		b.WriteString("1 surfer comes close")
	} else {
		fmt.Fprintf(&b, "%d surfers come close", len(matches))
	}
	if len(matches) > 0 {
		if diff := describeDifferences(matches[0].Quality); diff != "" {
			b.WriteString(": ")
			b.WriteString(diff)
		}
	}
	b.WriteString(". Want to see the closest matches, or change the search?")
	return b.String()
}

func describeDifferences(quality models.MatchQuality) string {
	var parts []string
	for _, criterion := range models.CriterionOrder {
		diff, ok := quality.Differences[criterion]
		if !ok {
			continue
		}
		part := fmt.Sprintf("you asked for %s %s", match.CriterionLabel(criterion), strings.Join(diff.Requested, " or "))
		if len(diff.Found) > 0 {
			part += fmt.Sprintf(" but the closest is %s", strings.Join(diff.Found, ", "))
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
