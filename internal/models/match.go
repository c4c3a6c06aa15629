// Package models defines match-result structures for tripmatch.
package models

// MatchOutcome tags the overall result of a matching attempt.
type MatchOutcome string

const (
	// OutcomeExact means candidates satisfied every requested criterion
	// of a multi-criterion request; results are revealed immediately.
	OutcomeExact MatchOutcome = "exact"
	// OutcomePartial means no candidate satisfied all criteria but some
	// satisfied a strict subset; results are held for confirmation.
	OutcomePartial MatchOutcome = "partial"
	// OutcomeSingleCriterionExact means the request carried exactly one
	// criterion and candidates satisfy it; results are held for confirmation.
	OutcomeSingleCriterionExact MatchOutcome = "single_criterion_exact"
	// OutcomeEmpty means no candidate satisfied any meaningful subset.
	OutcomeEmpty MatchOutcome = "empty"
)

// Difference records what was requested versus what the closest candidates
// actually offer for a relaxed criterion.
type Difference struct {
	Requested []string `json:"requested"`
	Found     []string `json:"found"`
}

// MatchQuality classifies how well a candidate satisfies a request.
type MatchQuality struct {
	ExactMatch      bool                     `json:"exact_match"`
	MatchedCriteria []Criterion              `json:"matched_criteria"`
	Differences     map[Criterion]Difference `json:"differences,omitempty"`
}

// MatchedUser is a candidate returned by the matcher, tagged with quality.
type MatchedUser struct {
	User    Candidate    `json:"user"`
	Quality MatchQuality `json:"match_quality"`
}

// MatchResult is the full outcome of a matching attempt. Rejection counts
// and the empty-result explanation travel here explicitly rather than as
// marker fields smuggled onto the matches slice.
type MatchResult struct {
	Outcome                 MatchOutcome  `json:"outcome"`
	Matches                 []MatchedUser `json:"matches"`
	RejectedCandidates      int           `json:"rejected_candidates"`
	PassedOtherFiltersCount int           `json:"passed_other_filters_count"`
	Explanation             string        `json:"explanation,omitempty"`
}
