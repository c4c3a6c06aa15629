// Package match implements the candidate matching policy for tripmatch.
//
// The matcher evaluates a trip-planning request against a read-only
// candidate pool and classifies the result into quality tiers: exact,
// partial, single-criterion exact, or empty.
package match

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/swellmates/tripmatch/internal/models"
)

// surfLevelRanks orders experience levels for numeric deviation in tie-breaks.
var surfLevelRanks = map[string]int{
	"beginner":     1,
	"intermediate": 2,
	"advanced":     3,
	"pro":          4,
}

// Matcher evaluates trip-planning requests against candidate pools.
type Matcher struct{}

// NewMatcher creates a new Matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// evaluation is the per-candidate satisfaction record computed once per match run.
type evaluation struct {
	candidate  models.Candidate
	satisfied  []models.Criterion
	exactHits  int // categorical criteria satisfied by exact string match
	deviation  int // summed numeric deviation on failed age/level criteria
	failed     []models.Criterion
	satisfiedN int
}

// Match evaluates the request against the pool and returns a tagged MatchResult.
//
// Policy: a request with exactly one criterion never auto-reveals; it is
// tagged single_criterion_exact so the session can gate it behind a
// confirmation. Multi-criterion requests reveal immediately when fully
// satisfied, fall back to partial (all-but-one criterion) alternatives, or
// produce a deterministic empty explanation.
func (m *Matcher) Match(req *models.TripPlanningRequest, pool []models.Candidate) models.MatchResult {
	criteria := req.RequestedCriteria()
	slog.Debug("Matcher.Match: evaluating request", "criteriaCount", len(criteria), "poolSize", len(pool))

	if len(criteria) == 0 {
		return models.MatchResult{
			Outcome:            models.OutcomeEmpty,
			RejectedCandidates: len(pool),
			Explanation:        "No search criteria were provided, so no candidates could be matched.",
		}
	}

	evals := make([]evaluation, 0, len(pool))
	for _, c := range pool {
		evals = append(evals, evaluate(req, criteria, c))
	}

	if len(criteria) == 1 {
		return m.matchSingleCriterion(criteria[0], evals, len(pool))
	}
	return m.matchMultiCriteria(req, criteria, evals, len(pool))
}

// matchSingleCriterion handles requests carrying exactly one criterion.
func (m *Matcher) matchSingleCriterion(criterion models.Criterion, evals []evaluation, poolSize int) models.MatchResult {
	var matches []models.MatchedUser
	for _, e := range evals {
		if e.satisfiedN == 1 {
			matches = append(matches, models.MatchedUser{
				User: e.candidate,
				Quality: models.MatchQuality{
					ExactMatch:      true,
					MatchedCriteria: []models.Criterion{criterion},
				},
			})
		}
	}
	if len(matches) == 0 {
		slog.Debug("Matcher.matchSingleCriterion: no candidates satisfied criterion", "criterion", criterion)
		return models.MatchResult{
			Outcome:            models.OutcomeEmpty,
			RejectedCandidates: poolSize,
			Explanation:        buildEmptyExplanation([]models.Criterion{criterion}, map[models.Criterion]int{criterion: 0}, poolSize),
		}
	}
	slog.Debug("Matcher.matchSingleCriterion: holding matches for confirmation", "criterion", criterion, "count", len(matches))
	return models.MatchResult{
		Outcome:            models.OutcomeSingleCriterionExact,
		Matches:            matches,
		RejectedCandidates: poolSize - len(matches),
	}
}

// matchMultiCriteria handles requests carrying two or more criteria.
func (m *Matcher) matchMultiCriteria(req *models.TripPlanningRequest, criteria []models.Criterion, evals []evaluation, poolSize int) models.MatchResult {
	total := len(criteria)

	var exact []models.MatchedUser
	for _, e := range evals {
		if e.satisfiedN == total {
			exact = append(exact, models.MatchedUser{
				User: e.candidate,
				Quality: models.MatchQuality{
					ExactMatch:      true,
					MatchedCriteria: append([]models.Criterion(nil), criteria...),
				},
			})
		}
	}
	if len(exact) > 0 {
		slog.Debug("Matcher.matchMultiCriteria: exact matches found", "count", len(exact))
		return models.MatchResult{
			Outcome:            models.OutcomeExact,
			Matches:            exact,
			RejectedCandidates: poolSize - len(exact),
		}
	}

	// A meaningful subset is all criteria but one. Candidates further off
	// than that produce an empty result with an explanation instead of a
	// confirmation round.
	best := 0
	for _, e := range evals {
		if e.satisfiedN > best && e.satisfiedN < total {
			best = e.satisfiedN
		}
	}
	passedOtherFilters := 0
	for _, e := range evals {
		if e.satisfiedN == total-1 {
			passedOtherFilters++
		}
	}

	if best < total-1 || best == 0 {
		slog.Debug("Matcher.matchMultiCriteria: no meaningful subset satisfied", "best", best, "total", total)
		return models.MatchResult{
			Outcome:                 models.OutcomeEmpty,
			RejectedCandidates:      poolSize,
			PassedOtherFiltersCount: passedOtherFilters,
			Explanation:             buildEmptyExplanation(criteria, perCriterionCounts(criteria, evals), poolSize),
		}
	}

	closest := closestCandidates(evals, best)
	matches := make([]models.MatchedUser, 0, len(closest))
	for _, e := range closest {
		matches = append(matches, models.MatchedUser{
			User: e.candidate,
			Quality: models.MatchQuality{
				ExactMatch:      false,
				MatchedCriteria: e.satisfied,
				Differences:     differences(req, e),
			},
		})
	}
	slog.Debug("Matcher.matchMultiCriteria: partial matches held for confirmation", "count", len(matches), "matchedCriteria", best, "total", total)
	return models.MatchResult{
		Outcome:                 models.OutcomePartial,
		Matches:                 matches,
		RejectedCandidates:      poolSize - len(matches),
		PassedOtherFiltersCount: passedOtherFilters,
	}
}

// closestCandidates selects and orders the candidates with the highest
// matched-criteria count. Ties prefer smaller numeric deviation, then exact
// string matches over fuzzy ones, then candidate id for stability.
func closestCandidates(evals []evaluation, best int) []evaluation {
	var closest []evaluation
	for _, e := range evals {
		if e.satisfiedN == best {
			closest = append(closest, e)
		}
	}
	sort.SliceStable(closest, func(i, j int) bool {
		if closest[i].deviation != closest[j].deviation {
			return closest[i].deviation < closest[j].deviation
		}
		if closest[i].exactHits != closest[j].exactHits {
			return closest[i].exactHits > closest[j].exactHits
		}
		return closest[i].candidate.ID < closest[j].candidate.ID
	})
	return closest
}

// differences records requested-versus-found values for each criterion the
// candidate failed.
func differences(req *models.TripPlanningRequest, e evaluation) map[models.Criterion]models.Difference {
	diffs := make(map[models.Criterion]models.Difference, len(e.failed))
	for _, c := range e.failed {
		v, _ := req.Requested(c)
		diffs[c] = models.Difference{
			Requested: requestedStrings(v),
			Found:     foundStrings(c, e.candidate),
		}
	}
	return diffs
}

func requestedStrings(v models.CriterionValue) []string {
	if len(v.Values) > 0 {
		return append([]string(nil), v.Values...)
	}
	if v.HasRange() {
		return []string{ageRangeLabel(v)}
	}
	return nil
}

func foundStrings(c models.Criterion, cand models.Candidate) []string {
	switch c {
	case models.CriterionCountryFrom:
		return []string{cand.CountryFrom}
	case models.CriterionBoardType:
		return []string{cand.BoardType}
	case models.CriterionSurfLevel:
		return []string{cand.SurfLevel}
	case models.CriterionAgeRange:
		return []string{strconv.Itoa(cand.Age)}
	case models.CriterionDestinationCountry:
		out := make([]string, 0, len(cand.Destinations))
		for _, d := range cand.Destinations {
			out = append(out, d.Country)
		}
		sort.Strings(out)
		return out
	case models.CriterionArea:
		var out []string
		for _, d := range cand.Destinations {
			if d.Area != "" {
				out = append(out, d.Area)
			}
		}
		sort.Strings(out)
		return out
	}
	return nil
}

// evaluate computes the satisfaction record for one candidate.
func evaluate(req *models.TripPlanningRequest, criteria []models.Criterion, cand models.Candidate) evaluation {
	e := evaluation{candidate: cand}
	for _, c := range criteria {
		v, _ := req.Requested(c)
		ok, exact, dev := satisfies(c, v, cand)
		if ok {
			e.satisfied = append(e.satisfied, c)
			e.satisfiedN++
			if exact {
				e.exactHits++
			}
		} else {
			e.failed = append(e.failed, c)
			e.deviation += dev
		}
	}
	return e
}

// satisfies reports whether the candidate meets the criterion, whether the
// hit was an exact string match, and the numeric deviation when it fails.
func satisfies(c models.Criterion, v models.CriterionValue, cand models.Candidate) (ok, exact bool, deviation int) {
	switch c {
	case models.CriterionCountryFrom:
		return matchCategorical(cand.CountryFrom, v.Values)
	case models.CriterionBoardType:
		return matchCategorical(cand.BoardType, v.Values)
	case models.CriterionSurfLevel:
		ok, exact, _ = matchCategorical(cand.SurfLevel, v.Values)
		if !ok {
			deviation = levelDeviation(cand.SurfLevel, v.Values)
		}
		return ok, exact, deviation
	case models.CriterionAgeRange:
		return matchAge(cand.Age, v)
	case models.CriterionDestinationCountry:
		for _, d := range cand.Destinations {
			if hit, ex, _ := matchCategorical(d.Country, v.Values); hit {
				return true, ex, 0
			}
		}
		return false, false, 0
	case models.CriterionArea:
		for _, d := range cand.Destinations {
			if hit, ex, _ := matchCategorical(d.Area, v.Values); hit {
				return true, ex, 0
			}
		}
		return false, false, 0
	}
	return false, false, 0
}

// matchCategorical accepts an exact (case-insensitive) match first and falls
// back to a fuzzy substring match.
func matchCategorical(have string, want []string) (ok, exact bool, deviation int) {
	if have == "" {
		return false, false, 0
	}
	for _, w := range want {
		if strings.EqualFold(have, w) {
			return true, true, 0
		}
	}
	lower := strings.ToLower(have)
	for _, w := range want {
		lw := strings.ToLower(w)
		if lw != "" && (strings.Contains(lower, lw) || strings.Contains(lw, lower)) {
			return true, false, 0
		}
	}
	return false, false, 0
}

func matchAge(age int, v models.CriterionValue) (ok, exact bool, deviation int) {
	if !v.HasRange() {
		return false, false, 0
	}
	minAge, maxAge := v.MinAge, v.MaxAge
	if minAge > 0 && age < minAge {
		return false, false, minAge - age
	}
	if maxAge > 0 && age > maxAge {
		return false, false, age - maxAge
	}
	return true, true, 0
}

// levelDeviation is the rank distance to the nearest requested surf level.
// Unknown levels count as maximally distant.
func levelDeviation(have string, want []string) int {
	haveRank, knownHave := surfLevelRanks[strings.ToLower(have)]
	best := len(surfLevelRanks)
	for _, w := range want {
		wantRank, knownWant := surfLevelRanks[strings.ToLower(w)]
		if !knownHave || !knownWant {
			continue
		}
		d := haveRank - wantRank
		if d < 0 {
			d = -d
		}
		if d < best {
			best = d
		}
	}
	return best
}

func perCriterionCounts(criteria []models.Criterion, evals []evaluation) map[models.Criterion]int {
	counts := make(map[models.Criterion]int, len(criteria))
	for _, c := range criteria {
		counts[c] = 0
	}
	for _, e := range evals {
		for _, c := range e.satisfied {
			counts[c]++
		}
	}
	return counts
}
