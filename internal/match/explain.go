// Package match provides the deterministic empty-result explanation builder.
package match

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/swellmates/tripmatch/internal/models"
)

// criterionLabels maps criteria to the human-readable names used in
// user-facing explanations.
var criterionLabels = map[models.Criterion]string{
	models.CriterionCountryFrom:        "home country",
	models.CriterionBoardType:          "board type",
	models.CriterionAgeRange:           "age range",
	models.CriterionSurfLevel:          "surf level",
	models.CriterionDestinationCountry: "destination",
	models.CriterionArea:               "area",
}

// CriterionLabel returns the user-facing name for a criterion.
func CriterionLabel(c models.Criterion) string {
	if label, ok := criterionLabels[c]; ok {
		return label
	}
	return string(c)
}

// buildEmptyExplanation produces the deterministic explanation for an empty
// result: the most restrictive criterion first (fewest per-criterion
// survivors, canonical criterion order on ties), then how the remaining
// criteria fared against it. Identical inputs always yield identical text.
func buildEmptyExplanation(criteria []models.Criterion, counts map[models.Criterion]int, poolSize int) string {
	ordered := append([]models.Criterion(nil), criteria...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if counts[ordered[i]] != counts[ordered[j]] {
			return counts[ordered[i]] < counts[ordered[j]]
		}
		return canonicalIndex(ordered[i]) < canonicalIndex(ordered[j])
	})

	mostRestrictive := ordered[0]
	var b strings.Builder
	if len(criteria) == 1 {
		fmt.Fprintf(&b, "No candidates matched your %s request (0 of %d candidates).",
			CriterionLabel(mostRestrictive), poolSize)
		return b.String()
	}

	fmt.Fprintf(&b, "No candidates matched all %d criteria. The most restrictive was %s: %d of %d candidates matched it.",
		len(criteria), CriterionLabel(mostRestrictive), counts[mostRestrictive], poolSize)
	for _, c := range ordered[1:] {
		if counts[c] == 0 {
			fmt.Fprintf(&b, " No candidates matched %s either.", CriterionLabel(c))
			continue
		}
		fmt.Fprintf(&b, " %d candidate%s matched %s but not %s.",
			counts[c], plural(counts[c]), CriterionLabel(c), CriterionLabel(mostRestrictive))
	}
	return b.String()
}

func canonicalIndex(c models.Criterion) int {
	for i, o := range models.CriterionOrder {
		if o == c {
			return i
		}
	}
	return len(models.CriterionOrder)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// ageRangeLabel renders an age range for difference reporting.
func ageRangeLabel(v models.CriterionValue) string {
	switch {
	case v.MinAge > 0 && v.MaxAge > 0:
		return strconv.Itoa(v.MinAge) + "-" + strconv.Itoa(v.MaxAge)
	case v.MinAge > 0:
		return strconv.Itoa(v.MinAge) + "+"
	case v.MaxAge > 0:
		return "up to " + strconv.Itoa(v.MaxAge)
	default:
		return ""
	}
}
