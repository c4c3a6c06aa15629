// Package models defines the core data structures for tripmatch.
//
// It includes the trip-planning request, candidate profiles, and the
// shared types exchanged between the session, matcher, and store modules.
package models

import (
	"errors"
	"sort"
	"strconv"
)

// Criterion identifies a single filterable attribute of a trip-planning request.
type Criterion string

const (
	// CriterionCountryFrom filters candidates by their home country.
	CriterionCountryFrom Criterion = "country_from"
	// CriterionBoardType filters candidates by surfboard type.
	CriterionBoardType Criterion = "surfboard_type"
	// CriterionAgeRange filters candidates by an age range.
	CriterionAgeRange Criterion = "age_range"
	// CriterionSurfLevel filters candidates by surfing experience level.
	CriterionSurfLevel Criterion = "surf_level"
	// CriterionDestinationCountry filters candidates by trip destination country.
	CriterionDestinationCountry Criterion = "destination_country"
	// CriterionArea filters candidates by a destination area within a country.
	CriterionArea Criterion = "area"
)

// CriterionOrder is the canonical ordering of criteria. Deterministic output
// (explanations, matched-criteria lists) always follows this order.
var CriterionOrder = []Criterion{
	CriterionCountryFrom,
	CriterionBoardType,
	CriterionAgeRange,
	CriterionSurfLevel,
	CriterionDestinationCountry,
	CriterionArea,
}

// IsValidCriterion checks if the given criterion is supported.
func IsValidCriterion(c Criterion) bool {
	switch c {
	case CriterionCountryFrom, CriterionBoardType, CriterionAgeRange,
		CriterionSurfLevel, CriterionDestinationCountry, CriterionArea:
		return true
	default:
		return false
	}
}

// Budget represents a coarse trip budget tier.
type Budget string

const (
	// BudgetLow indicates a low-budget trip.
	BudgetLow Budget = "low"
	// BudgetMedium indicates a medium-budget trip.
	BudgetMedium Budget = "medium"
	// BudgetHigh indicates a high-budget trip.
	BudgetHigh Budget = "high"
)

// IsValidBudget checks if the given budget tier is supported. The empty
// string is valid and means the budget was not specified.
func IsValidBudget(b Budget) bool {
	switch b {
	case "", BudgetLow, BudgetMedium, BudgetHigh:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrEmptyChatID        = errors.New("chat id cannot be empty")
	ErrEmptyMessage       = errors.New("message text cannot be empty")
	ErrInvalidRole        = errors.New("invalid message role")
	ErrChatNotFound       = errors.New("chat not found")
	ErrInvalidCriterion   = errors.New("unknown criterion")
	ErrInvalidBudget      = errors.New("invalid budget tier")
	ErrInvalidAgeRange    = errors.New("age range minimum exceeds maximum")
	ErrNoAssistantMessage = errors.New("no assistant message to attach payload to")
)

// CriterionValue holds the required value(s) for a non-negotiable criterion.
// Categorical criteria carry Values; the age criterion carries MinAge/MaxAge.
type CriterionValue struct {
	Values []string `json:"values,omitempty"`
	MinAge int      `json:"min_age,omitempty"`
	MaxAge int      `json:"max_age,omitempty"`
}

// HasRange reports whether the value carries a numeric age range.
func (v CriterionValue) HasRange() bool {
	return v.MinAge > 0 || v.MaxAge > 0
}

// IsEmpty reports whether the value carries neither categorical values nor a range.
func (v CriterionValue) IsEmpty() bool {
	return len(v.Values) == 0 && !v.HasRange()
}

// TripPlanningRequest is the structured output of criteria extraction.
// It is immutable once built for a matching attempt; the session rebuilds it
// fresh each time the extractor reports criteria-gathering complete.
type TripPlanningRequest struct {
	DestinationCountry string `json:"destination_country,omitempty"`
	Area               string `json:"area,omitempty"`
	Budget             Budget `json:"budget,omitempty"`
	// NonNegotiableCriteria is the authoritative representation of the
	// requested criteria. QueryFilters is a derived convenience view.
	NonNegotiableCriteria        map[Criterion]CriterionValue `json:"non_negotiable_criteria,omitempty"`
	QueryFilters                 map[Criterion]string         `json:"query_filters,omitempty"`
	FiltersFromNonNegotiableStep bool                         `json:"filters_from_non_negotiable_step,omitempty"`
}

// Validate performs validation on a TripPlanningRequest.
func (r *TripPlanningRequest) Validate() error {
	if !IsValidBudget(r.Budget) {
		return ErrInvalidBudget
	}
	for c, v := range r.NonNegotiableCriteria {
		if !IsValidCriterion(c) {
			return ErrInvalidCriterion
		}
		if v.MinAge > 0 && v.MaxAge > 0 && v.MinAge > v.MaxAge {
			return ErrInvalidAgeRange
		}
	}
	return nil
}

// criterionValue resolves the effective value for a criterion, merging the
// dedicated destination/area fields into the authoritative map view.
func (r *TripPlanningRequest) criterionValue(c Criterion) CriterionValue {
	if v, ok := r.NonNegotiableCriteria[c]; ok && !v.IsEmpty() {
		return v
	}
	switch c {
	case CriterionDestinationCountry:
		if r.DestinationCountry != "" {
			return CriterionValue{Values: []string{r.DestinationCountry}}
		}
	case CriterionArea:
		if r.Area != "" {
			return CriterionValue{Values: []string{r.Area}}
		}
	}
	return CriterionValue{}
}

// Requested returns the effective value for a criterion and whether it is present.
func (r *TripPlanningRequest) Requested(c Criterion) (CriterionValue, bool) {
	v := r.criterionValue(c)
	return v, !v.IsEmpty()
}

// RequestedCriteria returns the criteria present in the request, in canonical order.
// Each criterion contributes at most one entry regardless of how many values it carries.
func (r *TripPlanningRequest) RequestedCriteria() []Criterion {
	var out []Criterion
	for _, c := range CriterionOrder {
		if _, ok := r.Requested(c); ok {
			out = append(out, c)
		}
	}
	return out
}

// CriteriaCount counts the non-negotiable criteria actually present in the request.
func (r *TripPlanningRequest) CriteriaCount() int {
	return len(r.RequestedCriteria())
}

// DeriveQueryFilters rebuilds QueryFilters from the authoritative
// non-negotiable representation and marks the request accordingly.
func (r *TripPlanningRequest) DeriveQueryFilters() {
	filters := make(map[Criterion]string)
	for _, c := range r.RequestedCriteria() {
		v := r.criterionValue(c)
		switch {
		case len(v.Values) > 0:
			vals := append([]string(nil), v.Values...)
			sort.Strings(vals)
			filters[c] = vals[0]
		case v.HasRange():
			filters[c] = ageRangeFilter(v.MinAge, v.MaxAge)
		}
	}
	r.QueryFilters = filters
	r.FiltersFromNonNegotiableStep = true
}

func ageRangeFilter(minAge, maxAge int) string {
	switch {
	case minAge > 0 && maxAge > 0:
		return strconv.Itoa(minAge) + "-" + strconv.Itoa(maxAge)
	case minAge > 0:
		return strconv.Itoa(minAge) + "+"
	default:
		return "-" + strconv.Itoa(maxAge)
	}
}

// Destination is a country/area pair a candidate has surfed or plans to surf.
type Destination struct {
	Country string `json:"country"`
	Area    string `json:"area,omitempty"`
}

// Candidate is a public candidate profile evaluated by the matcher.
// The candidate pool is read-only from the matcher's perspective.
type Candidate struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Age          int           `json:"age"`
	CountryFrom  string        `json:"country_from"`
	BoardType    string        `json:"board_type"`
	SurfLevel    string        `json:"surf_level"`
	Budget       Budget        `json:"budget,omitempty"`
	Destinations []Destination `json:"destinations,omitempty"`
}
