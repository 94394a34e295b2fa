// Package resolve turns ranked address candidates into one resolved
// partner per role, using an explicit customer code when present and a
// disambiguating model call otherwise.
package resolve

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/ordermatch/internal/scoring"
	"github.com/fyrsmithlabs/ordermatch/internal/search"
)

// Source records how a role was resolved.
type Source string

const (
	SourceNone            Source = ""
	SourceExplicitCode    Source = "explicit_code"
	SourceRankedMatch     Source = "ranked_match"
	SourceUnified         Source = "unified_from_sibling"
	SourcePartnerFunction Source = "partner_function"
	SourcePromoted        Source = "promoted_from_ship_to"
)

var customerCodePattern = regexp.MustCompile(`^[12]\d{6}$`)

// ValidCustomerCode reports whether code is a sold-to or ship-to
// customer number.
func ValidCustomerCode(code string) bool {
	return customerCodePattern.MatchString(strings.TrimSpace(code))
}

// Party is one role's extracted data and ranked candidates.
type Party struct {
	Name              string
	TranslatedName    string
	Address           string
	AddressEnglish    string
	TranslatedAddress string
	CustomerCode      string
	Candidates        []scoring.Scored
}

// Entity is a role's resolution. A deleted entity never carries a
// customer number; Match may still hold the top candidate for
// reference.
type Entity struct {
	Role           search.Role
	CustomerNumber string
	Deleted        bool
	Source         Source
	Match          *scoring.Scored
	Reason         string
}

// Resolved reports whether the entity carries a customer number.
func (e Entity) Resolved() bool {
	return !e.Deleted && e.CustomerNumber != ""
}

// Delete marks the entity as having no acceptable match.
func (e *Entity) Delete(reference *scoring.Scored) {
	e.Deleted = true
	e.CustomerNumber = ""
	e.Source = SourceNone
	e.Match = reference
}

// copyTo returns e re-targeted at role with the given source.
func (e Entity) copyTo(role search.Role, source Source) Entity {
	out := e
	out.Role = role
	out.Source = source
	if e.Match != nil {
		m := *e.Match
		out.Match = &m
	}
	return out
}

// Entities holds one Entity per role.
type Entities map[search.Role]Entity

// Get returns the entity for role, empty when absent.
func (es Entities) Get(role search.Role) Entity {
	if e, ok := es[role]; ok {
		return e
	}
	return Entity{Role: role}
}

// BoundsError reports a model-selected index outside the candidate list.
type BoundsError struct {
	Role  search.Role
	Index int
	Len   int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("%s: index %d out of range [0,%d)", e.Role, e.Index, e.Len)
}

// SeriesError reports a model-selected customer number that is not a
// customer of the role's series.
type SeriesError struct {
	Role     search.Role
	Customer string
}

func (e *SeriesError) Error() string {
	return fmt.Sprintf("%s: customer %s outside series %v", e.Role, e.Customer, e.Role.Series())
}
