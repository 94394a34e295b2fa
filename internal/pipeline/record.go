package pipeline

import (
	"github.com/fyrsmithlabs/ordermatch/internal/events"
	"github.com/fyrsmithlabs/ordermatch/internal/material"
	"github.com/fyrsmithlabs/ordermatch/internal/resolve"
	"github.com/fyrsmithlabs/ordermatch/internal/scoring"
	"github.com/fyrsmithlabs/ordermatch/internal/search"
)

// Record is the resolved output for one document.
type Record struct {
	SessionID  string        `json:"session_id"`
	DocumentID string        `json:"document_id"`
	Status     events.Status `json:"status"`
	Error      string        `json:"error,omitempty"`

	SoldTo    RoleRecord `json:"sold_to"`
	ShipTo    RoleRecord `json:"ship_to"`
	Consignee RoleRecord `json:"consignee"`

	HeaderMemo     string       `json:"header_memo,omitempty"`
	Items          []ItemRecord `json:"items"`
	Confidence     float64      `json:"confidence"`
	CandidateNames []string     `json:"candidate_names,omitempty"`
	ElapsedMS      int64        `json:"elapsed_ms"`
}

// RoleRecord is one role's resolution. Number is nil unless the role
// resolved; Reference keeps the top candidate of a deleted role.
type RoleRecord struct {
	Name      string         `json:"name"`
	Address   string         `json:"address"`
	Number    *NumberRecord  `json:"number"`
	Delete    bool           `json:"delete"`
	Source    resolve.Source `json:"source,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Reference *NumberRecord  `json:"reference,omitempty"`
}

// NumberRecord describes the selected customer.
type NumberRecord struct {
	Customer      string  `json:"customer"`
	Score         float64 `json:"score"`
	Similarity    float64 `json:"similarity"`
	International bool    `json:"international"`
	Address       string  `json:"address"`
	House         string  `json:"house"`
}

// ItemRecord is one resolved line item.
type ItemRecord struct {
	Index          int                  `json:"index"`
	Content        string               `json:"content"`
	Description    string               `json:"description"`
	ProductName    string               `json:"product_name,omitempty"`
	Material       string               `json:"material"`
	Candidates     []material.Candidate `json:"material_candidates"`
	Secondary      string               `json:"secondary_material,omitempty"`
	MaterialReason string               `json:"material_reason,omitempty"`
	Batch          string               `json:"batch"`
	Memo           string               `json:"memo,omitempty"`
	Confidence     float64              `json:"confidence"`
}

// Role returns the record for role.
func (r *Record) Role(role search.Role) *RoleRecord {
	switch role {
	case search.SoldTo:
		return &r.SoldTo
	case search.ShipTo:
		return &r.ShipTo
	case search.Consignee:
		return &r.Consignee
	}
	return nil
}

func numberOf(s *scoring.Scored, customer string) *NumberRecord {
	if s == nil {
		return &NumberRecord{Customer: customer}
	}
	n := &NumberRecord{
		Customer:      s.Customer,
		Score:         s.Score,
		Similarity:    s.Similarity,
		International: s.International,
		Address:       s.Address,
		House:         s.House,
	}
	if customer != "" {
		n.Customer = customer
	}
	return n
}

func roleRecord(p party, e resolve.Entity, candidates []scoring.Scored) RoleRecord {
	rr := RoleRecord{
		Name:    p.Name,
		Address: p.Address,
		Delete:  e.Deleted,
		Source:  e.Source,
		Reason:  e.Reason,
	}
	switch {
	case e.Deleted:
		if e.Match != nil {
			rr.Reference = numberOf(e.Match, "")
		}
	case e.Resolved():
		match := e.Match
		if match == nil {
			// explicit codes carry no match; show the candidate row if
			// the search found the same customer
			for i := range candidates {
				if candidates[i].Customer == e.CustomerNumber {
					match = &candidates[i]
					break
				}
			}
		}
		rr.Number = numberOf(match, e.CustomerNumber)
	}
	return rr
}

func (r *Record) resolvedRoles() int {
	n := 0
	for _, rr := range []RoleRecord{r.SoldTo, r.ShipTo, r.Consignee} {
		if rr.Number != nil {
			n++
		}
	}
	return n
}
