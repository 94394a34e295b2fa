package search

import (
	"fmt"

	"github.com/fyrsmithlabs/ordermatch/internal/vectorstore"
)

// Role is a trading-partner role on an order.
type Role string

const (
	SoldTo    Role = "sold_to"
	ShipTo    Role = "ship_to"
	Consignee Role = "consignee"
)

// Roles lists every role in resolution order.
var Roles = []Role{SoldTo, ShipTo, Consignee}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case SoldTo, ShipTo, Consignee:
		return true
	}
	return false
}

// Series returns the customer series searched for r, most specific
// first.
func (r Role) Series() []string {
	switch r {
	case SoldTo:
		return []string{"1"}
	case Consignee:
		return []string{"2"}
	case ShipTo:
		return []string{"2", "1"}
	}
	return nil
}

type seriesRange struct{ low, high float64 }

var seriesRanges = map[string]seriesRange{
	"1": {low: 1000000, high: 2000000},
	"2": {low: 2000000, high: 3000000},
}

// SeriesFilter restricts customer numbers to series.
func SeriesFilter(series string) (vectorstore.Filter, error) {
	r, ok := seriesRanges[series]
	if !ok {
		return nil, fmt.Errorf("unknown customer series %q", series)
	}
	return vectorstore.Filter{
		vectorstore.Gte("customer", r.low),
		vectorstore.Lt("customer", r.high),
	}, nil
}

// SeriesOf returns the series a customer number belongs to, or "".
func SeriesOf(customer float64) string {
	for s, r := range seriesRanges {
		if customer >= r.low && customer < r.high {
			return s
		}
	}
	return ""
}
