package resolve

import (
	"strings"

	"github.com/fyrsmithlabs/ordermatch/internal/search"
)

// PartnerLookup returns the partner customer numbers registered for a
// customer.
type PartnerLookup interface {
	Partners(customer string) []string
}

// ApplyPartnerFunction fills an unresolved sold_to from the ship_to's
// partner list when exactly one partner is a sold-to customer. It
// reports whether sold_to changed.
func ApplyPartnerFunction(es Entities, table PartnerLookup) bool {
	if table == nil {
		return false
	}
	ship, sold := es.Get(search.ShipTo), es.Get(search.SoldTo)
	if !ship.Resolved() || sold.Resolved() {
		return false
	}
	var soldTo []string
	for _, p := range table.Partners(ship.CustomerNumber) {
		if strings.HasPrefix(p, "1") {
			soldTo = append(soldTo, p)
		}
	}
	if len(soldTo) != 1 {
		return false
	}
	es[search.SoldTo] = Entity{Role: search.SoldTo, CustomerNumber: soldTo[0], Source: SourcePartnerFunction}
	return true
}

// PromoteShipTo copies ship_to onto sold_to when sold_to is unresolved
// and ship_to resolved to a sold-to series customer. It reports whether
// sold_to changed.
func PromoteShipTo(es Entities) bool {
	ship, sold := es.Get(search.ShipTo), es.Get(search.SoldTo)
	if sold.Resolved() || !ship.Resolved() || !strings.HasPrefix(ship.CustomerNumber, "1") {
		return false
	}
	es[search.SoldTo] = ship.copyTo(search.SoldTo, SourcePromoted)
	return true
}
