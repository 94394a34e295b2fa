package search

import (
	"strings"

	"github.com/fyrsmithlabs/ordermatch/internal/vectorstore"
)

// CountryFilters returns the country passes for a search. The catalog
// stores codes in either case; Hong Kong partners are also searched
// among mainland Chinese records. An empty country yields one
// unfiltered pass.
func CountryFilters(country string) []vectorstore.Filter {
	lc := strings.ToLower(strings.TrimSpace(country))
	if lc == "" {
		return []vectorstore.Filter{nil}
	}
	filters := []vectorstore.Filter{
		{vectorstore.In("country", lc, strings.ToUpper(lc))},
	}
	if lc == "hk" {
		filters = append(filters, vectorstore.Filter{vectorstore.Eq("country", "cn")})
	}
	return filters
}
