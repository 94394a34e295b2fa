package pipeline

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/ordermatch/internal/search"
)

// Text is a string field that also accepts JSON numbers and null.
// Extractors emit customer codes and batch numbers either way.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*t = Text(strconv.FormatInt(i, 10))
		return nil
	}
	*t = Text(n.String())
	return nil
}

func (t Text) String() string { return string(t) }

// Document is one extracted purchase order.
type Document struct {
	ID         string                 `json:"id"`
	Parties    map[string]PartyFields `json:"parties"`
	Items      []Item                 `json:"items"`
	Materials  []MaterialHint         `json:"materials"`
	Batches    []Batch                `json:"batch_numbers"`
	HeaderMemo string                 `json:"header_memo"`
	// DeclarationPage is the first page of a customs declaration or
	// contract appendix, 0 when absent.
	DeclarationPage int `json:"declaration_page"`
}

// PartyFields are the extracted fields of one role.
type PartyFields struct {
	Name           string `json:"name"`
	NameEnglish    string `json:"name_english"`
	Address        string `json:"address"`
	AddressEnglish string `json:"address_english"`
	Street         string `json:"address_street"`
	Country        string `json:"address_country_code"`
	CustomerCode   Text   `json:"customer_code"`

	// Unknown lists keys that were present but not recognized.
	Unknown []string `json:"-"`
}

var partyKeys = map[string]bool{
	"name":                 true,
	"name_english":         true,
	"address":              true,
	"address_english":      true,
	"address_street":       true,
	"address_country_code": true,
	"customer_code":        true,
}

func (p *PartyFields) UnmarshalJSON(data []byte) error {
	type plain PartyFields
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if !partyKeys[k] {
			v.Unknown = append(v.Unknown, k)
		}
	}
	sort.Strings(v.Unknown)
	*p = PartyFields(v)
	return nil
}

// Item is one extracted line.
type Item struct {
	Content     string  `json:"content"`
	Description string  `json:"description"`
	ProductCode string  `json:"product_code"`
	Confidence  float64 `json:"confidence"`
	// Pages the line was found on.
	Pages []int `json:"pages"`
}

// MaterialHint carries extracted material numbers for the line at Index.
type MaterialHint struct {
	Index           int      `json:"index"`
	MaterialNumbers []string `json:"materialNumbers"`
	ProductName     string   `json:"productName"`
}

// Batch is an extracted batch or lot number for the line at Index.
type Batch struct {
	Index int  `json:"index"`
	Batch Text `json:"batch"`
}

// party is a role's fields after fallbacks are applied.
type party struct {
	PartyFields
	TranslatedName string
}

// beforeDeclaration reports whether it appears on a page before the
// declaration. Lines without page information are kept.
func (it Item) beforeDeclaration(declarationPage int) bool {
	if declarationPage <= 0 || len(it.Pages) == 0 {
		return true
	}
	for _, p := range it.Pages {
		if p < declarationPage {
			return true
		}
	}
	return false
}

func knownRole(key string) (search.Role, bool) {
	r := search.Role(key)
	return r, r.Valid()
}
