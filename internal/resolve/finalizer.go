package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
	"github.com/fyrsmithlabs/ordermatch/internal/provider"
	"github.com/fyrsmithlabs/ordermatch/internal/scoring"
	"github.com/fyrsmithlabs/ordermatch/internal/search"
)

const (
	// MinViewScore is the vector score a candidate needs to be shown
	// to the model.
	MinViewScore = 0.64
	// CaseBThreshold is the similarity above which the model compares
	// only the strongest candidates.
	CaseBThreshold = 830
	// DefaultModel is the logical chat model for finalization.
	DefaultModel = "o3-mini-3"
)

// Chatter runs a JSON chat completion.
type Chatter interface {
	ChatJSON(ctx context.Context, req provider.ChatRequest, out interface{}) error
}

// Finalizer picks one candidate, or none, for every role.
type Finalizer struct {
	model  string
	logger *logging.Logger
}

// NewFinalizer returns a finalizer using model. An empty model uses
// DefaultModel.
func NewFinalizer(model string, logger *logging.Logger) *Finalizer {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Finalizer{model: model, logger: logger.Named("resolve")}
}

// Outcome is the result of Finalize.
type Outcome struct {
	Entities Entities
	// Errors holds per-role problems that did not stop resolution,
	// such as *BoundsError.
	Errors []error
}

// view is the reduced form of a Party sent to the model.
type view struct {
	Name              string           `json:"name"`
	TranslatedName    string           `json:"translatedName"`
	Address           string           `json:"address"`
	AddressEnglish    string           `json:"address_english"`
	TranslatedAddress string           `json:"translatedAddress"`
	Number            []scoring.Scored `json:"number"`
	Similarity        float64          `json:"similarity"`
	CustomerCode      string           `json:"customer_code"`
}

func newView(p Party) view {
	v := view{
		Name:              p.Name,
		TranslatedName:    p.TranslatedName,
		Address:           p.Address,
		AddressEnglish:    p.AddressEnglish,
		TranslatedAddress: p.TranslatedAddress,
		Number:            []scoring.Scored{},
	}
	if ValidCustomerCode(p.CustomerCode) {
		v.CustomerCode = strings.TrimSpace(p.CustomerCode)
	}
	seen := map[string]bool{}
	for _, c := range p.Candidates {
		if c.Score < MinViewScore {
			continue
		}
		key, err := json.Marshal(c)
		if err != nil || seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		v.Number = append(v.Number, c)
	}
	if len(v.Number) > 0 {
		v.Similarity = v.Number[0].Similarity
	}
	return v
}

// Finalize resolves every role in parties with a single model call. A
// valid customer code always wins. When the call fails, explicit codes
// are still applied and the error is returned alongside the outcome.
func (f *Finalizer) Finalize(ctx context.Context, chat Chatter, parties map[search.Role]Party) (Outcome, error) {
	ctx, span := otel.Tracer("ordermatch.resolve").Start(ctx, "resolve.Finalize")
	defer span.End()

	out := Outcome{Entities: Entities{}}
	views := make(map[search.Role]view, len(search.Roles))
	needModel := false
	for _, role := range search.Roles {
		v := newView(parties[role])
		views[role] = v
		out.Entities[role] = Entity{Role: role}
		if v.CustomerCode == "" && len(v.Number) > 0 {
			needModel = true
		}
	}

	var answer map[string]json.RawMessage
	var callErr error
	if needModel {
		callErr = f.ask(ctx, chat, views, &answer)
		if callErr != nil {
			f.logger.Warn(ctx, "finalizer call failed, roles left unresolved", zap.Error(callErr))
		}
	}

	for _, role := range search.Roles {
		v := views[role]
		if v.CustomerCode != "" {
			out.Entities[role] = Entity{Role: role, CustomerNumber: v.CustomerCode, Source: SourceExplicitCode}
			continue
		}
		raw, ok := answer[string(role)]
		if !ok {
			continue
		}
		ent, err := apply(role, raw, v, parties[role])
		if err != nil {
			roleCtx := logging.WithRole(ctx, string(role))
			f.logger.Warn(roleCtx, "ignoring finalizer selection", zap.Error(err))
			out.Errors = append(out.Errors, err)
			continue
		}
		if reason, ok := answer[string(role)+"_reason"]; ok {
			_ = json.Unmarshal(reason, &ent.Reason)
		}
		out.Entities[role] = ent
	}

	unify(out.Entities)
	return out, callErr
}

func (f *Finalizer) ask(ctx context.Context, chat Chatter, views map[search.Role]view, answer *map[string]json.RawMessage) error {
	payload := make(map[string]view, len(views))
	for role, v := range views {
		payload[string(role)] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling finalizer view: %w", err)
	}
	return chat.ChatJSON(ctx, provider.ChatRequest{
		Model: f.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: finalizerInstructions},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
	}, answer)
}

var errUnreadable = errors.New("unreadable selection")

// apply interprets one role's answer: false, a customer number above
// 1000, or an index into the view's candidates.
func apply(role search.Role, raw json.RawMessage, v view, p Party) (Entity, error) {
	ent := Entity{Role: role}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ent, fmt.Errorf("%s: %w: null", role, errUnreadable)
	}

	var b bool
	if err := json.Unmarshal(trimmed, &b); err == nil {
		if b {
			return ent, fmt.Errorf("%s: %w: true", role, errUnreadable)
		}
		var ref *scoring.Scored
		if len(p.Candidates) > 0 {
			top := p.Candidates[0]
			ref = &top
		}
		ent.Delete(ref)
		return ent, nil
	}

	n, err := selection(trimmed)
	if err != nil {
		return ent, fmt.Errorf("%s: %w: %s", role, errUnreadable, string(trimmed))
	}
	if n > 1000 {
		customer := strconv.Itoa(n)
		if !inSeries(role, customer) {
			return ent, &SeriesError{Role: role, Customer: customer}
		}
		ent.CustomerNumber = customer
		ent.Source = SourceRankedMatch
		for i := range v.Number {
			if v.Number[i].Customer == ent.CustomerNumber {
				m := v.Number[i]
				ent.Match = &m
				break
			}
		}
		return ent, nil
	}
	if n < 0 || n >= len(v.Number) {
		return ent, &BoundsError{Role: role, Index: n, Len: len(v.Number)}
	}
	m := v.Number[n]
	ent.CustomerNumber = m.Customer
	ent.Source = SourceRankedMatch
	ent.Match = &m
	return ent, nil
}

// inSeries reports whether customer is a valid customer number in one
// of the series searched for role.
func inSeries(role search.Role, customer string) bool {
	if !ValidCustomerCode(customer) {
		return false
	}
	n, err := strconv.ParseFloat(customer, 64)
	if err != nil {
		return false
	}
	series := search.SeriesOf(n)
	for _, s := range role.Series() {
		if s == series {
			return true
		}
	}
	return false
}

// maxSelection bounds numeric answers; larger values cannot be an
// index or a customer number.
const maxSelection = 1 << 31

// selection reads a whole number that may arrive as a JSON number or
// string. Fractional values are rejected.
func selection(raw []byte) (int, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f != math.Trunc(f) || math.Abs(f) >= maxSelection {
			return 0, fmt.Errorf("not an integer: %v", f)
		}
		return int(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

// unify copies ship_to onto consignee, or the reverse, when exactly one
// of them resolved.
func unify(es Entities) {
	ship, cons := es.Get(search.ShipTo), es.Get(search.Consignee)
	switch {
	case ship.Resolved() && !cons.Resolved():
		es[search.Consignee] = ship.copyTo(search.Consignee, SourceUnified)
	case cons.Resolved() && !ship.Resolved():
		es[search.ShipTo] = cons.copyTo(search.ShipTo, SourceUnified)
	}
}

const finalizerInstructions = `## Address Check

Each key (sold_to, ship_to, consignee) holds an extracted party and a "number" list of catalog candidates.
Evaluate every party independently, starting at Case A and moving on until a decision is made.

### Case A: customer_code present
If customer_code is not empty, answer with that customer number and stop.

### Case B: a candidate has similarity strictly above 830
- Ignore similarity values of 0.
- Consider only candidates whose similarity is above 830.
- Compare name or translatedName with the candidate name.
- Compare address or address_english with the candidate address and house.
- A completely different street name rules a candidate out.
- Answer with the index of the best candidate.

### Case C: no candidate above 830
- Pick a candidate only if both the name and the address are a close match.
- If several are close, choose the best one using name and address together.
- If none qualifies, answer false.

### Response format
Return a JSON object with, for each party, the 0-based index of the chosen candidate, the customer number from
Case A, or false, plus a short reason:

{
  "sold_to": 0,
  "sold_to_reason": "...",
  "ship_to": false,
  "ship_to_reason": "...",
  "consignee": 2,
  "consignee_reason": "..."
}
`
