package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ordermatch/internal/provider"
	"github.com/fyrsmithlabs/ordermatch/internal/scoring"
	"github.com/fyrsmithlabs/ordermatch/internal/search"
)

type fakeChat struct {
	answer string
	err    error
	calls  int
	last   provider.ChatRequest
}

func (f *fakeChat) ChatJSON(_ context.Context, req provider.ChatRequest, out interface{}) error {
	f.calls++
	f.last = req
	if f.err != nil {
		return f.err
	}
	return provider.DecodeJSON(f.answer, out)
}

func candidates(customers ...string) []scoring.Scored {
	out := make([]scoring.Scored, len(customers))
	for i, c := range customers {
		out[i] = scoring.Scored{Name: "cand " + c, Customer: c, Score: 0.9, Similarity: 900}
	}
	return out
}

func TestValidCustomerCode(t *testing.T) {
	assert.True(t, ValidCustomerCode("1000001"))
	assert.True(t, ValidCustomerCode(" 2999999 "))
	assert.False(t, ValidCustomerCode("3000001"))
	assert.False(t, ValidCustomerCode("100001"))
	assert.False(t, ValidCustomerCode("10000012"))
	assert.False(t, ValidCustomerCode("PO-1000001"))
}

func TestNewView(t *testing.T) {
	dup := scoring.Scored{Name: "A", Customer: "1000001", Score: 0.7}
	v := newView(Party{
		CustomerCode: "abc",
		Candidates: []scoring.Scored{
			dup,
			{Name: "Low", Customer: "1000002", Score: 0.63},
			dup,
			{Name: "A", Customer: "1000001", Score: 0.7, House: "12"},
		},
	})
	assert.Empty(t, v.CustomerCode)
	require.Len(t, v.Number, 2)
	assert.Equal(t, "", v.Number[0].House)
	assert.Equal(t, "12", v.Number[1].House)

	body, err := json.Marshal(newView(Party{}))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"number":[]`)
}

func TestFinalize_ExplicitCodeWins(t *testing.T) {
	chat := &fakeChat{answer: `{"sold_to": 0, "ship_to": false, "consignee": 0}`}
	f := NewFinalizer("", nil)
	out, err := f.Finalize(context.Background(), chat, map[search.Role]Party{
		search.SoldTo:    {CustomerCode: "1234567", Candidates: candidates("1000001")},
		search.ShipTo:    {Candidates: candidates("2000001")},
		search.Consignee: {Candidates: candidates("2000002")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, chat.calls)
	assert.Equal(t, DefaultModel, chat.last.Model)

	sold := out.Entities[search.SoldTo]
	assert.Equal(t, "1234567", sold.CustomerNumber)
	assert.Equal(t, SourceExplicitCode, sold.Source)
}

func TestFinalize_SkipsModelWhenNothingToDecide(t *testing.T) {
	chat := &fakeChat{}
	out, err := NewFinalizer("", nil).Finalize(context.Background(), chat, map[search.Role]Party{
		search.SoldTo: {CustomerCode: "1000001"},
		search.ShipTo: {Candidates: []scoring.Scored{{Customer: "2000001", Score: 0.1}}},
	})
	require.NoError(t, err)
	assert.Zero(t, chat.calls)
	assert.True(t, out.Entities[search.SoldTo].Resolved())
	assert.False(t, out.Entities[search.ShipTo].Resolved())
}

func TestFinalize_Selections(t *testing.T) {
	chat := &fakeChat{answer: `{
		"sold_to": "1",
		"sold_to_reason": "name and street match",
		"ship_to": 2000009,
		"consignee": false
	}`}
	out, err := NewFinalizer("", nil).Finalize(context.Background(), chat, map[search.Role]Party{
		search.SoldTo:    {Candidates: candidates("1000001", "1000002")},
		search.ShipTo:    {Candidates: candidates("2000001", "2000009")},
		search.Consignee: {Candidates: candidates("2000005")},
	})
	require.NoError(t, err)
	require.Empty(t, out.Errors)

	sold := out.Entities[search.SoldTo]
	assert.Equal(t, "1000002", sold.CustomerNumber)
	assert.Equal(t, SourceRankedMatch, sold.Source)
	assert.Equal(t, "name and street match", sold.Reason)
	require.NotNil(t, sold.Match)
	assert.Equal(t, "cand 1000002", sold.Match.Name)

	ship := out.Entities[search.ShipTo]
	assert.Equal(t, "2000009", ship.CustomerNumber)
	require.NotNil(t, ship.Match)

	// consignee was rejected, so it is unified from ship_to.
	cons := out.Entities[search.Consignee]
	assert.Equal(t, "2000009", cons.CustomerNumber)
	assert.Equal(t, SourceUnified, cons.Source)
	assert.Equal(t, search.Consignee, cons.Role)
}

func TestFinalize_FalseDeletesWithReference(t *testing.T) {
	chat := &fakeChat{answer: `{"sold_to": false, "ship_to": false, "consignee": false}`}
	out, err := NewFinalizer("", nil).Finalize(context.Background(), chat, map[search.Role]Party{
		search.SoldTo: {Candidates: candidates("1000001")},
	})
	require.NoError(t, err)
	sold := out.Entities[search.SoldTo]
	assert.True(t, sold.Deleted)
	assert.Empty(t, sold.CustomerNumber)
	require.NotNil(t, sold.Match)
	assert.Equal(t, "1000001", sold.Match.Customer)

	ship := out.Entities[search.ShipTo]
	assert.True(t, ship.Deleted)
	assert.Nil(t, ship.Match)
}

func TestFinalize_BoundsErrorKeepsPriorAndSiblings(t *testing.T) {
	chat := &fakeChat{answer: `{"sold_to": 5, "ship_to": 0, "consignee": -1}`}
	out, err := NewFinalizer("", nil).Finalize(context.Background(), chat, map[search.Role]Party{
		search.SoldTo:    {Candidates: candidates("1000001")},
		search.ShipTo:    {Candidates: candidates("2000001")},
		search.Consignee: {Candidates: candidates("2000002")},
	})
	require.NoError(t, err)
	require.Len(t, out.Errors, 2)

	var be *BoundsError
	require.True(t, errors.As(out.Errors[0], &be))
	assert.Equal(t, search.SoldTo, be.Role)
	assert.Equal(t, 5, be.Index)
	assert.Equal(t, 1, be.Len)

	assert.False(t, out.Entities[search.SoldTo].Resolved())
	assert.False(t, out.Entities[search.SoldTo].Deleted)
	assert.Equal(t, "2000001", out.Entities[search.ShipTo].CustomerNumber)
	assert.Equal(t, SourceUnified, out.Entities[search.Consignee].Source)
}

func TestFinalize_CustomerNumberMustMatchSeries(t *testing.T) {
	chat := &fakeChat{answer: `{"sold_to": 2000001, "ship_to": 5000, "consignee": 1000003}`}
	out, err := NewFinalizer("", nil).Finalize(context.Background(), chat, map[search.Role]Party{
		search.SoldTo:    {Candidates: candidates("1000001")},
		search.ShipTo:    {Candidates: candidates("2000001")},
		search.Consignee: {Candidates: candidates("2000002")},
	})
	require.NoError(t, err)
	require.Len(t, out.Errors, 3)

	var se *SeriesError
	require.True(t, errors.As(out.Errors[0], &se))
	assert.Equal(t, search.SoldTo, se.Role)
	assert.Equal(t, "2000001", se.Customer)
	require.True(t, errors.As(out.Errors[1], &se))
	assert.Equal(t, "5000", se.Customer)
	require.True(t, errors.As(out.Errors[2], &se))
	assert.Equal(t, search.Consignee, se.Role)

	for _, role := range search.Roles {
		assert.False(t, out.Entities[role].Resolved(), role)
		assert.False(t, out.Entities[role].Deleted, role)
	}
}

func TestFinalize_CustomerNumberInSeries(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		role   search.Role
		want   string
	}{
		{"sold_to series 1", `{"sold_to": 1000042}`, search.SoldTo, "1000042"},
		{"ship_to series 2", `{"ship_to": 2000042}`, search.ShipTo, "2000042"},
		{"ship_to falls back to series 1", `{"ship_to": "1000042"}`, search.ShipTo, "1000042"},
		{"consignee series 2", `{"consignee": 2000042}`, search.Consignee, "2000042"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{answer: tt.answer}
			out, err := NewFinalizer("", nil).Finalize(context.Background(), chat, map[search.Role]Party{
				tt.role: {Candidates: candidates("1000001")},
			})
			require.NoError(t, err)
			assert.Empty(t, out.Errors)
			assert.Equal(t, tt.want, out.Entities[tt.role].CustomerNumber)
			assert.Equal(t, SourceRankedMatch, out.Entities[tt.role].Source)
		})
	}
}

func TestFinalize_FractionalIndexIsUnreadable(t *testing.T) {
	chat := &fakeChat{answer: `{"sold_to": 0.9, "ship_to": 1e12}`}
	out, err := NewFinalizer("", nil).Finalize(context.Background(), chat, map[search.Role]Party{
		search.SoldTo: {Candidates: candidates("1000001")},
		search.ShipTo: {Candidates: candidates("2000001")},
	})
	require.NoError(t, err)
	require.Len(t, out.Errors, 2)
	for _, e := range out.Errors {
		assert.ErrorIs(t, e, errUnreadable)
	}
	assert.False(t, out.Entities[search.SoldTo].Resolved())
	assert.False(t, out.Entities[search.ShipTo].Resolved())
}

func TestSelection(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{`2`, 2, false},
		{`"3"`, 3, false},
		{`2.0`, 2, false},
		{`0.9`, 0, true},
		{`"0.9"`, 0, true},
		{`1e12`, 0, true},
		{`"first"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := selection([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFinalize_ChatFailureKeepsExplicitCodes(t *testing.T) {
	chat := &fakeChat{err: provider.ErrProviderUnavailable}
	out, err := NewFinalizer("", nil).Finalize(context.Background(), chat, map[search.Role]Party{
		search.SoldTo: {CustomerCode: "1000007"},
		search.ShipTo: {Candidates: candidates("2000001")},
	})
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Equal(t, "1000007", out.Entities[search.SoldTo].CustomerNumber)
	assert.False(t, out.Entities[search.ShipTo].Resolved())
}

func TestFinalize_MalformedResponse(t *testing.T) {
	chat := &fakeChat{answer: "I think the first one"}
	out, err := NewFinalizer("", nil).Finalize(context.Background(), chat, map[search.Role]Party{
		search.SoldTo: {Candidates: candidates("1000001")},
	})
	assert.ErrorIs(t, err, provider.ErrMalformedResponse)
	assert.False(t, out.Entities[search.SoldTo].Resolved())
}

func TestFinalize_UnreadableRoleIsAbsent(t *testing.T) {
	chat := &fakeChat{answer: `{"sold_to": null, "ship_to": "first"}`}
	out, err := NewFinalizer("", nil).Finalize(context.Background(), chat, map[search.Role]Party{
		search.SoldTo: {Candidates: candidates("1000001")},
		search.ShipTo: {Candidates: candidates("2000001")},
	})
	require.NoError(t, err)
	assert.Len(t, out.Errors, 2)
	assert.False(t, out.Entities[search.SoldTo].Deleted)
	assert.False(t, out.Entities[search.ShipTo].Resolved())
}

func TestUnify(t *testing.T) {
	es := Entities{
		search.Consignee: {Role: search.Consignee, CustomerNumber: "2000003", Source: SourceRankedMatch},
	}
	unify(es)
	ship := es[search.ShipTo]
	assert.Equal(t, "2000003", ship.CustomerNumber)
	assert.Equal(t, search.ShipTo, ship.Role)
	assert.Equal(t, SourceUnified, ship.Source)

	both := Entities{
		search.ShipTo:    {Role: search.ShipTo, CustomerNumber: "2000001"},
		search.Consignee: {Role: search.Consignee, CustomerNumber: "2000002"},
	}
	unify(both)
	assert.Equal(t, "2000002", both[search.Consignee].CustomerNumber)
}

type partnerMap map[string][]string

func (p partnerMap) Partners(customer string) []string { return p[customer] }

func TestApplyPartnerFunction(t *testing.T) {
	table := partnerMap{
		"2000001": {"2000001", "1000042"},
		"2000002": {"1000001", "1000002"},
	}

	es := Entities{search.ShipTo: {Role: search.ShipTo, CustomerNumber: "2000001"}}
	assert.True(t, ApplyPartnerFunction(es, table))
	assert.Equal(t, "1000042", es[search.SoldTo].CustomerNumber)
	assert.Equal(t, SourcePartnerFunction, es[search.SoldTo].Source)

	ambiguous := Entities{search.ShipTo: {Role: search.ShipTo, CustomerNumber: "2000002"}}
	assert.False(t, ApplyPartnerFunction(ambiguous, table))

	resolved := Entities{
		search.ShipTo: {Role: search.ShipTo, CustomerNumber: "2000001"},
		search.SoldTo: {Role: search.SoldTo, CustomerNumber: "1000099"},
	}
	assert.False(t, ApplyPartnerFunction(resolved, table))
	assert.Equal(t, "1000099", resolved[search.SoldTo].CustomerNumber)

	assert.False(t, ApplyPartnerFunction(es, nil))
}

func TestPromoteShipTo(t *testing.T) {
	es := Entities{
		search.SoldTo: {Role: search.SoldTo, Deleted: true},
		search.ShipTo: {Role: search.ShipTo, CustomerNumber: "1000005", Source: SourceRankedMatch},
	}
	assert.True(t, PromoteShipTo(es))
	sold := es[search.SoldTo]
	assert.Equal(t, "1000005", sold.CustomerNumber)
	assert.Equal(t, SourcePromoted, sold.Source)
	assert.False(t, sold.Deleted)

	series2 := Entities{search.ShipTo: {Role: search.ShipTo, CustomerNumber: "2000005"}}
	assert.False(t, PromoteShipTo(series2))
}
