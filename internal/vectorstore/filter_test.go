package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Pinecone(t *testing.T) {
	f := Filter{
		In("country", "hk", "HK"),
		Gte("customer", 2000000),
		Lt("customer", 3000000),
	}
	got := f.Pinecone()
	assert.Equal(t, map[string]interface{}{
		"country":  map[string]interface{}{"$in": []interface{}{"hk", "HK"}},
		"customer": map[string]interface{}{"$gte": float64(2000000), "$lt": float64(3000000)},
	}, got)

	assert.Nil(t, Filter(nil).Pinecone())
}

func TestFilter_Validate(t *testing.T) {
	tests := []struct {
		name    string
		filter  Filter
		wantErr bool
	}{
		{name: "empty", filter: nil},
		{name: "eq string", filter: Filter{Eq("material", "12345")}},
		{name: "range", filter: Filter{Gte("customer", 1), Lt("customer", 2)}},
		{name: "empty field", filter: Filter{Eq("", "x")}, wantErr: true},
		{name: "unknown op", filter: Filter{{Field: "a", Op: "$ne", Value: 1}}, wantErr: true},
		{name: "in without list", filter: Filter{{Field: "a", Op: OpIn, Value: "x"}}, wantErr: true},
		{name: "gte with string", filter: Filter{{Field: "a", Op: OpGte, Value: "abc"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFilter)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilter_Matches(t *testing.T) {
	// chromem returns every metadata value as a string
	md := Metadata{"customer": "2000123", "country": "HK", "international": "true", "material": "12345"}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "no conditions", filter: nil, want: true},
		{name: "in hit", filter: Filter{In("country", "hk", "HK")}, want: true},
		{name: "in miss", filter: Filter{In("country", "cn")}, want: false},
		{name: "series 2", filter: Filter{Gte("customer", 2000000), Lt("customer", 3000000)}, want: true},
		{name: "series 1", filter: Filter{Gte("customer", 1000000), Lt("customer", 2000000)}, want: false},
		{name: "bool eq", filter: Filter{Eq("international", true)}, want: true},
		{name: "bool eq false", filter: Filter{Eq("international", false)}, want: false},
		{name: "numeric eq", filter: Filter{Eq("customer", 2000123)}, want: true},
		{name: "string eq", filter: Filter{Eq("material", "12345")}, want: true},
		{name: "missing field", filter: Filter{Eq("name1", "x")}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(md))
		})
	}
}

func TestFilter_And(t *testing.T) {
	base := Filter{Eq("a", "1")}
	f := base.And(Eq("b", "2"))
	require.Len(t, f, 2)
	assert.Len(t, base, 1, "And must not mutate the receiver")
	assert.Equal(t, "a $eq 1 AND b $eq 2", f.String())
}

func TestMetadata_Accessors(t *testing.T) {
	md := Metadata{
		"f":    float64(1000001),
		"i":    int64(42),
		"s":    "12.5",
		"b":    true,
		"bs":   "false",
		"name": "ACME",
	}
	assert.Equal(t, "1000001", md.String("f"))
	assert.Equal(t, "42", md.String("i"))
	assert.Equal(t, "", md.String("missing"))

	v, ok := md.Float("s")
	assert.True(t, ok)
	assert.Equal(t, 12.5, v)
	_, ok = md.Float("name")
	assert.False(t, ok)

	assert.True(t, md.Bool("b"))
	assert.False(t, md.Bool("bs"))
	assert.False(t, md.Bool("missing"))
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero(ZeroVector(4)))
	assert.False(t, IsZero([]float32{0, 0, 0.1}))
}
