package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Index is a queryable vector index.
type Index interface {
	Query(ctx context.Context, req QueryRequest) ([]Match, error)
	Close() error
}

// QueryRequest is one similarity query.
type QueryRequest struct {
	// Index is the Pinecone index, Qdrant collection or chromem collection.
	Index string
	// Namespace partitions a Pinecone index; other backends ignore it.
	Namespace string
	Vector    []float32
	TopK      int
	Filter    Filter
}

// Validate checks the request shape.
func (r QueryRequest) Validate() error {
	if r.Index == "" {
		return fmt.Errorf("%w: index name required", ErrInvalidConfig)
	}
	if r.TopK <= 0 {
		return fmt.Errorf("%w: topK must be positive, got %d", ErrQueryFailed, r.TopK)
	}
	if len(r.Vector) == 0 {
		return fmt.Errorf("%w: vector required", ErrQueryFailed)
	}
	return nil
}

// Match is one point returned by a query, as stored.
type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// Metadata is a point's payload. Backends differ in how they type
// values (Pinecone numbers arrive as float64, chromem stores strings),
// so callers read through the typed accessors.
type Metadata map[string]interface{}

// String returns the value at key rendered as a string, or "".
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// Float returns the value at key as a number.
func (m Metadata) Float(key string) (float64, bool) {
	return toFloat(m[key])
}

// Bool returns the value at key as a boolean. Missing values are false.
func (m Metadata) Bool(key string) bool {
	switch val := m[key].(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(val))
		return b
	case float64:
		return val != 0
	case int64:
		return val != 0
	case int:
		return val != 0
	}
	return false
}

// IsZero reports whether vec has no non-zero component.
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// ZeroVector returns a vector of dims zeros, used for filter-only
// point lookups.
func ZeroVector(dims int) []float32 {
	return make([]float32, dims)
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}
