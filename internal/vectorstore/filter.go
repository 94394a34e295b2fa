package vectorstore

import (
	"fmt"
	"sort"
	"strings"
)

// Op is a filter operator.
type Op string

const (
	OpEq  Op = "$eq"
	OpIn  Op = "$in"
	OpGte Op = "$gte"
	OpLt  Op = "$lt"
)

// Condition constrains one metadata field.
type Condition struct {
	Field string
	Op    Op
	// Value is a string, bool or number for $eq, a number for $gte/$lt,
	// and a []interface{} for $in.
	Value interface{}
}

// Filter is a conjunction of conditions.
type Filter []Condition

// Eq matches field == value.
func Eq(field string, value interface{}) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// In matches field against any of values.
func In(field string, values ...interface{}) Condition {
	return Condition{Field: field, Op: OpIn, Value: values}
}

// Gte matches field >= value.
func Gte(field string, value float64) Condition {
	return Condition{Field: field, Op: OpGte, Value: value}
}

// Lt matches field < value.
func Lt(field string, value float64) Condition {
	return Condition{Field: field, Op: OpLt, Value: value}
}

// And returns a new filter holding f's conditions followed by more.
func (f Filter) And(more ...Condition) Filter {
	out := make(Filter, 0, len(f)+len(more))
	out = append(out, f...)
	return append(out, more...)
}

// Validate rejects unknown operators and malformed operands.
func (f Filter) Validate() error {
	for _, c := range f {
		if c.Field == "" {
			return fmt.Errorf("%w: empty field", ErrInvalidFilter)
		}
		switch c.Op {
		case OpEq:
		case OpIn:
			if _, ok := c.Value.([]interface{}); !ok {
				return fmt.Errorf("%w: %s $in needs a list", ErrInvalidFilter, c.Field)
			}
		case OpGte, OpLt:
			if _, ok := toFloat(c.Value); !ok {
				return fmt.Errorf("%w: %s %s needs a number", ErrInvalidFilter, c.Field, c.Op)
			}
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, c.Op)
		}
	}
	return nil
}

// Matches evaluates f against metadata. It is used where a backend
// cannot express an operator natively.
func (f Filter) Matches(md Metadata) bool {
	for _, c := range f {
		if !c.matches(md) {
			return false
		}
	}
	return true
}

func (c Condition) matches(md Metadata) bool {
	switch c.Op {
	case OpEq:
		return valueEqual(md[c.Field], c.Value)
	case OpIn:
		list, _ := c.Value.([]interface{})
		for _, v := range list {
			if valueEqual(md[c.Field], v) {
				return true
			}
		}
		return false
	case OpGte, OpLt:
		got, ok := md.Float(c.Field)
		if !ok {
			return false
		}
		want, _ := toFloat(c.Value)
		if c.Op == OpGte {
			return got >= want
		}
		return got < want
	}
	return false
}

func valueEqual(stored, want interface{}) bool {
	if stored == nil {
		return false
	}
	if wb, ok := want.(bool); ok {
		return Metadata{"v": stored}.Bool("v") == wb
	}
	if wf, ok := toFloat(want); ok {
		if _, isString := want.(string); !isString {
			sf, ok := toFloat(stored)
			return ok && sf == wf
		}
	}
	return Metadata{"v": stored}.String("v") == Metadata{"v": want}.String("v")
}

// Pinecone renders f as a Pinecone metadata filter. Conditions on the
// same field share one operator object.
func (f Filter) Pinecone() map[string]interface{} {
	if len(f) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(f))
	for _, c := range f {
		ops, _ := out[c.Field].(map[string]interface{})
		if ops == nil {
			ops = map[string]interface{}{}
			out[c.Field] = ops
		}
		ops[string(c.Op)] = c.Value
	}
	return out
}

// String renders f for logs and span attributes.
func (f Filter) String() string {
	parts := make([]string, 0, len(f))
	for _, c := range f {
		parts = append(parts, fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, " AND ")
}
