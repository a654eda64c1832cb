package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidQuery wraps every query, sort and projection parse failure.
var ErrInvalidQuery = errors.New("invalid query")

// Query is a node of the query expression tree.
type Query interface {
	// Fields returns the field paths the expression refers to.
	Fields() []string
}

// Op is a binary comparison operator.
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

var opAliases = map[string]Op{
	"=": OpEq, "$eq": OpEq,
	"!=": OpNeq, "$neq": OpNeq, "$ne": OpNeq,
	"<": OpLt, "$lt": OpLt,
	"<=": OpLte, "$lte": OpLte,
	">": OpGt, "$gt": OpGt,
	">=": OpGte, "$gte": OpGte,
}

// Comparison is {field, op, rvalue}.
type Comparison struct {
	Field string
	Op    Op
	Value any
}

func (c *Comparison) Fields() []string { return []string{c.Field} }

// In is {field, op: $in|$nin, values}.
type In struct {
	Field  string
	Values []any
	Negate bool
}

func (q *In) Fields() []string { return []string{q.Field} }

// Regex is {field, regex}. Only literal patterns with optional anchors and
// .* wildcards are supported.
type Regex struct {
	Field   string
	Pattern string
}

func (q *Regex) Fields() []string { return []string{q.Field} }

// Exists is {field, exists}.
type Exists struct {
	Field  string
	Exists bool
}

func (q *Exists) Fields() []string { return []string{q.Field} }

// And matches when every operand matches.
type And struct {
	Queries []Query
}

func (q *And) Fields() []string { return collectFields(q.Queries) }

// Or matches when any operand matches.
type Or struct {
	Queries []Query
}

func (q *Or) Fields() []string { return collectFields(q.Queries) }

// Not negates its operand.
type Not struct {
	Query Query
}

func (q *Not) Fields() []string { return q.Query.Fields() }

func collectFields(queries []Query) []string {
	var fields []string
	for _, q := range queries {
		for _, f := range q.Fields() {
			if !slices.Contains(fields, f) {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

type rawQuery struct {
	Field  *string           `json:"field"`
	Op     string            `json:"op"`
	RValue json.RawMessage   `json:"rvalue"`
	Values []json.RawMessage `json:"values"`
	Regex  *string           `json:"regex"`
	Exists *bool             `json:"exists"`
	And    []json.RawMessage `json:"$and"`
	All    []json.RawMessage `json:"$all"`
	Or     []json.RawMessage `json:"$or"`
	Any    []json.RawMessage `json:"$any"`
	Not    json.RawMessage   `json:"$not"`
}

// Parse decodes a query expression. An empty or null document yields a nil
// query, which matches every entry.
func Parse(data []byte) (Query, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	return parseNode(data)
}

func parseNode(data []byte) (Query, error) {
	var raw rawQuery
	if err := decodeJSON(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	switch {
	case raw.And != nil || raw.All != nil:
		queries, err := parseNodes(append(raw.And, raw.All...))
		if err != nil {
			return nil, err
		}
		return &And{Queries: queries}, nil

	case raw.Or != nil || raw.Any != nil:
		queries, err := parseNodes(append(raw.Or, raw.Any...))
		if err != nil {
			return nil, err
		}
		return &Or{Queries: queries}, nil

	case raw.Not != nil:
		operand, err := parseNode(raw.Not)
		if err != nil {
			return nil, err
		}
		return &Not{Query: operand}, nil
	}

	if raw.Field == nil || *raw.Field == "" {
		return nil, fmt.Errorf("%w: expression has no field", ErrInvalidQuery)
	}
	field := *raw.Field

	switch {
	case raw.Regex != nil:
		return &Regex{Field: field, Pattern: *raw.Regex}, nil

	case raw.Exists != nil:
		return &Exists{Field: field, Exists: *raw.Exists}, nil

	case raw.Op == "$in" || raw.Op == "$nin":
		values := make([]any, 0, len(raw.Values))
		for _, v := range raw.Values {
			value, err := decodeValue(v)
			if err != nil {
				return nil, err
			}
			values = append(values, value)
		}
		return &In{Field: field, Values: values, Negate: raw.Op == "$nin"}, nil
	}

	op, ok := opAliases[raw.Op]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, raw.Op)
	}
	if len(raw.RValue) == 0 {
		return nil, fmt.Errorf("%w: comparison on %s has no rvalue", ErrInvalidQuery, field)
	}

	value, err := decodeValue(raw.RValue)
	if err != nil {
		return nil, err
	}
	return &Comparison{Field: field, Op: op, Value: value}, nil
}

func parseNodes(items []json.RawMessage) ([]Query, error) {
	queries := make([]Query, 0, len(items))
	for _, item := range items {
		q, err := parseNode(item)
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, nil
}

func decodeValue(data json.RawMessage) (any, error) {
	var v any
	if err := decodeJSON(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return v, nil
}

// decodeJSON keeps numbers as json.Number so large values survive.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
