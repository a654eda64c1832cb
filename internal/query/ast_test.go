package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Query
	}{
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:  "null",
			input: "null",
			want:  nil,
		},
		{
			name:  "comparison",
			input: `{"field": "uid", "op": "=", "rvalue": "jdoe"}`,
			want:  &Comparison{Field: "uid", Op: OpEq, Value: "jdoe"},
		},
		{
			name:  "operator alias keeps numbers exact",
			input: `{"field": "age", "op": "$gte", "rvalue": 12345678901234567890}`,
			want:  &Comparison{Field: "age", Op: OpGte, Value: json.Number("12345678901234567890")},
		},
		{
			name:  "nin",
			input: `{"field": "uid", "op": "$nin", "values": ["a", "b"]}`,
			want:  &In{Field: "uid", Values: []any{"a", "b"}, Negate: true},
		},
		{
			name:  "regex",
			input: `{"field": "cn", "regex": "^J.*"}`,
			want:  &Regex{Field: "cn", Pattern: "^J.*"},
		},
		{
			name:  "exists",
			input: `{"field": "mail", "exists": false}`,
			want:  &Exists{Field: "mail", Exists: false},
		},
		{
			name:  "nested logic",
			input: `{"$and": [{"field": "uid", "op": "!=", "rvalue": "x"}, {"$not": {"$any": [{"field": "active", "op": "=", "rvalue": true}]}}]}`,
			want: &And{Queries: []Query{
				&Comparison{Field: "uid", Op: OpNeq, Value: "x"},
				&Not{Query: &Or{Queries: []Query{&Comparison{Field: "active", Op: OpEq, Value: true}}}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{
		`{"op": "=", "rvalue": 1}`,
		`{"field": "uid", "op": "~", "rvalue": 1}`,
		`{"field": "uid", "op": "="}`,
		`{"$and": [{"field": "uid"}]}`,
		`[1, 2]`,
		`{"field": `,
	} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse([]byte(input))
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestQuery_Fields(t *testing.T) {
	q, err := Parse([]byte(`{"$or": [
		{"field": "uid", "op": "=", "rvalue": "a"},
		{"$and": [{"field": "cn", "regex": "x"}, {"field": "uid", "exists": true}]}
	]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"uid", "cn"}, q.Fields())
}
