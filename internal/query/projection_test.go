package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjection_Resolve(t *testing.T) {
	md := personMD(t)

	all := []string{"dn", "active", "address.city", "address.geo.lat", "age", "birthday", "cn", "mail", "mail#", "objectType", "uid"}

	tests := []struct {
		name         string
		projection   string
		wantFields   []string
		wantExplicit map[string]bool
	}{
		{
			name:         "none selects everything",
			projection:   ``,
			wantFields:   all,
			wantExplicit: map[string]bool{},
		},
		{
			name:         "single field",
			projection:   `{"field": "uid"}`,
			wantFields:   []string{"uid"},
			wantExplicit: map[string]bool{"uid": true},
		},
		{
			name:         "top-level wildcard",
			projection:   `{"field": "*", "include": true}`,
			wantFields:   []string{"dn", "active", "age", "birthday", "cn", "mail", "mail#", "objectType", "uid"},
			wantExplicit: map[string]bool{},
		},
		{
			name:         "recursive wildcard",
			projection:   `[{"field": "*", "include": true, "recursive": true}]`,
			wantFields:   all,
			wantExplicit: map[string]bool{},
		},
		{
			name:         "later exclusion wins",
			projection:   `[{"field": "*", "recursive": true}, {"field": "address", "include": false}, {"field": "mail", "include": false}]`,
			wantFields:   []string{"dn", "active", "age", "birthday", "cn", "objectType", "uid"},
			wantExplicit: map[string]bool{},
		},
		{
			name:         "object wildcard",
			projection:   `{"field": "address.*"}`,
			wantFields:   []string{"address.city"},
			wantExplicit: map[string]bool{},
		},
		{
			name:         "recursive object wildcard",
			projection:   `{"field": "address.*", "recursive": true}`,
			wantFields:   []string{"address.city", "address.geo.lat"},
			wantExplicit: map[string]bool{},
		},
		{
			name:         "object name selects members",
			projection:   `{"field": "address"}`,
			wantFields:   []string{"address.city", "address.geo.lat"},
			wantExplicit: map[string]bool{},
		},
		{
			name:         "array brings its count",
			projection:   `[{"field": "mail"}, {"field": "dn"}]`,
			wantFields:   []string{"dn", "mail", "mail#"},
			wantExplicit: map[string]bool{"mail": true, "dn": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProjection([]byte(tt.projection))
			require.NoError(t, err)

			sel := p.Resolve(md)
			assert.Equal(t, tt.wantFields, sel.Fields)
			assert.Equal(t, tt.wantExplicit, sel.Explicit)
		})
	}
}

func TestParseProjection_Errors(t *testing.T) {
	for _, input := range []string{
		`{"include": true}`,
		`[{"field": "uid"}, {"field": ""}]`,
		`"uid"`,
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseProjection([]byte(input))
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestProjection_Fields(t *testing.T) {
	p, err := ParseProjection([]byte(`[{"field": "*"}, {"field": "uid"}, {"field": "address.*"}, {"field": "cn", "include": false}]`))
	require.NoError(t, err)

	assert.Equal(t, []string{"uid", "cn"}, p.Fields())
}
