package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-crud/internal/translate"
)

func TestFilterBuilder_Build(t *testing.T) {
	md := personMD(t)
	builder := NewFilterBuilder(md, translate.NewTrivialTranslator(md))

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"no query", ``, MatchAll},
		{"equality", `{"field": "uid", "op": "=", "rvalue": "jdoe"}`, "(uid=jdoe)"},
		{"inequality", `{"field": "uid", "op": "!=", "rvalue": "jdoe"}`, "(!(uid=jdoe))"},
		{"less or equal", `{"field": "age", "op": "<=", "rvalue": 30}`, "(age<=30)"},
		{"greater or equal", `{"field": "age", "op": ">=", "rvalue": 30}`, "(age>=30)"},
		{"less than", `{"field": "age", "op": "<", "rvalue": 30}`, "(&(age=*)(!(age>=30)))"},
		{"greater than", `{"field": "age", "op": ">", "rvalue": 30}`, "(&(age=*)(!(age<=30)))"},
		{"boolean", `{"field": "active", "op": "=", "rvalue": true}`, "(active=true)"},
		{"date", `{"field": "birthday", "op": "=", "rvalue": "2024-01-02T03:04:05.000+0000"}`, "(birthday=20240102030405.000Z)"},
		{"array element", `{"field": "mail", "op": "=", "rvalue": "a@example.com"}`, "(mail=a@example.com)"},
		{"nested field", `{"field": "address.city", "op": "=", "rvalue": "Raleigh"}`, "(city=Raleigh)"},
		{"escaped value", `{"field": "cn", "op": "=", "rvalue": "a(b)*\\"}`, `(cn=a\28b\29\2a\5c)`},
		{"in", `{"field": "uid", "op": "$in", "values": ["a", "b"]}`, "(|(uid=a)(uid=b))"},
		{"in single", `{"field": "uid", "op": "$in", "values": ["a"]}`, "(uid=a)"},
		{"in empty", `{"field": "uid", "op": "$in", "values": []}`, MatchNone},
		{"nin", `{"field": "uid", "op": "$nin", "values": ["a", "b"]}`, "(!(|(uid=a)(uid=b)))"},
		{"nin empty", `{"field": "uid", "op": "$nin", "values": []}`, MatchAll},
		{"exists", `{"field": "mail", "exists": true}`, "(mail=*)"},
		{"not exists", `{"field": "mail", "exists": false}`, "(!(mail=*))"},
		{"regex contains", `{"field": "cn", "regex": "doe"}`, "(cn=*doe*)"},
		{"regex anchored", `{"field": "cn", "regex": "^J.*e$"}`, "(cn=J*e)"},
		{"regex exact", `{"field": "cn", "regex": "^John$"}`, "(cn=John)"},
		{"regex prefix", `{"field": "uid", "regex": "^j.*"}`, "(uid=j*)"},
		{"regex escaped literal", `{"field": "cn", "regex": "a\\.b\\*"}`, `(cn=*a.b\2a*)`},
		{"regex any", `{"field": "cn", "regex": ".*"}`, "(cn=*)"},
		{"and", `{"$and": [{"field": "uid", "op": "=", "rvalue": "a"}, {"field": "active", "op": "=", "rvalue": false}]}`, "(&(uid=a)(active=false))"},
		{"or single collapses", `{"$or": [{"field": "uid", "op": "=", "rvalue": "a"}]}`, "(uid=a)"},
		{"empty and", `{"$and": []}`, MatchAll},
		{"empty or", `{"$or": []}`, MatchNone},
		{"not", `{"$not": {"field": "uid", "op": "=", "rvalue": "a"}}`, "(!(uid=a))"},
		{"objectType matches", `{"field": "objectType", "op": "=", "rvalue": "person"}`, MatchAll},
		{"objectType differs", `{"field": "objectType", "op": "=", "rvalue": "group"}`, MatchNone},
		{"objectType in", `{"field": "objectType", "op": "$in", "values": ["group", "person"]}`, MatchAll},
		{"objectType regex", `{"field": "objectType", "regex": "^pers"}`, MatchAll},
		{
			"objectType combined",
			`{"$and": [{"field": "objectType", "op": "=", "rvalue": "person"}, {"field": "uid", "op": "=", "rvalue": "a"}]}`,
			"(&(objectClass=*)(uid=a))",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse([]byte(tt.query))
			require.NoError(t, err)

			got, err := builder.Build(q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterBuilder_Build_Errors(t *testing.T) {
	md := personMD(t)
	builder := NewFilterBuilder(md, translate.NewTrivialTranslator(md))

	tests := []struct {
		name    string
		query   string
		wantErr error
	}{
		{"unknown field", `{"field": "nope", "op": "=", "rvalue": "a"}`, ErrInvalidQuery},
		{"dn", `{"field": "dn", "op": "=", "rvalue": "uid=a"}`, ErrInvalidQuery},
		{"array count", `{"field": "mail#", "op": "=", "rvalue": 2}`, ErrUnsupported},
		{"regex metacharacters", `{"field": "cn", "regex": "a+b"}`, ErrUnsupported},
		{"regex on integer", `{"field": "age", "regex": "^4"}`, ErrUnsupported},
		{"regex empty string only", `{"field": "cn", "regex": "^$"}`, ErrUnsupported},
		{"objectType non-string", `{"field": "objectType", "op": "=", "rvalue": 1}`, ErrInvalidQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse([]byte(tt.query))
			require.NoError(t, err)

			_, err = builder.Build(q)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFilterBuilder_Build_EncodingError(t *testing.T) {
	md := personMD(t)
	builder := NewFilterBuilder(md, translate.NewTrivialTranslator(md))

	q, err := Parse([]byte(`{"field": "age", "op": "=", "rvalue": "old"}`))
	require.NoError(t, err)

	_, err = builder.Build(q)

	var encErr *translate.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "age", encErr.Field)
}

func TestFilterBuilder_Build_MapTranslator(t *testing.T) {
	md := personMD(t)
	translator, err := translate.NewMapTranslator(md, map[string]string{"address.city": "l", "cn": "commonName"})
	require.NoError(t, err)
	builder := NewFilterBuilder(md, translator)

	q, err := Parse([]byte(`{"$or": [{"field": "address.city", "op": "=", "rvalue": "Raleigh"}, {"field": "cn", "exists": true}]}`))
	require.NoError(t, err)

	got, err := builder.Build(q)
	require.NoError(t, err)
	assert.Equal(t, "(|(l=Raleigh)(commonName=*))", got)
}
