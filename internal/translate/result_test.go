package translate

import (
	"encoding/json"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-crud/internal/metadata"
)

const personFields = `
	"objectType": {"type": "objectType"},
	"cn": {"type": "string", "constraints": {"required": true}},
	"sn": {"type": "string"},
	"age": {"type": "integer"},
	"active": {"type": "boolean"},
	"birthday": {"type": "date"},
	"photo": {"type": "binary"},
	"mail": {"type": "array", "items": {"type": "string"}},
	"address": {"type": "object", "fields": {"city": {"type": "string"}}}`

func fullSelection(md *metadata.EntityMetadata) Selection {
	sel := Selection{Fields: []string{metadata.FieldDN}}
	for _, f := range md.Fields() {
		sel.Fields = append(sel.Fields, f.Path)
	}
	return sel
}

func TestResultTranslator_RoundTrip(t *testing.T) {
	md := testMetadata(t, personFields)
	translator := NewTrivialTranslator(md)

	input := `{
		"uid": "jdoe",
		"objectType": "test",
		"cn": "John Doe",
		"sn": "Doe",
		"age": 42,
		"active": true,
		"birthday": "1980-05-06T07:08:09.010+0000",
		"photo": "dGVzdCBiaW5hcnkgZGF0YQ==",
		"mail": ["jdoe@example.com", "john@example.com"],
		"mail#": 2,
		"address": {"city": "Raleigh"}
	}`

	entry, err := NewEntryBuilder(md, translator).Build(testBaseDN, testDocument(t, input))
	require.NoError(t, err)

	doc, err := NewResultTranslator(md, translator).Translate(entry, fullSelection(md))
	require.NoError(t, err)

	got, err := json.Marshal(doc)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"dn": "uid=jdoe,dc=example,dc=com",
		"uid": "jdoe",
		"objectType": "test",
		"cn": "John Doe",
		"sn": "Doe",
		"age": 42,
		"active": true,
		"birthday": "1980-05-06T07:08:09.010+0000",
		"photo": "dGVzdCBiaW5hcnkgZGF0YQ==",
		"mail": ["jdoe@example.com", "john@example.com"],
		"mail#": 2,
		"address": {"city": "Raleigh"}
	}`, string(got))
}

func TestResultTranslator_Translate(t *testing.T) {
	md := testMetadata(t, personFields)
	results := NewResultTranslator(md, NewTrivialTranslator(md))

	entry := &ldap.Entry{
		DN: "uid=jdoe,dc=example,dc=com",
		Attributes: []*ldap.EntryAttribute{
			ldap.NewEntryAttribute("uid", []string{"jdoe"}),
			ldap.NewEntryAttribute("CN", []string{"John Doe"}),
			ldap.NewEntryAttribute("mail", []string{"a@example.com", "b@example.com", "c@example.com"}),
		},
	}

	tests := []struct {
		name string
		sel  Selection
		want string
	}{
		{
			name: "array emits its count",
			sel:  Selection{Fields: []string{"mail"}},
			want: `{"mail": ["a@example.com", "b@example.com", "c@example.com"], "mail#": 3}`,
		},
		{
			name: "count alone",
			sel:  Selection{Fields: []string{"mail#"}},
			want: `{"mail#": 3}`,
		},
		{
			name: "attribute names match case-insensitively",
			sel:  Selection{Fields: []string{"cn"}},
			want: `{"cn": "John Doe"}`,
		},
		{
			name: "missing optional field omitted",
			sel:  Selection{Fields: []string{"uid", "sn"}},
			want: `{"uid": "jdoe"}`,
		},
		{
			name: "missing explicit field is null",
			sel:  Selection{Fields: []string{"uid", "sn", "address.city"}, Explicit: map[string]bool{"sn": true, "address.city": true}},
			want: `{"uid": "jdoe", "sn": null, "address": {"city": null}}`,
		},
		{
			name: "reserved fields",
			sel:  Selection{Fields: []string{"dn", "objectType"}},
			want: `{"dn": "uid=jdoe,dc=example,dc=com", "objectType": "test"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := results.Translate(entry, tt.sel)
			require.NoError(t, err)

			got, err := json.Marshal(doc)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestResultTranslator_TranslateDecodeError(t *testing.T) {
	md := testMetadata(t, personFields)
	results := NewResultTranslator(md, NewTrivialTranslator(md))

	entry := ldap.NewEntry("uid=jdoe,dc=example,dc=com", map[string][]string{"age": {"old"}})

	_, err := results.Translate(entry, Selection{Fields: []string{"age"}})

	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "age", encErr.Field)
}

func TestResultTranslator_Attributes(t *testing.T) {
	md := testMetadata(t, personFields)
	results := NewResultTranslator(md, NewTrivialTranslator(md))

	assert.Equal(t, []string{"uid", "mail", "city"},
		results.Attributes(Selection{Fields: []string{"dn", "uid", "mail", "mail#", "address.city", "objectType"}}))
	assert.Equal(t, []string{"mail"}, results.Attributes(Selection{Fields: []string{"mail#"}}))
	assert.Equal(t, []string{"1.1"}, results.Attributes(Selection{Fields: []string{"dn"}}))
}

func TestResultTranslator_SortValue(t *testing.T) {
	md := testMetadata(t, personFields)
	results := NewResultTranslator(md, NewTrivialTranslator(md))

	entry := ldap.NewEntry("uid=jdoe,dc=example,dc=com", map[string][]string{
		"age":  {"42"},
		"mail": {"b@example.com", "a@example.com"},
	})

	v, err := results.SortValue(entry, "age")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = results.SortValue(entry, "mail")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", v)

	v, err = results.SortValue(entry, "sn")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = results.SortValue(entry, "dn")
	require.NoError(t, err)
	assert.Equal(t, "uid=jdoe,dc=example,dc=com", v)
}

func TestLookupAndSet(t *testing.T) {
	doc := Document{}
	Set(doc, "a.b.c", 1)
	Set(doc, "a.d", nil)

	v, ok := Lookup(doc, "a.b.c")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = Lookup(doc, "a.d")
	assert.False(t, ok)

	_, ok = Lookup(doc, "a.b.c.d")
	assert.False(t, ok)
}

func TestRemoveAndClone(t *testing.T) {
	doc := Document{"a": map[string]any{"b": 1, "c": []any{"x"}}, "d": 2}
	clone := Clone(doc)

	Remove(clone, "a.b")
	Remove(clone, "d")
	Remove(clone, "missing.path")
	clone["a"].(map[string]any)["c"].([]any)[0] = "y"

	assert.Equal(t, Document{"a": map[string]any{"c": []any{"y"}}}, clone)
	assert.Equal(t, Document{"a": map[string]any{"b": 1, "c": []any{"x"}}, "d": 2}, doc)
}
