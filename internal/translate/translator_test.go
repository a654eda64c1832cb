package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrivialTranslator(t *testing.T) {
	md := testMetadata(t, `
		"address": {"type": "object", "fields": {"city": {"type": "string"}}},
		"mail": {"type": "array", "items": {"type": "string"}}`)
	tr := NewTrivialTranslator(md)

	tests := []struct {
		path string
		attr string
	}{
		{"uid", "uid"},
		{"address.city", "city"},
		{"mail", "mail"},
		{"mail#", "mail#"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.attr, tr.FieldToAttribute(tt.path))
			assert.Equal(t, tt.path, tr.AttributeToField(tt.attr))
		})
	}

	assert.Equal(t, "address.city", tr.AttributeToField("CITY"))
	assert.Equal(t, "description", tr.AttributeToField("description"))
}

func TestMapTranslator_CountFollowsArray(t *testing.T) {
	md := testMetadata(t, `"phones": {"type": "array", "items": {"type": "string"}}`)

	tr, err := NewMapTranslator(md, map[string]string{"phones": "telephoneNumber"})
	require.NoError(t, err)

	assert.Equal(t, "telephoneNumber", tr.FieldToAttribute("phones"))
	assert.Equal(t, "telephoneNumber#", tr.FieldToAttribute("phones#"))
	assert.Equal(t, "phones", tr.AttributeToField("telephonenumber"))
	assert.Equal(t, "uid", tr.FieldToAttribute("uid"))
}
