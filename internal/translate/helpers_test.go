package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-crud/internal/metadata"
)

const testBaseDN = "dc=example,dc=com"

// testMetadata parses metadata for entity "test" with a string uid field and
// the given extra field definitions (a JSON object body without braces).
func testMetadata(t *testing.T, fields string) *metadata.EntityMetadata {
	t.Helper()

	if fields != "" {
		fields = ", " + fields
	}
	raw := fmt.Sprintf(`{
		"entityInfo": {
			"name": "test",
			"datastore": {"backend": "ldap", "basedn": %q, "uniqueattr": "uid"}
		},
		"schema": {
			"name": "test",
			"fields": {"uid": {"type": "string"}%s}
		}
	}`, testBaseDN, fields)

	md, err := metadata.Parse([]byte(raw), nil)
	require.NoError(t, err)
	return md
}

// testDocument decodes JSON the way requests are decoded.
func testDocument(t *testing.T, raw string) Document {
	t.Helper()

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var doc Document
	require.NoError(t, dec.Decode(&doc))
	return doc
}
