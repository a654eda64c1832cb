package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-crud/internal/metadata"
)

const personMetadata = `{
	"entityInfo": {
		"name": "person",
		"datastore": {"backend": "ldap", "basedn": "ou=people,dc=example,dc=com", "uniqueattr": "uid"}
	},
	"schema": {
		"name": "person",
		"fields": {
			"uid": {"type": "string"},
			"objectType": {"type": "string"},
			"cn": {"type": "string"},
			"age": {"type": "integer"},
			"active": {"type": "boolean"},
			"birthday": {"type": "date"},
			"mail": {"type": "array", "items": {"type": "string"}},
			"address": {"type": "object", "fields": {
				"city": {"type": "string"},
				"geo": {"type": "object", "fields": {"lat": {"type": "double"}}}
			}}
		}
	}
}`

func personMD(t *testing.T) *metadata.EntityMetadata {
	t.Helper()

	md, err := metadata.Parse([]byte(personMetadata), nil)
	require.NoError(t, err)
	return md
}
