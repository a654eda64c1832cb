package crud

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-crud/internal/metadata"
	"github.com/isometry/ldap-crud/internal/translate"
)

func departmentAccess(t *testing.T) *AccessChecker {
	t.Helper()
	md, ok := testRegistry(t).Get("department")
	require.True(t, ok)
	return NewAccessChecker(md)
}

func TestAccessChecker_Permitted(t *testing.T) {
	access := departmentAccess(t)

	assert.True(t, access.Permitted(metadata.OpFind, nil))
	assert.True(t, access.Permitted(metadata.OpInsert, []string{"user"}))
	assert.False(t, access.Permitted(metadata.OpDelete, []string{"user"}))
	assert.True(t, access.Permitted(metadata.OpDelete, []string{"user", "admin"}))
}

func TestAccessChecker_FieldPermitted(t *testing.T) {
	access := departmentAccess(t)

	tests := []struct {
		name  string
		op    metadata.Operation
		path  string
		roles []string
		want  bool
	}{
		{name: "open field", op: metadata.OpUpdate, path: "description", want: true},
		{name: "restricted field", op: metadata.OpFind, path: "member", roles: []string{"user"}, want: false},
		{name: "restricted field with role", op: metadata.OpFind, path: "member", roles: []string{"admin"}, want: true},
		{name: "count follows array", op: metadata.OpFind, path: "member#", roles: []string{"user"}, want: false},
		{name: "dn is readable", op: metadata.OpFind, path: metadata.FieldDN, want: true},
		{name: "objectType is readable", op: metadata.OpFind, path: metadata.FieldObjectType, want: true},
		{name: "unknown field", op: metadata.OpFind, path: "unknown", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, access.FieldPermitted(tt.op, tt.path, tt.roles))
		})
	}
}

func TestAccessChecker_ForbiddenAndStrip(t *testing.T) {
	access := departmentAccess(t)

	doc := translate.Document{
		"cn":      "Engineering",
		"member#": 1,
		"member":  []any{"uid=jdoe," + peopleDN},
	}

	denied := access.Forbidden(metadata.OpInsert, doc, []string{"user"})
	assert.Equal(t, []string{"member"}, denied)

	access.Strip(doc, denied)
	assert.Equal(t, translate.Document{"cn": "Engineering"}, doc)

	assert.Empty(t, access.Forbidden(metadata.OpInsert, translate.Document{"member#": 0}, []string{"admin"}))
	assert.Equal(t, []string{"member"}, access.Forbidden(metadata.OpUpdate, translate.Document{"member#": 0}, nil))
}

func TestAccessChecker_FirstForbidden(t *testing.T) {
	access := departmentAccess(t)

	path, denied := access.FirstForbidden([]string{"cn", "member", "member#"}, []string{"user"})
	assert.True(t, denied)
	assert.Equal(t, "member", path)

	_, denied = access.FirstForbidden([]string{"cn", "member"}, []string{"admin"})
	assert.False(t, denied)
}

func TestAccessChecker_FilterSelection(t *testing.T) {
	access := departmentAccess(t)

	sel := translate.Selection{
		Fields:   []string{"dn", "cn", "member", "member#"},
		Explicit: map[string]bool{"member": true},
	}

	filtered := access.FilterSelection(sel, []string{"user"})
	assert.Equal(t, []string{"dn", "cn"}, filtered.Fields)

	filtered = access.FilterSelection(sel, []string{"admin"})
	assert.Equal(t, sel.Fields, filtered.Fields)
}
