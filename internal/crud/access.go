package crud

import (
	"slices"

	"github.com/isometry/ldap-crud/internal/metadata"
	"github.com/isometry/ldap-crud/internal/translate"
)

// AccessChecker decides which fields of an entity a caller may touch.
type AccessChecker struct {
	md *metadata.EntityMetadata
}

func NewAccessChecker(md *metadata.EntityMetadata) *AccessChecker {
	return &AccessChecker{md: md}
}

// Permitted reports whether roles may perform op on the entity at all.
func (a *AccessChecker) Permitted(op metadata.Operation, roles []string) bool {
	return a.md.Access.Allows(op, roles)
}

// FieldPermitted reports whether roles may perform op on the field at path.
// Count fields share the access of their array. dn and objectType are always
// readable.
func (a *AccessChecker) FieldPermitted(op metadata.Operation, path string, roles []string) bool {
	if op == metadata.OpFind && metadata.IsReserved(path) {
		return true
	}

	field, ok := a.md.Field(path)
	if !ok {
		return true
	}
	if field.IsCount() {
		if array, ok := a.md.Field(field.CountOf); ok {
			field = array
		}
	}
	return field.Access.Allows(op, roles)
}

// Forbidden returns the fields present in doc that roles may not write with
// op, in metadata order. Count fields are covered by their array.
func (a *AccessChecker) Forbidden(op metadata.Operation, doc translate.Document, roles []string) []string {
	var denied []string
	for _, field := range a.md.Fields() {
		if field.Path == metadata.FieldObjectType {
			continue
		}
		if _, present := translate.Lookup(doc, field.Path); !present {
			continue
		}

		path := field.Path
		if field.IsCount() {
			path = field.CountOf
		}
		if !a.FieldPermitted(op, path, roles) && !slices.Contains(denied, path) {
			denied = append(denied, path)
		}
	}
	return denied
}

// Strip removes denied fields and their count companions from doc.
func (a *AccessChecker) Strip(doc translate.Document, denied []string) {
	for _, path := range denied {
		translate.Remove(doc, path)
		if _, ok := a.md.CountField(path); ok {
			translate.Remove(doc, path+metadata.CountSuffix)
		}
	}
}

// FirstForbidden returns the first of paths roles may not read, if any.
func (a *AccessChecker) FirstForbidden(paths []string, roles []string) (string, bool) {
	for _, path := range paths {
		if !a.FieldPermitted(metadata.OpFind, path, roles) {
			return path, true
		}
	}
	return "", false
}

// FilterSelection drops the fields roles may not read.
func (a *AccessChecker) FilterSelection(sel translate.Selection, roles []string) translate.Selection {
	filtered := translate.Selection{Explicit: sel.Explicit}
	for _, path := range sel.Fields {
		if a.FieldPermitted(metadata.OpFind, path, roles) {
			filtered.Fields = append(filtered.Fields, path)
		}
	}
	return filtered
}
