package metadata

import (
	"slices"
	"strings"
)

// Reserved field names.
const (
	FieldDN         = "dn"
	FieldObjectType = "objectType"

	// CountSuffix marks the array-count companion of an array field.
	CountSuffix = "#"

	// BackendLDAP is the only datastore backend this adapter serves.
	BackendLDAP = "ldap"
)

// Well-known roles.
const (
	RoleAnyone = "anyone"
	RoleNoone  = "noone"
)

// FieldType is the declared type tag of a field.
type FieldType string

const (
	TypeString     FieldType = "string"
	TypeInteger    FieldType = "integer"
	TypeBigInteger FieldType = "biginteger"
	TypeBigDecimal FieldType = "bigdecimal"
	TypeDouble     FieldType = "double"
	TypeBoolean    FieldType = "boolean"
	TypeUID        FieldType = "uid"
	TypeDate       FieldType = "date"
	TypeBinary     FieldType = "binary"
	TypeObjectType FieldType = "objectType"
	TypeArray      FieldType = "array"
	TypeObject     FieldType = "object"
)

// IsScalar reports whether values of the type map to a single attribute value.
func (t FieldType) IsScalar() bool {
	switch t {
	case TypeString, TypeInteger, TypeBigInteger, TypeBigDecimal, TypeDouble,
		TypeBoolean, TypeUID, TypeDate, TypeBinary:
		return true
	default:
		return false
	}
}

// Operation is a CRUD operation subject to access control.
type Operation string

const (
	OpFind   Operation = "find"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Access maps operations to the roles allowed to perform them.
type Access map[Operation][]string

// Roles returns the roles for op. Undeclared operations are open to anyone.
func (a Access) Roles(op Operation) []string {
	roles, ok := a[op]
	if !ok || len(roles) == 0 {
		return []string{RoleAnyone}
	}
	return roles
}

// Allows reports whether any of the caller roles may perform op.
func (a Access) Allows(op Operation, callerRoles []string) bool {
	roles := a.Roles(op)
	if slices.Contains(roles, RoleNoone) {
		return false
	}
	if slices.Contains(roles, RoleAnyone) {
		return true
	}
	for _, r := range callerRoles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

// Field is a declared leaf of the entity field tree: a scalar or an array of
// scalars. Object fields only contribute their dotted path prefix.
type Field struct {
	Path     string    // Dotted path from the document root
	Name     string    // Leaf name
	Type     FieldType // Scalar type, or TypeArray
	Items    FieldType // Element type for arrays
	Required bool
	Access   Access

	// CountOf names the array whose cardinality this field reports. It is
	// empty for ordinary fields, including a declared X# without array X.
	CountOf string

	// Synthetic marks a count field added by the parser, never written.
	Synthetic bool
}

// IsArray reports whether the field holds multiple values.
func (f *Field) IsArray() bool {
	return f.Type == TypeArray
}

// ValueType returns the scalar type of the field or of its elements.
func (f *Field) ValueType() FieldType {
	if f.IsArray() {
		return f.Items
	}
	return f.Type
}

// IsCount reports whether the field is the count companion of an array.
func (f *Field) IsCount() bool {
	return f.CountOf != ""
}

// Datastore describes where entities live in the directory.
type Datastore struct {
	Backend       string
	BaseDN        string
	UniqueAttr    string // Field whose value names the entry under BaseDN
	ObjectClasses []string
}

// EntityMetadata is the immutable, parsed metadata of one entity.
type EntityMetadata struct {
	Name      string
	Datastore Datastore
	Access    Access

	fields []*Field
	byPath map[string]*Field
}

// Fields returns the declared leaf fields in path order.
func (m *EntityMetadata) Fields() []*Field {
	return m.fields
}

// Field looks up a leaf field by dotted path.
func (m *EntityMetadata) Field(path string) (*Field, bool) {
	f, ok := m.byPath[path]
	return f, ok
}

// UIDField returns the field used to name entries.
func (m *EntityMetadata) UIDField() string {
	return m.Datastore.UniqueAttr
}

// CountField returns the count companion of an array field.
func (m *EntityMetadata) CountField(arrayPath string) (*Field, bool) {
	f, ok := m.byPath[arrayPath+CountSuffix]
	if !ok || f.CountOf != arrayPath {
		return nil, false
	}
	return f, true
}

// IsReserved reports whether path is a reserved name outside the field tree.
func IsReserved(path string) bool {
	return path == FieldDN || path == FieldObjectType
}

// LeafName returns the last segment of a dotted path.
func LeafName(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}
