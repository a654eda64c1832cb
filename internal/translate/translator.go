package translate

import (
	"fmt"
	"strings"

	"github.com/isometry/ldap-crud/internal/metadata"
)

// FieldNameTranslator maps document field paths to LDAP attribute names and
// back. Implementations must be safe for concurrent use.
type FieldNameTranslator interface {
	FieldToAttribute(path string) string
	AttributeToField(attr string) string
}

// TrivialTranslator uses the leaf name of a field as its attribute name.
type TrivialTranslator struct {
	fields map[string]string // lowercased attribute -> path
}

// NewTrivialTranslator indexes the declared fields of md so attributes can be
// mapped back to nested paths.
func NewTrivialTranslator(md *metadata.EntityMetadata) *TrivialTranslator {
	t := &TrivialTranslator{fields: make(map[string]string)}
	if md == nil {
		return t
	}
	for _, f := range md.Fields() {
		key := strings.ToLower(f.Name)
		if _, taken := t.fields[key]; !taken {
			t.fields[key] = f.Path
		}
	}
	return t
}

func (t *TrivialTranslator) FieldToAttribute(path string) string {
	return metadata.LeafName(path)
}

func (t *TrivialTranslator) AttributeToField(attr string) string {
	if path, ok := t.fields[strings.ToLower(attr)]; ok {
		return path
	}
	return attr
}

// MapTranslator applies explicit field to attribute mappings and falls back
// to the trivial translation. Count fields follow their array: X# maps to A#
// when X maps to A.
type MapTranslator struct {
	fallback *TrivialTranslator
	toAttr   map[string]string
	toField  map[string]string // lowercased attribute -> path
}

// NewMapTranslator validates that mapping is injective over the declared
// fields and never targets a reserved name.
func NewMapTranslator(md *metadata.EntityMetadata, mapping map[string]string) (*MapTranslator, error) {
	t := &MapTranslator{
		fallback: NewTrivialTranslator(md),
		toAttr:   make(map[string]string, len(mapping)),
		toField:  make(map[string]string),
	}
	for path, attr := range mapping {
		if attr == "" {
			return nil, fmt.Errorf("field %s maps to an empty attribute", path)
		}
		t.toAttr[path] = attr
	}

	for _, f := range md.Fields() {
		attr := t.FieldToAttribute(f.Path)
		key := strings.ToLower(attr)
		if isReservedAttribute(attr) {
			if f.Path == metadata.FieldObjectType {
				continue
			}
			return nil, &IllegalFieldError{Field: f.Path, Attribute: attr}
		}
		if other, taken := t.toField[key]; taken {
			return nil, &DuplicateAttributeError{Attribute: attr, Fields: []string{other, f.Path}}
		}
		t.toField[key] = f.Path
	}

	return t, nil
}

func (t *MapTranslator) FieldToAttribute(path string) string {
	if attr, ok := t.toAttr[path]; ok {
		return attr
	}
	if base, ok := strings.CutSuffix(path, metadata.CountSuffix); ok {
		if attr, ok := t.toAttr[base]; ok {
			return attr + metadata.CountSuffix
		}
	}
	return t.fallback.FieldToAttribute(path)
}

func (t *MapTranslator) AttributeToField(attr string) string {
	if path, ok := t.toField[strings.ToLower(attr)]; ok {
		return path
	}
	return t.fallback.AttributeToField(attr)
}

// isReservedAttribute reports whether attr collides with dn or objectType.
func isReservedAttribute(attr string) bool {
	return strings.EqualFold(attr, metadata.FieldDN) || strings.EqualFold(attr, metadata.FieldObjectType)
}
