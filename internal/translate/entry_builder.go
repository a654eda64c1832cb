package translate

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/ldap-crud/internal/ldap"
	"github.com/isometry/ldap-crud/internal/metadata"
)

// AttributeObjectClass is the LDAP attribute holding an entry's object classes.
const AttributeObjectClass = "objectClass"

// EntryBuilder converts documents of one entity into LDAP entries.
type EntryBuilder struct {
	md         *metadata.EntityMetadata
	translator FieldNameTranslator
	codec      Codec
}

func NewEntryBuilder(md *metadata.EntityMetadata, translator FieldNameTranslator) *EntryBuilder {
	return &EntryBuilder{md: md, translator: translator}
}

// Build converts doc into an entry under parentDN. The entity's configured
// object classes are merged into the objectClass attribute.
func (b *EntryBuilder) Build(parentDN string, doc Document) (*ldap.Entry, error) {
	if err := b.checkAttributes(); err != nil {
		return nil, err
	}

	dn, err := b.resolveDN(parentDN, doc)
	if err != nil {
		return nil, err
	}

	attributes := make(map[string][]string)

	for _, field := range b.md.Fields() {
		if field.Path == metadata.FieldObjectType || field.Synthetic {
			continue
		}

		value, present := Lookup(doc, field.Path)

		if field.IsCount() {
			if err := b.checkCount(field, doc, value, present, attributes); err != nil {
				return nil, err
			}
			continue
		}

		if !present {
			if field.Required {
				return nil, &RequiredError{Field: field.Path}
			}
			continue
		}

		values, err := b.encodeField(field, value)
		if err != nil {
			return nil, err
		}
		if len(values) > 0 {
			attributes[b.translator.FieldToAttribute(field.Path)] = values
		}
	}

	b.mergeObjectClasses(attributes)

	return ldap.NewEntry(dn, attributes), nil
}

// checkAttributes detects reserved and colliding attribute names after
// translation.
func (b *EntryBuilder) checkAttributes() error {
	seen := make(map[string]string)
	for _, field := range b.md.Fields() {
		if field.Path == metadata.FieldObjectType || field.Synthetic {
			continue
		}

		attr := b.translator.FieldToAttribute(field.Path)
		if isReservedAttribute(attr) {
			return &IllegalFieldError{Field: field.Path, Attribute: attr}
		}

		key := strings.ToLower(attr)
		if other, ok := seen[key]; ok {
			return &DuplicateAttributeError{Attribute: attr, Fields: []string{other, field.Path}}
		}
		seen[key] = field.Path
	}
	return nil
}

// resolveDN prefers the document's dn and cross-checks it against the DN
// computed from the unique field when both are available.
func (b *EntryBuilder) resolveDN(parentDN string, doc Document) (string, error) {
	var explicit string
	if v, ok := doc[metadata.FieldDN]; ok && v != nil {
		s, ok := v.(string)
		if !ok || s == "" {
			return "", &EncodingError{Field: metadata.FieldDN, Type: metadata.TypeString, Value: v, Err: errTypeMismatch}
		}
		if err := ldapclient.ValidateDN(s); err != nil {
			return "", &EncodingError{Field: metadata.FieldDN, Type: metadata.TypeString, Value: v, Err: err}
		}
		explicit = s
	}

	computed, err := b.ComputeDN(parentDN, doc)
	if err != nil {
		var missing *MissingDNError
		if explicit != "" && errors.As(err, &missing) {
			return explicit, nil
		}
		return "", err
	}

	if explicit == "" {
		return computed, nil
	}

	equal, err := ldapclient.EqualDN(explicit, computed)
	if err != nil {
		return "", err
	}
	if !equal {
		return "", &DNConflictError{DN: explicit, Computed: computed}
	}
	return explicit, nil
}

// ComputeDN builds <uidAttr>=<uid>,<parentDN> from the unique field.
func (b *EntryBuilder) ComputeDN(parentDN string, doc Document) (string, error) {
	uidPath := b.md.UIDField()
	if uidPath == "" {
		return "", &MissingDNError{}
	}

	field, ok := b.md.Field(uidPath)
	if !ok {
		return "", &MissingDNError{UIDField: uidPath}
	}

	value, present := Lookup(doc, uidPath)
	if !present {
		return "", &MissingDNError{UIDField: uidPath}
	}

	encoded, err := b.codec.Encode(field.ValueType(), value)
	if err != nil {
		return "", withField(err, uidPath)
	}

	return ldapclient.ChildDN(b.translator.FieldToAttribute(uidPath), encoded, parentDN), nil
}

// checkCount handles a count field X#. With X in the document the count is
// only verified; otherwise a present count is written as an integer.
func (b *EntryBuilder) checkCount(field *metadata.Field, doc Document, value any, present bool, attributes map[string][]string) error {
	array, arrayPresent := Lookup(doc, field.CountOf)
	if arrayPresent {
		if !present {
			return nil
		}
		elements, ok := array.([]any)
		if !ok {
			return nil // reported when the array itself is encoded
		}
		count, err := toInt64(value)
		if err != nil {
			return &EncodingError{Field: field.Path, Type: metadata.TypeInteger, Value: value, Err: err}
		}
		if count != int64(len(elements)) {
			return &EncodingError{
				Field: field.Path,
				Type:  metadata.TypeInteger,
				Value: value,
				Err:   fmt.Errorf("%w: %d != %d", ErrCountMismatch, count, len(elements)),
			}
		}
		return nil
	}

	if !present {
		if field.Required {
			return &RequiredError{Field: field.Path}
		}
		return nil
	}

	encoded, err := b.codec.Encode(metadata.TypeInteger, value)
	if err != nil {
		return withField(err, field.Path)
	}
	attributes[b.translator.FieldToAttribute(field.Path)] = []string{encoded}
	return nil
}

func (b *EntryBuilder) encodeField(field *metadata.Field, value any) ([]string, error) {
	if !field.IsArray() {
		encoded, err := b.codec.Encode(field.Type, value)
		if err != nil {
			return nil, withField(err, field.Path)
		}
		return []string{encoded}, nil
	}

	elements, ok := value.([]any)
	if !ok {
		return nil, &EncodingError{Field: field.Path, Type: metadata.TypeArray, Value: value, Err: errTypeMismatch}
	}

	values := make([]string, 0, len(elements))
	for _, element := range elements {
		encoded, err := b.codec.Encode(field.Items, element)
		if err != nil {
			return nil, withField(err, field.Path)
		}
		values = append(values, encoded)
	}
	return values, nil
}

func (b *EntryBuilder) mergeObjectClasses(attributes map[string][]string) {
	if len(b.md.Datastore.ObjectClasses) == 0 {
		return
	}

	key := AttributeObjectClass
	for attr := range attributes {
		if strings.EqualFold(attr, AttributeObjectClass) {
			key = attr
			break
		}
	}

	classes := attributes[key]
	for _, oc := range b.md.Datastore.ObjectClasses {
		if !slices.ContainsFunc(classes, func(existing string) bool { return strings.EqualFold(existing, oc) }) {
			classes = append(classes, oc)
		}
	}
	attributes[key] = classes
}

// withField records the field path on an EncodingError.
func withField(err error, path string) error {
	var encErr *EncodingError
	if errors.As(err, &encErr) && encErr.Field == "" {
		encErr.Field = path
	}
	return err
}
