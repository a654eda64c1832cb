package translate

import (
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-crud/internal/metadata"
)

// Selection lists the fields a find emits, in metadata order, and which of
// them the caller named explicitly.
type Selection struct {
	Fields   []string
	Explicit map[string]bool
}

// Includes reports whether path is selected.
func (s Selection) Includes(path string) bool {
	return slices.Contains(s.Fields, path)
}

// ResultTranslator converts search entries of one entity into documents.
type ResultTranslator struct {
	md         *metadata.EntityMetadata
	translator FieldNameTranslator
	codec      Codec
}

func NewResultTranslator(md *metadata.EntityMetadata, translator FieldNameTranslator) *ResultTranslator {
	return &ResultTranslator{md: md, translator: translator}
}

// Attributes returns the LDAP attributes a search must request to satisfy sel.
func (r *ResultTranslator) Attributes(sel Selection) []string {
	var attrs []string
	add := func(attr string) {
		if !slices.ContainsFunc(attrs, func(a string) bool { return strings.EqualFold(a, attr) }) {
			attrs = append(attrs, attr)
		}
	}

	for _, path := range sel.Fields {
		if metadata.IsReserved(path) {
			continue
		}
		field, ok := r.md.Field(path)
		if !ok {
			continue
		}
		if field.IsCount() {
			add(r.translator.FieldToAttribute(field.CountOf))
		}
		if !field.Synthetic {
			add(r.translator.FieldToAttribute(path))
		}
	}

	if len(attrs) == 0 {
		// An empty list would request every user attribute
		attrs = append(attrs, "1.1")
	}
	return attrs
}

// Translate converts entry into a document holding the selected fields.
func (r *ResultTranslator) Translate(entry *ldap.Entry, sel Selection) (Document, error) {
	doc := make(Document)

	for _, path := range sel.Fields {
		switch path {
		case metadata.FieldDN:
			doc[metadata.FieldDN] = entry.DN
			continue
		case metadata.FieldObjectType:
			doc[metadata.FieldObjectType] = r.md.Name
			continue
		}

		field, ok := r.md.Field(path)
		if !ok {
			continue
		}

		value, present, err := r.fieldValue(entry, field)
		if err != nil {
			return nil, err
		}

		switch {
		case present:
			Set(doc, path, value)
		case sel.Explicit[path] && !field.IsCount():
			Set(doc, path, nil)
		case sel.Explicit[path]:
			Set(doc, path, 0)
		}

		// X# accompanies every emitted array
		if present && field.IsArray() && !sel.Includes(path+metadata.CountSuffix) {
			if _, declared := r.md.CountField(path); declared {
				Set(doc, path+metadata.CountSuffix, len(value.([]any)))
			}
		}
	}

	return doc, nil
}

func (r *ResultTranslator) fieldValue(entry *ldap.Entry, field *metadata.Field) (any, bool, error) {
	if field.IsCount() {
		if raw := r.rawValues(entry, field.CountOf); len(raw) > 0 {
			return len(raw), true, nil
		}
		if field.Synthetic {
			return nil, false, nil
		}
	}

	raw := r.rawValues(entry, field.Path)
	if len(raw) == 0 {
		return nil, false, nil
	}

	if !field.IsArray() {
		v, err := r.codec.Decode(field.Type, raw[0])
		if err != nil {
			return nil, false, withField(err, field.Path)
		}
		return v, true, nil
	}

	values := make([]any, 0, len(raw))
	for _, b := range raw {
		v, err := r.codec.Decode(field.Items, b)
		if err != nil {
			return nil, false, withField(err, field.Path)
		}
		values = append(values, v)
	}
	return values, true, nil
}

func (r *ResultTranslator) rawValues(entry *ldap.Entry, path string) [][]byte {
	return entry.GetEqualFoldRawAttributeValues(r.translator.FieldToAttribute(path))
}

// SortValue returns the decoded value used to order entries by path.
// Arrays order by their first element; absent values are nil.
func (r *ResultTranslator) SortValue(entry *ldap.Entry, path string) (any, error) {
	if path == metadata.FieldDN {
		return entry.DN, nil
	}

	field, ok := r.md.Field(path)
	if !ok {
		return nil, nil
	}

	v, present, err := r.fieldValue(entry, field)
	if err != nil || !present {
		return nil, err
	}

	switch t := v.(type) {
	case []any:
		return t[0], nil
	case int:
		return int64(t), nil
	}
	return v, nil
}
