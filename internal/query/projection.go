package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/isometry/ldap-crud/internal/metadata"
	"github.com/isometry/ldap-crud/internal/translate"
)

// ProjectionItem includes or excludes a field, a field pattern ending in
// ".*", or "*" for every top-level field.
type ProjectionItem struct {
	Field     string `json:"field"`
	Include   *bool  `json:"include"`
	Recursive bool   `json:"recursive"`
}

func (p ProjectionItem) included() bool {
	return p.Include == nil || *p.Include
}

// Projection is an ordered list of items. Later items override earlier ones.
type Projection []ProjectionItem

// ParseProjection decodes a single item or an array of items. An empty or
// null document yields a nil projection, which selects every field.
func ParseProjection(data []byte) (Projection, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var p Projection
	if data[0] == '[' {
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: projection: %w", ErrInvalidQuery, err)
		}
	} else {
		var item ProjectionItem
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, fmt.Errorf("%w: projection: %w", ErrInvalidQuery, err)
		}
		p = Projection{item}
	}

	for _, item := range p {
		if item.Field == "" {
			return nil, fmt.Errorf("%w: projection item has no field", ErrInvalidQuery)
		}
	}
	return p, nil
}

// Fields returns the concrete field paths the projection names.
func (p Projection) Fields() []string {
	var fields []string
	for _, item := range p {
		if item.Field != "*" && !strings.HasSuffix(item.Field, ".*") {
			fields = append(fields, item.Field)
		}
	}
	return fields
}

// Resolve selects fields of md. Fields named exactly by an including item
// are explicit and are emitted as null when absent.
func (p Projection) Resolve(md *metadata.EntityMetadata) translate.Selection {
	paths := []string{metadata.FieldDN}
	if _, declared := md.Field(metadata.FieldObjectType); !declared {
		paths = append(paths, metadata.FieldObjectType)
	}
	for _, f := range md.Fields() {
		paths = append(paths, f.Path)
	}

	sel := translate.Selection{Explicit: map[string]bool{}}
	if p == nil {
		sel.Fields = paths
		return sel
	}

	for _, path := range paths {
		field, _ := md.Field(path)

		included, explicit := false, false
		for _, item := range p {
			if !item.matches(path, field) {
				continue
			}
			included = item.included()
			explicit = included && item.Field == path
		}

		if included {
			sel.Fields = append(sel.Fields, path)
			if explicit {
				sel.Explicit[path] = true
			}
		}
	}
	return sel
}

func (p ProjectionItem) matches(path string, field *metadata.Field) bool {
	switch {
	case p.Field == path:
		return true
	case p.Field == "*":
		return p.Recursive || !strings.Contains(path, ".")
	case strings.HasSuffix(p.Field, ".*"):
		prefix := strings.TrimSuffix(p.Field, "*")
		rest, ok := strings.CutPrefix(path, prefix)
		return ok && (p.Recursive || !strings.Contains(rest, "."))
	case strings.HasPrefix(path, p.Field+"."):
		// Naming an object selects its members
		return true
	case field != nil && field.IsCount() && field.CountOf == p.Field:
		return true
	}
	return false
}
