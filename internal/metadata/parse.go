package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrInvalidMetadata wraps every metadata parse and validation failure.
var ErrInvalidMetadata = errors.New("invalid metadata")

type rawMetadata struct {
	EntityInfo struct {
		Name      string `json:"name"`
		Datastore struct {
			Backend       string   `json:"backend"`
			BaseDN        string   `json:"basedn"`
			UniqueAttr    string   `json:"uniqueattr"`
			ObjectClasses []string `json:"objectClasses"`
		} `json:"datastore"`
	} `json:"entityInfo"`
	Schema struct {
		Name   string               `json:"name"`
		Access map[string][]string  `json:"access"`
		Fields map[string]*rawField `json:"fields"`
	} `json:"schema"`
}

type rawField struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Constraints *struct {
		Required bool `json:"required"`
	} `json:"constraints"`
	Items  *rawField            `json:"items"`
	Fields map[string]*rawField `json:"fields"`
	Access map[string][]string  `json:"access"`
}

func (r *rawField) required() bool {
	return r.Required || (r.Constraints != nil && r.Constraints.Required)
}

// Parse decodes entity metadata JSON. ${key} placeholders in datastore
// values are replaced from values.
func Parse(data []byte, values map[string]string) (*EntityMetadata, error) {
	var raw rawMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}

	name := raw.EntityInfo.Name
	if name == "" {
		name = raw.Schema.Name
	}
	if name == "" {
		return nil, fmt.Errorf("%w: entity name is required", ErrInvalidMetadata)
	}
	if raw.Schema.Name != "" && raw.Schema.Name != name {
		return nil, fmt.Errorf("%w: schema name %q does not match entity %q", ErrInvalidMetadata, raw.Schema.Name, name)
	}

	ds := raw.EntityInfo.Datastore
	datastore := Datastore{Backend: ds.Backend}
	var err error
	if datastore.BaseDN, err = ResolvePlaceholders(ds.BaseDN, values); err != nil {
		return nil, err
	}
	if datastore.UniqueAttr, err = ResolvePlaceholders(ds.UniqueAttr, values); err != nil {
		return nil, err
	}
	for _, oc := range ds.ObjectClasses {
		resolved, err := ResolvePlaceholders(oc, values)
		if err != nil {
			return nil, err
		}
		datastore.ObjectClasses = append(datastore.ObjectClasses, resolved)
	}

	if datastore.Backend != BackendLDAP {
		return nil, fmt.Errorf("%w: entity %s uses backend %q, expected %q", ErrInvalidMetadata, name, datastore.Backend, BackendLDAP)
	}

	access, err := parseAccess(raw.Schema.Access)
	if err != nil {
		return nil, fmt.Errorf("%w: entity %s: %w", ErrInvalidMetadata, name, err)
	}

	md := &EntityMetadata{
		Name:      name,
		Datastore: datastore,
		Access:    access,
		byPath:    make(map[string]*Field),
	}

	if err := md.addFields("", raw.Schema.Fields); err != nil {
		return nil, fmt.Errorf("%w: entity %s: %w", ErrInvalidMetadata, name, err)
	}
	md.addCountFields()
	md.index()

	return md, nil
}

func parseAccess(raw map[string][]string) (Access, error) {
	access := make(Access, len(raw))
	for op, roles := range raw {
		switch Operation(op) {
		case OpFind, OpInsert, OpUpdate, OpDelete:
			access[Operation(op)] = slices.Clone(roles)
		default:
			return nil, fmt.Errorf("unknown access operation %q", op)
		}
	}
	return access, nil
}

func (m *EntityMetadata) addFields(prefix string, fields map[string]*rawField) error {
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		raw := fields[name]
		if raw == nil {
			return fmt.Errorf("field %s%s has no definition", prefix, name)
		}
		if name == "" || strings.Contains(name, ".") {
			return fmt.Errorf("invalid field name %q", prefix+name)
		}

		path := prefix + name
		fieldType := FieldType(raw.Type)

		switch {
		case fieldType == TypeObject:
			if err := m.addFields(path+".", raw.Fields); err != nil {
				return err
			}
			continue

		case fieldType == TypeObjectType:
			// Synthesized from the entity name, never stored
			if path != FieldObjectType {
				return fmt.Errorf("field %s: type %q is reserved for %s", path, raw.Type, FieldObjectType)
			}

		case fieldType == TypeArray:
			if raw.Items == nil || !FieldType(raw.Items.Type).IsScalar() {
				return fmt.Errorf("array field %s must declare scalar items", path)
			}

		case !fieldType.IsScalar():
			return fmt.Errorf("field %s has unsupported type %q", path, raw.Type)
		}

		access, err := parseAccess(raw.Access)
		if err != nil {
			return fmt.Errorf("field %s: %w", path, err)
		}

		field := &Field{
			Path:     path,
			Name:     name,
			Type:     fieldType,
			Required: raw.required(),
			Access:   access,
		}
		if raw.Items != nil {
			field.Items = FieldType(raw.Items.Type)
		}

		if _, exists := m.byPath[path]; exists {
			return fmt.Errorf("field %s declared twice", path)
		}
		m.byPath[path] = field
	}

	return nil
}

// addCountFields pairs every array X with its X# companion, declaring a
// synthetic one when the metadata does not.
func (m *EntityMetadata) addCountFields() {
	for _, path := range slices.Sorted(maps.Keys(m.byPath)) {
		array := m.byPath[path]
		if !array.IsArray() {
			continue
		}

		countPath := path + CountSuffix
		if declared, ok := m.byPath[countPath]; ok {
			if declared.Type == TypeInteger {
				declared.CountOf = path
			}
			continue
		}

		m.byPath[countPath] = &Field{
			Path:      countPath,
			Name:      array.Name + CountSuffix,
			Type:      TypeInteger,
			Access:    array.Access,
			CountOf:   path,
			Synthetic: true,
		}
	}
}

func (m *EntityMetadata) index() {
	m.fields = make([]*Field, 0, len(m.byPath))
	for _, path := range slices.Sorted(maps.Keys(m.byPath)) {
		m.fields = append(m.fields, m.byPath[path])
	}
}

// Validate checks the settings that may come from configuration instead of
// the metadata document.
func (m *EntityMetadata) Validate() error {
	if m.Datastore.BaseDN == "" {
		return fmt.Errorf("%w: entity %s has no basedn", ErrInvalidMetadata, m.Name)
	}

	if uid := m.Datastore.UniqueAttr; uid != "" {
		f, ok := m.byPath[uid]
		if !ok {
			return fmt.Errorf("%w: entity %s: unique field %q is not declared", ErrInvalidMetadata, m.Name, uid)
		}
		if !f.Type.IsScalar() {
			return fmt.Errorf("%w: entity %s: unique field %q must be a scalar", ErrInvalidMetadata, m.Name, uid)
		}
	}

	return nil
}

// WithDatastore returns a copy of the metadata with non-empty datastore
// settings from override applied.
func (m *EntityMetadata) WithDatastore(override Datastore) *EntityMetadata {
	clone := *m
	if override.BaseDN != "" {
		clone.Datastore.BaseDN = override.BaseDN
	}
	if override.UniqueAttr != "" {
		clone.Datastore.UniqueAttr = override.UniqueAttr
	}
	if len(override.ObjectClasses) > 0 {
		clone.Datastore.ObjectClasses = slices.Clone(override.ObjectClasses)
	}
	return &clone
}
