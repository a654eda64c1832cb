package query

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/shopspring/decimal"

	"github.com/isometry/ldap-crud/internal/ldap"
	"github.com/isometry/ldap-crud/internal/metadata"
	"github.com/isometry/ldap-crud/internal/translate"
)

// SortKey orders results by one field.
type SortKey struct {
	Field      string
	Descending bool
}

// ParseSort decodes {"field": "$asc"|"$desc"} or an array of such objects.
// Key order within an object is preserved.
func ParseSort(data []byte) ([]SortKey, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	if data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: sort: %w", ErrInvalidQuery, err)
		}
		var keys []SortKey
		for _, item := range items {
			k, err := parseSortObject(item)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k...)
		}
		return keys, nil
	}

	return parseSortObject(data)
}

func parseSortObject(data []byte) ([]SortKey, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("%w: sort must be an object or an array of objects", ErrInvalidQuery)
	}

	var keys []SortKey
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: sort: %w", ErrInvalidQuery, err)
		}
		field := tok.(string)

		var direction string
		if err := dec.Decode(&direction); err != nil {
			return nil, fmt.Errorf("%w: sort direction for %s: %w", ErrInvalidQuery, field, err)
		}

		switch strings.ToLower(strings.TrimPrefix(direction, "$")) {
		case "asc":
			keys = append(keys, SortKey{Field: field})
		case "desc":
			keys = append(keys, SortKey{Field: field, Descending: true})
		default:
			return nil, fmt.Errorf("%w: sort direction %q for %s", ErrInvalidQuery, direction, field)
		}
	}
	return keys, nil
}

// Sorter orders search results of one entity.
type Sorter struct {
	md         *metadata.EntityMetadata
	translator translate.FieldNameTranslator
	results    *translate.ResultTranslator
}

func NewSorter(md *metadata.EntityMetadata, translator translate.FieldNameTranslator) *Sorter {
	return &Sorter{
		md:         md,
		translator: translator,
		results:    translate.NewResultTranslator(md, translator),
	}
}

// Validate rejects keys on fields the entity does not declare.
func (s *Sorter) Validate(keys []SortKey) error {
	for _, k := range keys {
		if k.Field == metadata.FieldDN {
			continue
		}
		if _, ok := s.md.Field(k.Field); !ok || k.Field == metadata.FieldObjectType {
			return fmt.Errorf("%w: cannot sort on %s", ErrInvalidQuery, k.Field)
		}
	}
	return nil
}

// Attributes returns the attributes whose values the keys order by.
func (s *Sorter) Attributes(keys []SortKey) []string {
	var attrs []string
	for _, k := range keys {
		field, ok := s.md.Field(k.Field)
		if !ok {
			continue
		}
		path := field.Path
		if field.IsCount() {
			path = field.CountOf
		}
		attrs = append(attrs, s.translator.FieldToAttribute(path))
	}
	return attrs
}

// ServerKeys returns the keys the directory can sort on. The result is a
// hint; Sort always establishes the final order.
func (s *Sorter) ServerKeys(keys []SortKey) []ldap.SortKey {
	var serverKeys []ldap.SortKey
	for _, k := range keys {
		field, ok := s.md.Field(k.Field)
		if !ok || field.IsCount() || k.Field == metadata.FieldObjectType {
			return nil
		}
		serverKeys = append(serverKeys, ldap.SortKey{
			Attribute: s.translator.FieldToAttribute(field.Path),
			Reverse:   k.Descending,
		})
	}
	return serverKeys
}

// Sort orders entries stably by keys. Absent values sort first ascending.
func (s *Sorter) Sort(entries []*goldap.Entry, keys []SortKey) error {
	if len(keys) == 0 || len(entries) < 2 {
		return nil
	}

	type decorated struct {
		entry  *goldap.Entry
		values []any
	}

	items := make([]decorated, len(entries))
	for i, entry := range entries {
		items[i].entry = entry
		items[i].values = make([]any, len(keys))
		for j, k := range keys {
			v, err := s.results.SortValue(entry, k.Field)
			if err != nil {
				return err
			}
			items[i].values[j] = v
		}
	}

	slices.SortStableFunc(items, func(a, b decorated) int {
		for j, k := range keys {
			c := compareValues(a.values[j], b.values[j])
			if k.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})

	for i := range items {
		entries[i] = items[i].entry
	}
	return nil
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			return cmp.Compare(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
	case *big.Int:
		if bv, ok := b.(*big.Int); ok {
			return av.Cmp(bv)
		}
	case json.Number:
		if bv, ok := b.(json.Number); ok {
			ad, aerr := decimal.NewFromString(av.String())
			bd, berr := decimal.NewFromString(bv.String())
			if aerr == nil && berr == nil {
				return ad.Cmp(bd)
			}
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case string:
		if bv, ok := b.(string); ok {
			if c := cmp.Compare(strings.ToLower(av), strings.ToLower(bv)); c != 0 {
				return c
			}
			return cmp.Compare(av, bv)
		}
	}

	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
