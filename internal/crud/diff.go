package crud

import (
	"slices"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-crud/internal/ldap"
	"github.com/isometry/ldap-crud/internal/metadata"
	"github.com/isometry/ldap-crud/internal/translate"
)

// diffEntry returns the modification that turns current into desired.
// Object classes are only ever added. Attributes of declared fields missing
// from desired are deleted when roles may update them, except those naming
// the entry.
func diffEntry(e *entity, desired, current *goldap.Entry, roles []string) *ldap.ModifyRequest {
	mod := &ldap.ModifyRequest{
		DN:                current.DN,
		AddAttributes:     make(map[string][]string),
		ReplaceAttributes: make(map[string][]string),
	}

	for _, attr := range desired.Attributes {
		have := current.GetEqualFoldAttributeValues(attr.Name)

		if strings.EqualFold(attr.Name, translate.AttributeObjectClass) {
			var missing []string
			for _, v := range attr.Values {
				if !slices.ContainsFunc(have, func(h string) bool { return strings.EqualFold(h, v) }) {
					missing = append(missing, v)
				}
			}
			if len(missing) > 0 {
				mod.AddAttributes[attr.Name] = missing
			}
			continue
		}

		switch {
		case len(have) == 0:
			mod.AddAttributes[attr.Name] = attr.Values
		case !slices.Equal(attr.Values, have):
			mod.ReplaceAttributes[attr.Name] = attr.Values
		}
	}

	naming := namingAttributes(current.DN)
	for _, field := range e.md.Fields() {
		if field.Synthetic || field.IsCount() || field.Path == metadata.FieldObjectType {
			continue
		}

		attr := e.translator.FieldToAttribute(field.Path)
		if naming[strings.ToLower(attr)] || len(current.GetEqualFoldAttributeValues(attr)) == 0 {
			continue
		}
		if len(desired.GetEqualFoldAttributeValues(attr)) > 0 {
			continue
		}
		if !e.access.FieldPermitted(metadata.OpUpdate, field.Path, roles) {
			continue
		}
		mod.DeleteAttributes = append(mod.DeleteAttributes, attr)
	}

	return mod
}

// namingAttributes returns the lowercased attribute types of the RDN of dn.
func namingAttributes(dn string) map[string]bool {
	naming := make(map[string]bool)
	parsed, err := goldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 {
		return naming
	}
	for _, attr := range parsed.RDNs[0].Attributes {
		naming[strings.ToLower(attr.Type)] = true
	}
	return naming
}
