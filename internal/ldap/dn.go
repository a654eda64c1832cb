package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// EscapeDNValue escapes special characters in a DN attribute value according to RFC 4514.
//
// Examples:
//   - "Doe, John" → "Doe\, John"
//   - " John " → "\ John\ "
//   - "#123" → "\#123"
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var result strings.Builder
	result.Grow(len(value) + 10)

	last := len(value) - 1
	for i := 0; i < len(value); i++ {
		b := value[i]
		switch b {
		case ',', '+', '"', '\\', '<', '>', ';', '=':
			result.WriteByte('\\')
			result.WriteByte(b)
		case '#':
			if i == 0 {
				result.WriteByte('\\')
			}
			result.WriteByte(b)
		case ' ':
			if i == 0 || i == last {
				result.WriteByte('\\')
			}
			result.WriteByte(b)
		case 0:
			result.WriteString("\\00")
		default:
			result.WriteByte(b)
		}
	}

	return result.String()
}

// ValidateDN checks DN syntax. The empty DN is rejected.
func ValidateDN(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax %q: %w", dn, err)
	}

	return nil
}

// ChildDN builds <attr>=<value>,<parent> with the value escaped.
func ChildDN(attr, value, parent string) string {
	rdn := attr + "=" + EscapeDNValue(value)
	if parent == "" {
		return rdn
	}
	return rdn + "," + parent
}

// EqualDN compares two DNs ignoring attribute-type case and insignificant spacing.
func EqualDN(a, b string) (bool, error) {
	parsedA, err := ldap.ParseDN(a)
	if err != nil {
		return false, fmt.Errorf("invalid DN syntax %q: %w", a, err)
	}

	parsedB, err := ldap.ParseDN(b)
	if err != nil {
		return false, fmt.Errorf("invalid DN syntax %q: %w", b, err)
	}

	return parsedA.Equal(parsedB), nil
}
