package translate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/isometry/ldap-crud/internal/metadata"
)

// ErrCountMismatch is wrapped by an EncodingError when a document's X# does
// not equal the length of its array X.
var ErrCountMismatch = errors.New("array count does not match array length")

// RequiredError reports a required field absent from the document.
type RequiredError struct {
	Field string
}

func (e *RequiredError) Error() string {
	return fmt.Sprintf("required field %s is missing", e.Field)
}

// IllegalFieldError reports a field that translates to a reserved attribute.
type IllegalFieldError struct {
	Field     string
	Attribute string
}

func (e *IllegalFieldError) Error() string {
	return fmt.Sprintf("field %s translates to reserved attribute %s", e.Field, e.Attribute)
}

// EncodingError reports a value that cannot be converted to or from its
// declared type.
type EncodingError struct {
	Field string
	Type  metadata.FieldType
	Value any
	Err   error
}

func (e *EncodingError) Error() string {
	msg := fmt.Sprintf("cannot encode %v as %s", e.Value, e.Type)
	if e.Field != "" {
		msg = fmt.Sprintf("field %s: %s", e.Field, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// MissingDNError reports a document with neither a dn nor a uid value.
type MissingDNError struct {
	UIDField string
}

func (e *MissingDNError) Error() string {
	if e.UIDField == "" {
		return "document has no dn and the entity declares no unique field"
	}
	return fmt.Sprintf("document has neither dn nor %s", e.UIDField)
}

// DNConflictError reports an explicit dn that differs from the DN computed
// from the uid field.
type DNConflictError struct {
	DN       string
	Computed string
}

func (e *DNConflictError) Error() string {
	return fmt.Sprintf("dn %q conflicts with computed dn %q", e.DN, e.Computed)
}

// DuplicateAttributeError reports fields that translate to the same attribute.
type DuplicateAttributeError struct {
	Attribute string
	Fields    []string
}

func (e *DuplicateAttributeError) Error() string {
	return fmt.Sprintf("fields %s translate to the same attribute %s", strings.Join(e.Fields, ", "), e.Attribute)
}
