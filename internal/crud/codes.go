package crud

import (
	"errors"

	"github.com/isometry/ldap-crud/internal/ldap"
	"github.com/isometry/ldap-crud/internal/translate"
)

// Error codes reported in responses.
const (
	CodeRequired            = "ERR_REQUIRED"
	CodeNoFieldInsertAccess = "ERR_NO_FIELD_INSERT_ACCESS"
	CodeNoFieldUpdateAccess = "ERR_NO_FIELD_UPDATE_ACCESS"
	CodeNoFieldFindAccess   = "ERR_NO_FIELD_FIND_ACCESS"
	CodeEncoding            = "ERR_ENCODING"
	CodeIllegalField        = "ERR_ILLEGAL_FIELD"
	CodeNotFound            = "ERR_NOT_FOUND"
	CodeTimeout             = "ERR_TIMEOUT"
	CodeLDAP                = "ERR_LDAP"
	CodeUnknownEntity       = "ERR_UNKNOWN_ENTITY"
	CodeInvalidRequest      = "ERR_INVALID_REQUEST"
	CodeNoAccess            = "ERR_NO_ACCESS"
	CodeMissingDN           = "ERR_MISSING_DN"
	CodeDNConflict          = "ERR_DN_CONFLICT"
	CodeDuplicateAttribute  = "ERR_DUPLICATE_ATTRIBUTE"
	CodeDuplicate           = "ERR_DUPLICATE"
)

// Error is a coded failure of a request or of one document.
type Error struct {
	ErrorCode string `json:"errorCode"`
	Msg       string `json:"msg"`
}

func (e *Error) Error() string {
	return e.ErrorCode + ": " + e.Msg
}

func newError(code, msg string) *Error {
	return &Error{ErrorCode: code, Msg: msg}
}

// DataError reports the failures of one input document.
type DataError struct {
	Data   translate.Document `json:"data"`
	Errors []*Error           `json:"errors"`
}

// documentError maps an entry build failure to its code.
func documentError(err error) *Error {
	var (
		required  *translate.RequiredError
		illegal   *translate.IllegalFieldError
		encoding  *translate.EncodingError
		missingDN *translate.MissingDNError
		conflict  *translate.DNConflictError
		duplicate *translate.DuplicateAttributeError
	)

	switch {
	case errors.As(err, &required):
		return newError(CodeRequired, required.Field)
	case errors.As(err, &illegal):
		return newError(CodeIllegalField, illegal.Field)
	case errors.As(err, &encoding):
		return newError(CodeEncoding, err.Error())
	case errors.As(err, &missingDN):
		return newError(CodeMissingDN, err.Error())
	case errors.As(err, &conflict):
		return newError(CodeDNConflict, err.Error())
	case errors.As(err, &duplicate):
		return newError(CodeDuplicateAttribute, duplicate.Attribute)
	default:
		return newError(CodeInvalidRequest, err.Error())
	}
}

// transportError maps a failed directory operation to its code.
func transportError(err error) *Error {
	if errors.Is(err, ldap.ErrTimeout) || ldap.IsTimeoutError(err) {
		return newError(CodeTimeout, err.Error())
	}
	return newError(CodeLDAP, err.Error())
}

// queryError maps a query, sort or projection failure to its code.
func queryError(err error) *Error {
	var encoding *translate.EncodingError
	if errors.As(err, &encoding) {
		return newError(CodeEncoding, err.Error())
	}
	return newError(CodeInvalidRequest, err.Error())
}
