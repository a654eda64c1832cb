package crud

import (
	"encoding/json"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/isometry/ldap-crud/internal/translate"
)

// ClientID identifies the caller and the roles it holds.
type ClientID struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// RequestOptions are shared by every request kind.
type RequestOptions struct {
	Entity   string   `json:"entity" binding:"required"`
	ClientID ClientID `json:"clientId"`

	// TimeoutMS bounds the whole request. Zero applies the controller default.
	TimeoutMS int `json:"timeout,omitempty"`
}

func (o RequestOptions) timeout() time.Duration {
	return time.Duration(o.TimeoutMS) * time.Millisecond
}

// InsertRequest adds new entries.
type InsertRequest struct {
	RequestOptions
	Documents []translate.Document `json:"documents"`
}

// SaveRequest updates existing entries, creating absent ones when Upsert is set.
type SaveRequest struct {
	RequestOptions
	Documents []translate.Document `json:"documents"`
	Upsert    bool                 `json:"upsert"`
}

// FindRequest searches entries. From and To are inclusive result indexes
// applied after sorting.
type FindRequest struct {
	RequestOptions
	Query      json.RawMessage `json:"query,omitempty"`
	Projection json.RawMessage `json:"projection,omitempty"`
	Sort       json.RawMessage `json:"sort,omitempty"`
	From       *int            `json:"from,omitempty"`
	To         *int            `json:"to,omitempty"`
}

// DeleteRequest removes every entry matching Query.
type DeleteRequest struct {
	RequestOptions
	Query json.RawMessage `json:"query,omitempty"`
}

// Response is returned by every request kind. MatchCount is set by find,
// ModifiedCount by writes.
type Response struct {
	MatchCount    int                  `json:"matchCount"`
	ModifiedCount int                  `json:"modifiedCount"`
	EntityData    []translate.Document `json:"entityData"`
	Errors        []*Error             `json:"errors,omitempty"`
	DataErrors    []*DataError         `json:"dataErrors,omitempty"`
}

// EntityData stays nil, and encodes as null, when nothing was returned.
func newResponse() *Response {
	return &Response{}
}

// ErrorResponse returns a response carrying a single request-level error.
func ErrorResponse(code, msg string) *Response {
	return newResponse().fail(code, msg)
}

func (r *Response) fail(code, msg string) *Response {
	r.Errors = append(r.Errors, newError(code, msg))
	return r
}

func (r *Response) failWith(e *Error) *Response {
	r.Errors = append(r.Errors, e)
	return r
}

// err summarizes the request-level errors for logging.
func (r *Response) err() error {
	var merr *multierror.Error
	for _, e := range r.Errors {
		merr = multierror.Append(merr, e)
	}
	return merr.ErrorOrNil()
}
