package crud

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldap-crud/internal/ldap"
	"github.com/isometry/ldap-crud/internal/metadata"
	"github.com/isometry/ldap-crud/internal/query"
	"github.com/isometry/ldap-crud/internal/translate"
)

// Request states, logged at each transition.
const (
	stateReceived      = "Received"
	stateAccessChecked = "AccessChecked"
	stateTranslated    = "Translated"
	stateDispatched    = "Dispatched"
	stateResponded     = "Responded"
)

// Options configure a Controller.
type Options struct {
	// AttributeMappings overrides field to attribute names, per entity.
	AttributeMappings map[string]map[string]string

	// DefaultTimeout bounds requests that carry no timeout. Zero means none.
	DefaultTimeout time.Duration
}

// entity holds the immutable helpers of one registered entity.
type entity struct {
	md         *metadata.EntityMetadata
	translator translate.FieldNameTranslator
	builder    *translate.EntryBuilder
	results    *translate.ResultTranslator
	filters    *query.FilterBuilder
	sorter     *query.Sorter
	access     *AccessChecker
	stored     []string // Attributes read before computing a save diff
}

func newEntity(md *metadata.EntityMetadata, mapping map[string]string) (*entity, error) {
	var translator translate.FieldNameTranslator = translate.NewTrivialTranslator(md)
	if len(mapping) > 0 {
		mapped, err := translate.NewMapTranslator(md, mapping)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", md.Name, err)
		}
		translator = mapped
	}

	e := &entity{
		md:         md,
		translator: translator,
		builder:    translate.NewEntryBuilder(md, translator),
		results:    translate.NewResultTranslator(md, translator),
		filters:    query.NewFilterBuilder(md, translator),
		sorter:     query.NewSorter(md, translator),
		access:     NewAccessChecker(md),
		stored:     []string{translate.AttributeObjectClass},
	}

	for _, field := range md.Fields() {
		if field.Synthetic || field.Path == metadata.FieldObjectType {
			continue
		}
		e.stored = append(e.stored, translator.FieldToAttribute(field.Path))
	}

	return e, nil
}

// Controller dispatches insert, save, find and delete requests to the
// directory. It is safe for concurrent use.
type Controller struct {
	client     ldap.Client
	entities   map[string]*entity
	timeout    time.Duration
	logContext context.Context // Context with configured subsystems for logging
}

// NewController prepares the helpers of every entity in registry.
func NewController(ctx context.Context, client ldap.Client, registry *metadata.Registry, opts Options) (*Controller, error) {
	c := &Controller{
		client:     client,
		entities:   make(map[string]*entity),
		timeout:    opts.DefaultTimeout,
		logContext: ctx,
	}

	var merr *multierror.Error
	for _, name := range registry.Names() {
		md, _ := registry.Get(name)
		e, err := newEntity(md, opts.AttributeMappings[name])
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		c.entities[name] = e
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	tflog.SubsystemInfo(ctx, ldap.SubsystemCRUD, "CRUD controller initialized", map[string]any{
		"entities":        registry.Names(),
		"default_timeout": c.timeout.String(),
	})

	return c, nil
}

// getLoggingContext returns the construction-time context, which always has
// the subsystem loggers registered.
func (c *Controller) getLoggingContext(_ context.Context) context.Context {
	return c.logContext
}

func (c *Controller) transition(ctx context.Context, operation, state string, fields map[string]any) {
	logFields := map[string]any{
		"operation": operation,
		"state":     state,
	}
	maps.Copy(logFields, fields)
	tflog.SubsystemTrace(ctx, ldap.SubsystemCRUD, "Request state", logFields)
}

// begin resolves the entity and checks entity-level access.
func (c *Controller) begin(ctx context.Context, opts RequestOptions, op metadata.Operation, resp *Response) *entity {
	logCtx := c.getLoggingContext(ctx)
	c.transition(logCtx, string(op), stateReceived, map[string]any{"entity": opts.Entity})

	e, ok := c.entities[opts.Entity]
	if !ok {
		resp.fail(CodeUnknownEntity, opts.Entity)
		return nil
	}

	if !e.access.Permitted(op, opts.ClientID.Roles) {
		resp.fail(CodeNoAccess, fmt.Sprintf("%s %s", op, opts.Entity))
		return nil
	}

	c.transition(logCtx, string(op), stateAccessChecked, nil)
	return e
}

func (c *Controller) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Entities returns the names of the registered entities.
func (c *Controller) Entities() []string {
	return slices.Sorted(maps.Keys(c.entities))
}

// Insert adds one entry per document. Documents fail independently; a
// directory failure aborts the remaining documents.
func (c *Controller) Insert(ctx context.Context, req *InsertRequest) *Response {
	resp := newResponse()
	logCtx := c.getLoggingContext(ctx)
	done := ldap.LogRequestOperation(logCtx, req.Entity, "insert", map[string]any{
		"documents": len(req.Documents),
		"client_id": req.ClientID.ID,
	})
	defer func() { done(resp.err()) }()

	e := c.begin(ctx, req.RequestOptions, metadata.OpInsert, resp)
	if e == nil {
		return resp
	}

	ctx, cancel := c.withTimeout(ctx, req.timeout())
	defer cancel()

	for i, doc := range req.Documents {
		entry, errs := c.prepare(e, metadata.OpInsert, doc, req.ClientID.Roles, true)
		if len(errs) > 0 {
			resp.DataErrors = append(resp.DataErrors, &DataError{Data: doc, Errors: errs})
			continue
		}
		c.transition(logCtx, "insert", stateTranslated, map[string]any{"document": i, "dn": entry.DN})

		if abort := c.add(ctx, entry, doc, resp); abort {
			break
		}
		c.transition(logCtx, "insert", stateDispatched, map[string]any{"document": i})
	}

	c.transition(logCtx, "insert", stateResponded, map[string]any{"modified": resp.ModifiedCount})
	return resp
}

// Save updates the entry of each document to match it. Absent entries are
// created when Upsert is set and reported as not found otherwise.
func (c *Controller) Save(ctx context.Context, req *SaveRequest) *Response {
	resp := newResponse()
	logCtx := c.getLoggingContext(ctx)
	done := ldap.LogRequestOperation(logCtx, req.Entity, "save", map[string]any{
		"documents": len(req.Documents),
		"upsert":    req.Upsert,
		"client_id": req.ClientID.ID,
	})
	defer func() { done(resp.err()) }()

	e := c.begin(ctx, req.RequestOptions, metadata.OpUpdate, resp)
	if e == nil {
		return resp
	}

	ctx, cancel := c.withTimeout(ctx, req.timeout())
	defer cancel()

	for i, doc := range req.Documents {
		entry, errs := c.prepare(e, metadata.OpUpdate, doc, req.ClientID.Roles, req.Upsert)
		if len(errs) > 0 {
			resp.DataErrors = append(resp.DataErrors, &DataError{Data: doc, Errors: errs})
			continue
		}
		c.transition(logCtx, "save", stateTranslated, map[string]any{"document": i, "dn": entry.DN})

		if abort := c.save(ctx, e, entry, doc, req.ClientID.Roles, req.Upsert, resp); abort {
			break
		}
		c.transition(logCtx, "save", stateDispatched, map[string]any{"document": i})
	}

	c.transition(logCtx, "save", stateResponded, map[string]any{"modified": resp.ModifiedCount})
	return resp
}

// prepare checks field access and builds the entry of one document. Denied
// fields are reported and removed before the entry is built, so a denied
// required field is also reported as missing.
func (c *Controller) prepare(e *entity, op metadata.Operation, doc translate.Document, roles []string, generateUIDs bool) (*goldap.Entry, []*Error) {
	working := translate.Clone(doc)
	if working == nil {
		working = translate.Document{}
	}

	code := CodeNoFieldInsertAccess
	if op == metadata.OpUpdate {
		code = CodeNoFieldUpdateAccess
	}

	var errs []*Error
	denied := e.access.Forbidden(op, working, roles)
	for _, path := range denied {
		errs = append(errs, newError(code, path))
	}
	e.access.Strip(working, denied)

	if generateUIDs {
		fillUIDs(e.md, working)
	}

	entry, err := e.builder.Build(e.md.Datastore.BaseDN, working)
	if err != nil {
		errs = append(errs, documentError(err))
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return entry, nil
}

// fillUIDs generates values for absent uid fields. The naming field is left
// alone when the document names its entry by dn.
func fillUIDs(md *metadata.EntityMetadata, doc translate.Document) {
	_, hasDN := translate.Lookup(doc, metadata.FieldDN)
	for _, field := range md.Fields() {
		if field.Type != metadata.TypeUID {
			continue
		}
		if hasDN && field.Path == md.UIDField() {
			continue
		}
		if _, present := translate.Lookup(doc, field.Path); !present {
			translate.Set(doc, field.Path, uuid.NewString())
		}
	}
}

// add creates entry and records the outcome. It reports whether the request
// must abort.
func (c *Controller) add(ctx context.Context, entry *goldap.Entry, doc translate.Document, resp *Response) bool {
	err := c.client.Add(ctx, &ldap.AddRequest{
		DN:         entry.DN,
		Attributes: entryAttributes(entry),
	})
	if err != nil {
		if ldap.IsConflictError(err) {
			resp.DataErrors = append(resp.DataErrors, &DataError{
				Data:   doc,
				Errors: []*Error{newError(CodeDuplicate, entry.DN)},
			})
			return false
		}
		resp.failWith(transportError(err))
		return true
	}

	resp.EntityData = append(resp.EntityData, translate.Document{metadata.FieldDN: entry.DN})
	resp.ModifiedCount++
	return false
}

func (c *Controller) save(ctx context.Context, e *entity, entry *goldap.Entry, doc translate.Document, roles []string, upsert bool, resp *Response) bool {
	current, err := c.lookup(ctx, e, entry.DN)
	if err != nil {
		resp.failWith(transportError(err))
		return true
	}

	if current == nil {
		if upsert {
			return c.add(ctx, entry, doc, resp)
		}
		resp.DataErrors = append(resp.DataErrors, &DataError{
			Data:   doc,
			Errors: []*Error{newError(CodeNotFound, entry.DN)},
		})
		return false
	}

	mod := diffEntry(e, entry, current, roles)
	if mod.HasChanges() {
		if err := c.client.Modify(ctx, mod); err != nil {
			resp.failWith(transportError(err))
			return true
		}
		resp.ModifiedCount++
	}

	resp.EntityData = append(resp.EntityData, translate.Document{metadata.FieldDN: entry.DN})
	return false
}

// lookup reads the entry at dn, returning nil when it does not exist.
func (c *Controller) lookup(ctx context.Context, e *entity, dn string) (*goldap.Entry, error) {
	result, err := c.client.Search(ctx, &ldap.SearchRequest{
		BaseDN:     dn,
		Scope:      ldap.ScopeBaseObject,
		Filter:     query.MatchAll,
		Attributes: e.stored,
		SizeLimit:  1,
	})
	if err != nil {
		if ldap.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, nil
	}
	return result.Entries[0], nil
}

// Find searches the entity's entries. Fields the caller may not read are
// dropped from the results; querying or sorting on them is an error.
func (c *Controller) Find(ctx context.Context, req *FindRequest) *Response {
	resp := newResponse()
	logCtx := c.getLoggingContext(ctx)
	done := ldap.LogRequestOperation(logCtx, req.Entity, "find", map[string]any{
		"client_id": req.ClientID.ID,
	})
	defer func() { done(resp.err()) }()

	e := c.begin(ctx, req.RequestOptions, metadata.OpFind, resp)
	if e == nil {
		return resp
	}
	roles := req.ClientID.Roles

	q, err := query.Parse(req.Query)
	if err != nil {
		return resp.failWith(queryError(err))
	}
	projection, err := query.ParseProjection(req.Projection)
	if err != nil {
		return resp.failWith(queryError(err))
	}
	keys, err := query.ParseSort(req.Sort)
	if err != nil {
		return resp.failWith(queryError(err))
	}
	if err := e.sorter.Validate(keys); err != nil {
		return resp.failWith(queryError(err))
	}
	if (req.From != nil && *req.From < 0) || (req.To != nil && *req.To < 0) {
		return resp.fail(CodeInvalidRequest, "from and to must not be negative")
	}

	if path, denied := e.access.FirstForbidden(referencedFields(q, keys), roles); denied {
		return resp.fail(CodeNoFieldFindAccess, path)
	}

	filter, err := e.filters.Build(q)
	if err != nil {
		return resp.failWith(queryError(err))
	}
	sel := e.access.FilterSelection(projection.Resolve(e.md), roles)
	c.transition(logCtx, "find", stateTranslated, map[string]any{"filter": filter})

	ctx, cancel := c.withTimeout(ctx, req.timeout())
	defer cancel()

	search := &ldap.SearchRequest{
		BaseDN:     e.md.Datastore.BaseDN,
		Scope:      ldap.ScopeSingleLevel,
		Filter:     filter,
		Attributes: searchAttributes(e, sel, keys),
		SortKeys:   e.sorter.ServerKeys(keys),
	}

	var result *ldap.SearchResult
	// LDAP size limits are 32-bit; larger bounds fetch everything
	if len(keys) == 0 && req.To != nil && *req.To < math.MaxInt32 {
		// Server order is final, so entries past To are never needed
		search.SizeLimit = *req.To + 1
		result, err = c.client.Search(ctx, search)
	} else {
		result, err = c.client.SearchWithPaging(ctx, search)
	}
	if err != nil {
		return resp.failWith(transportError(err))
	}
	c.transition(logCtx, "find", stateDispatched, map[string]any{"entries": len(result.Entries)})

	if err := e.sorter.Sort(result.Entries, keys); err != nil {
		return resp.failWith(newError(CodeEncoding, err.Error()))
	}

	for _, entry := range paginate(result.Entries, req.From, req.To) {
		doc, err := e.results.Translate(entry, sel)
		if err != nil {
			resp.EntityData = nil
			return resp.failWith(newError(CodeEncoding, err.Error()))
		}
		resp.EntityData = append(resp.EntityData, doc)
	}
	resp.MatchCount = len(resp.EntityData)

	c.transition(logCtx, "find", stateResponded, map[string]any{"matched": resp.MatchCount})
	return resp
}

// Delete removes every entry matching the query. Failures of individual
// deletes are collected into one error after all entries were attempted.
func (c *Controller) Delete(ctx context.Context, req *DeleteRequest) *Response {
	resp := newResponse()
	logCtx := c.getLoggingContext(ctx)
	done := ldap.LogRequestOperation(logCtx, req.Entity, "delete", map[string]any{
		"client_id": req.ClientID.ID,
	})
	defer func() { done(resp.err()) }()

	e := c.begin(ctx, req.RequestOptions, metadata.OpDelete, resp)
	if e == nil {
		return resp
	}

	q, err := query.Parse(req.Query)
	if err != nil {
		return resp.failWith(queryError(err))
	}
	if path, denied := e.access.FirstForbidden(referencedFields(q, nil), req.ClientID.Roles); denied {
		return resp.fail(CodeNoFieldFindAccess, path)
	}

	filter, err := e.filters.Build(q)
	if err != nil {
		return resp.failWith(queryError(err))
	}
	c.transition(logCtx, "delete", stateTranslated, map[string]any{"filter": filter})

	ctx, cancel := c.withTimeout(ctx, req.timeout())
	defer cancel()

	result, err := c.client.SearchWithPaging(ctx, &ldap.SearchRequest{
		BaseDN:     e.md.Datastore.BaseDN,
		Scope:      ldap.ScopeSingleLevel,
		Filter:     filter,
		Attributes: []string{"1.1"},
	})
	if err != nil {
		return resp.failWith(transportError(err))
	}

	var merr *multierror.Error
	for _, entry := range result.Entries {
		if err := c.client.Delete(ctx, entry.DN); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		resp.ModifiedCount++
	}
	c.transition(logCtx, "delete", stateDispatched, map[string]any{"entries": len(result.Entries)})

	if err := merr.ErrorOrNil(); err != nil {
		resp.failWith(transportError(err))
	}

	c.transition(logCtx, "delete", stateResponded, map[string]any{"modified": resp.ModifiedCount})
	return resp
}

func referencedFields(q query.Query, keys []query.SortKey) []string {
	var fields []string
	if q != nil {
		fields = q.Fields()
	}
	for _, k := range keys {
		fields = append(fields, k.Field)
	}
	return fields
}

// searchAttributes adds the sort attributes to those the selection needs.
func searchAttributes(e *entity, sel translate.Selection, keys []query.SortKey) []string {
	attrs := e.results.Attributes(sel)
	sortAttrs := e.sorter.Attributes(keys)
	if len(sortAttrs) == 0 {
		return attrs
	}

	if len(attrs) == 1 && attrs[0] == "1.1" {
		attrs = nil
	}
	for _, attr := range sortAttrs {
		if !slices.ContainsFunc(attrs, func(a string) bool { return strings.EqualFold(a, attr) }) {
			attrs = append(attrs, attr)
		}
	}
	return attrs
}

// paginate returns items[from:to+1], clamped to the available items.
func paginate[T any](items []T, from, to *int) []T {
	start, end := 0, len(items)-1
	if from != nil {
		start = *from
	}
	if to != nil && *to < end {
		end = *to
	}
	if start > end {
		return nil
	}
	return items[start : end+1]
}

func entryAttributes(entry *goldap.Entry) map[string][]string {
	attributes := make(map[string][]string, len(entry.Attributes))
	for _, attr := range entry.Attributes {
		attributes[attr.Name] = attr.Values
	}
	return attributes
}
