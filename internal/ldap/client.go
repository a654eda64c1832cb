package ldap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// defaultPageSize is the page size used by SearchWithPaging.
const defaultPageSize = 500

// client implements the Client interface.
type client struct {
	pool       ConnectionPool
	config     *ConnectionConfig
	logContext context.Context // Context with configured subsystems for logging
}

// NewClient creates a new LDAP client with connection pooling. The context
// must carry the logging subsystems registered by NewLoggingContext.
func NewClient(ctx context.Context, config *ConnectionConfig) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Creating new LDAP client", map[string]any{
		"ldap_urls_count": len(config.LDAPURLs),
		"auth_method":     config.GetAuthMethod().String(),
		"start_tls":       config.StartTLS,
		"max_connections": config.MaxConnections,
	})

	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		tflog.SubsystemError(ctx, SubsystemLDAP, "Failed to create connection pool", map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return newClientWithPool(ctx, config, pool), nil
}

func newClientWithPool(ctx context.Context, config *ConnectionConfig, pool ConnectionPool) *client {
	return &client{
		pool:       pool,
		config:     config,
		logContext: ctx,
	}
}

// getLoggingContext returns the construction-time context, which always has
// the subsystem loggers registered. Request contexts only carry deadlines.
func (c *client) getLoggingContext(_ context.Context) context.Context {
	return c.logContext
}

// Connect verifies that a connection can be acquired and used.
func (c *client) Connect(ctx context.Context) error {
	logCtx := c.getLoggingContext(ctx)
	return LogOperation(logCtx, SubsystemLDAP, "connection_test", nil, func() error {
		return c.Ping(ctx)
	})
}

// Close closes the client and all its connections.
func (c *client) Close() error {
	return c.pool.Close()
}

// Search performs a single LDAP search. A size limit reached by the server is
// reported through HasMore rather than as an error.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	logCtx := c.getLoggingContext(ctx)
	fields := searchFields(req)

	var result *SearchResult
	err := LogOperation(logCtx, SubsystemLDAP, "search", fields, func() error {
		return c.withConnection(ctx, "search", func(conn *PooledConnection) error {
			ldapReq := c.newSearchRequest(ctx, req)

			res, err := conn.Conn().Search(ldapReq)
			if err != nil && !(ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && res != nil) {
				return err
			}

			result = &SearchResult{
				Entries: res.Entries,
				Total:   len(res.Entries),
				HasMore: err != nil || (req.SizeLimit > 0 && len(res.Entries) >= req.SizeLimit),
			}
			return nil
		})
	})
	if err != nil {
		LogLDAPError(logCtx, SubsystemLDAP, "search", err, searchFields(req))
		return nil, WrapErrorWithDN("search", req.BaseDN, err)
	}

	tflog.SubsystemTrace(logCtx, SubsystemLDAP, "Search returned entries", map[string]any{
		"entries_found": result.Total,
		"has_more":      result.HasMore,
	})
	return result, nil
}

// SearchWithPaging performs an LDAP search using the simple paged results
// control, collecting every page.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	logCtx := c.getLoggingContext(ctx)
	fields := searchFields(req)
	fields["page_size"] = defaultPageSize

	var result *SearchResult
	err := LogOperation(logCtx, SubsystemLDAP, "paged_search", fields, func() error {
		return c.withConnection(ctx, "paged_search", func(conn *PooledConnection) error {
			ldapReq := c.newSearchRequest(ctx, req)

			res, err := conn.Conn().SearchWithPaging(ldapReq, defaultPageSize)
			if err != nil {
				return err
			}

			result = &SearchResult{
				Entries: res.Entries,
				Total:   len(res.Entries),
			}
			return nil
		})
	})
	if err != nil {
		LogLDAPError(logCtx, SubsystemLDAP, "paged_search", err, searchFields(req))
		return nil, WrapErrorWithDN("paged_search", req.BaseDN, err)
	}

	return result, nil
}

// Add creates a new LDAP entry.
func (c *client) Add(ctx context.Context, req *AddRequest) error {
	if req == nil {
		return fmt.Errorf("add request cannot be nil")
	}

	ldapReq := ldap.NewAddRequest(req.DN, nil)
	for attr, values := range req.Attributes {
		ldapReq.Attribute(attr, values)
	}

	logCtx := c.getLoggingContext(ctx)
	err := LogOperation(logCtx, SubsystemLDAP, "add", map[string]any{
		"dn":              req.DN,
		"attribute_count": len(req.Attributes),
	}, func() error {
		return c.withConnection(ctx, "add", func(conn *PooledConnection) error {
			return conn.Conn().Add(ldapReq)
		})
	})

	return WrapErrorWithDN("add", req.DN, err)
}

// Modify modifies an existing LDAP entry.
func (c *client) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return fmt.Errorf("modify request cannot be nil")
	}

	ldapReq := ldap.NewModifyRequest(req.DN, nil)
	for attr, values := range req.AddAttributes {
		ldapReq.Add(attr, values)
	}
	for attr, values := range req.ReplaceAttributes {
		ldapReq.Replace(attr, values)
	}
	for _, attr := range req.DeleteAttributes {
		ldapReq.Delete(attr, []string{})
	}

	logCtx := c.getLoggingContext(ctx)
	err := LogOperation(logCtx, SubsystemLDAP, "modify", map[string]any{
		"dn":      req.DN,
		"add":     len(req.AddAttributes),
		"replace": len(req.ReplaceAttributes),
		"delete":  len(req.DeleteAttributes),
	}, func() error {
		return c.withConnection(ctx, "modify", func(conn *PooledConnection) error {
			return conn.Conn().Modify(ldapReq)
		})
	})

	return WrapErrorWithDN("modify", req.DN, err)
}

// Delete removes an LDAP entry.
func (c *client) Delete(ctx context.Context, dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	logCtx := c.getLoggingContext(ctx)
	err := LogOperation(logCtx, SubsystemLDAP, "delete", map[string]any{"dn": dn}, func() error {
		return c.withConnection(ctx, "delete", func(conn *PooledConnection) error {
			return conn.Conn().Del(ldap.NewDelRequest(dn, nil))
		})
	})

	return WrapErrorWithDN("delete", dn, err)
}

// Ping tests connectivity with a root DSE read.
func (c *client) Ping(ctx context.Context) error {
	return c.withConnection(ctx, "ping", func(conn *PooledConnection) error {
		_, err := conn.Conn().Search(rootDSERequest())
		return err
	})
}

// Stats returns pool statistics.
func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

// withConnection borrows a pooled connection for a single operation and
// applies the request deadline to it. When the deadline expires during the
// call the connection is discarded so the outstanding operation is abandoned.
func (c *client) withConnection(ctx context.Context, operation string, fn func(*PooledConnection) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w before %s: %w", ErrTimeout, operation, err)
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w before %s: %w", ErrTimeout, operation, context.DeadlineExceeded)
		}
		conn.Conn().SetTimeout(remaining)
		defer conn.Conn().SetTimeout(c.config.Timeout)
	}

	err = c.withRetry(ctx, func() error {
		return fn(conn)
	})
	if err == nil {
		return nil
	}

	if ctx.Err() != nil || (hasDeadline && !time.Now().Before(deadline)) {
		conn.MarkUnhealthy()
		tflog.SubsystemWarn(c.getLoggingContext(ctx), SubsystemLDAP, "Operation abandoned at deadline", map[string]any{
			"operation": operation,
			"host":      conn.ServerInfo().Host,
		})
		return fmt.Errorf("%w during %s: %w", ErrTimeout, operation, err)
	}

	if !ldapResultError(err) {
		// Transport failures leave the connection in an unknown state
		conn.MarkUnhealthy()
	}

	return err
}

// newSearchRequest converts a SearchRequest, attaching the sort control and
// bounding the server time limit by the request deadline.
func (c *client) newSearchRequest(ctx context.Context, req *SearchRequest) *ldap.SearchRequest {
	timeLimit := int(req.TimeLimit.Seconds())
	if deadline, ok := ctx.Deadline(); ok {
		remaining := max(int(time.Until(deadline).Seconds()), 1)
		if timeLimit == 0 || remaining < timeLimit {
			timeLimit = remaining
		}
	}

	var controls []ldap.Control
	if len(req.SortKeys) > 0 {
		keys := make([]*ldap.SortKey, 0, len(req.SortKeys))
		for _, k := range req.SortKeys {
			keys = append(keys, &ldap.SortKey{AttributeType: k.Attribute, Reverse: k.Reverse})
		}
		controls = append(controls, ldap.NewControlServerSideSortingWithSortKeys(keys))
	}

	return ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		ldap.NeverDerefAliases,
		req.SizeLimit,
		timeLimit,
		false,
		req.Filter,
		req.Attributes,
		controls,
	)
}

// withRetry executes an operation with retry logic.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	logCtx := c.getLoggingContext(ctx)

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			tflog.SubsystemDebug(logCtx, SubsystemLDAP, "Retrying operation", map[string]any{
				"attempt":    attempt,
				"max_retry":  c.config.MaxRetries,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			})
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if ctx.Err() != nil || !IsRetryableError(NewLDAPError("", err)) {
			return err
		}

		if attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	tflog.SubsystemError(logCtx, SubsystemLDAP, "Operation failed after all retries exhausted", map[string]any{
		"total_attempts": c.config.MaxRetries + 1,
		"final_error":    lastErr.Error(),
	})

	return NewConnectionError("operation failed after retries", false, lastErr)
}

// ldapResultError reports whether the server answered with a result code,
// as opposed to a transport failure.
func ldapResultError(err error) bool {
	var resultErr *ldap.Error
	return errors.As(err, &resultErr) && resultErr.ResultCode < ldap.ErrorNetwork
}

func searchFields(req *SearchRequest) map[string]any {
	return map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"attributes": req.Attributes,
		"size_limit": req.SizeLimit,
		"sort_keys":  len(req.SortKeys),
	}
}
