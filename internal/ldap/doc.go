/*
Package ldap provides the directory access layer used by the CRUD adapter.

# Connection Management

The Client interface wraps a connection pool:

  - ldap:// and ldaps:// URLs tried in order, with optional StartTLS
  - Connection pooling with health checks
  - Automatic retry with exponential backoff for transient failures
  - Anonymous, simple and Kerberos (GSSAPI) binds

A pooled connection is borrowed for one operation and returned immediately.
SRVDiscovery turns a DNS domain into URLs when none are configured.

# Deadlines

Every operation honors the deadline of its context. The remaining time is
applied to the connection before the request is sent and bounds the server
time limit of searches. When the deadline passes while a request is in
flight, the connection is discarded and the error wraps ErrTimeout. Changes
the server already applied are not rolled back.

# Searches

Search sends sort keys as a non-critical server-side sort control, so
servers without sort support still answer. Callers that need a guaranteed
order sort the returned entries themselves.

# Error Handling

The package provides structured error handling through LDAPError:

  - Categorized errors (connection, authentication, validation, timeout, etc.)
  - Retryable error classification
  - Server message and DN preservation

# Logging

All operations log through terraform-plugin-log subsystems registered by
NewLoggingContext. Sensitive values are redacted by SanitizeFields.
*/
package ldap
