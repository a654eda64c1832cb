package crud

import (
	"context"
	"testing"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-crud/internal/ldap"
	"github.com/isometry/ldap-crud/internal/metadata"
)

const (
	peopleDN      = "ou=people,dc=example,dc=com"
	departmentsDN = "ou=departments,dc=example,dc=com"
)

const personMetadata = `{
	"entityInfo": {
		"name": "person",
		"datastore": {
			"backend": "ldap",
			"basedn": "${people}",
			"uniqueattr": "uid",
			"objectClasses": ["top", "person", "organizationalPerson", "inetOrgPerson"]
		}
	},
	"schema": {
		"name": "person",
		"fields": {
			"uid": {"type": "uid"},
			"objectType": {"type": "string"},
			"cn": {"type": "string", "constraints": {"required": true}},
			"givenName": {"type": "string"},
			"sn": {"type": "string"},
			"mail": {"type": "array", "items": {"type": "string"}}
		}
	}
}`

const departmentMetadata = `{
	"entityInfo": {
		"name": "department",
		"datastore": {
			"backend": "ldap",
			"basedn": "${departments}",
			"uniqueattr": "cn",
			"objectClasses": ["top", "groupOfNames"]
		}
	},
	"schema": {
		"name": "department",
		"access": {"delete": ["admin"]},
		"fields": {
			"cn": {"type": "string", "required": true},
			"description": {"type": "string"},
			"member": {
				"type": "array",
				"items": {"type": "string"},
				"access": {"find": ["admin"], "insert": ["admin"], "update": ["admin"]}
			}
		}
	}
}`

// MockClient implements the ldap.Client interface for testing requests
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(*ldap.SearchResult), args.Error(1)
}

func (m *MockClient) SearchWithPaging(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(*ldap.SearchResult), args.Error(1)
}

func (m *MockClient) Add(ctx context.Context, req *ldap.AddRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockClient) Modify(ctx context.Context, req *ldap.ModifyRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockClient) Delete(ctx context.Context, dn string) error {
	args := m.Called(ctx, dn)
	return args.Error(0)
}

func (m *MockClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Stats() ldap.PoolStats {
	args := m.Called()
	return args.Get(0).(ldap.PoolStats)
}

// testRegistry registers the person and department entities.
func testRegistry(t *testing.T) *metadata.Registry {
	t.Helper()

	values := map[string]string{"people": peopleDN, "departments": departmentsDN}
	registry := metadata.NewRegistry()
	for _, raw := range []string{personMetadata, departmentMetadata} {
		md, err := metadata.Parse([]byte(raw), values)
		require.NoError(t, err)
		require.NoError(t, registry.Register(md))
	}
	return registry
}

// Helper function to create a test Controller with mock client
func createTestController(t *testing.T) (*Controller, *MockClient) {
	t.Helper()

	mockClient := &MockClient{}
	controller, err := NewController(context.Background(), mockClient, testRegistry(t), Options{})
	require.NoError(t, err)
	return controller, mockClient
}

func personEntry(uid string, attrs map[string][]string) *goldap.Entry {
	all := map[string][]string{
		"objectClass": {"top", "person", "organizationalPerson", "inetOrgPerson"},
		"uid":         {uid},
	}
	for k, v := range attrs {
		all[k] = v
	}
	return goldap.NewEntry("uid="+uid+","+peopleDN, all)
}

func searchResult(entries ...*goldap.Entry) *ldap.SearchResult {
	return &ldap.SearchResult{Entries: entries, Total: len(entries)}
}

func noResult() *ldap.SearchResult {
	return nil
}

func intPtr(i int) *int {
	return &i
}

func errorCodes(errs []*Error) []string {
	codes := make([]string, 0, len(errs))
	for _, e := range errs {
		codes = append(codes, e.ErrorCode)
	}
	return codes
}
