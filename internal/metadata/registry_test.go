package metadata

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	md, err := Parse([]byte(userMetadata), placeholderValues)
	require.NoError(t, err)
	require.NoError(t, registry.Register(md))

	got, ok := registry.Get("user")
	assert.True(t, ok)
	assert.Same(t, md, got)

	_, ok = registry.Get("group")
	assert.False(t, ok)

	assert.ErrorIs(t, registry.Register(nil), ErrInvalidMetadata)
	assert.ErrorIs(t, registry.Register(md.WithDatastore(Datastore{UniqueAttr: "nope"})), ErrInvalidMetadata)

	replacement := md.WithDatastore(Datastore{BaseDN: "ou=staff,dc=example,dc=com"})
	require.NoError(t, registry.Register(replacement))
	got, _ = registry.Get("user")
	assert.Same(t, replacement, got)
	assert.Equal(t, []string{"user"}, registry.Names())
}

func TestRegistry_Concurrent(t *testing.T) {
	registry := NewRegistry()
	md, err := Parse([]byte(userMetadata), placeholderValues)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			assert.NoError(t, registry.Register(md))
			registry.Names()
			registry.Get("user")
		})
	}
	wg.Wait()

	assert.Equal(t, []string{"user"}, registry.Names())
}
