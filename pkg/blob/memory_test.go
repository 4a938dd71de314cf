package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetPut(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, err := store.Get(ctx, "prompts/missing.tmpl")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "prompts/missing.tmpl")

	require.NoError(t, store.Put(ctx, "prompts/system.tmpl", "You are a coach."))

	content, err := store.Get(ctx, "prompts/system.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "You are a coach.", content)

	// Overwrite
	require.NoError(t, store.Put(ctx, "prompts/system.tmpl", "v2"))
	content, err = store.Get(ctx, "prompts/system.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "v2", content)
}

func TestMemorySeed(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	store.Seed(map[string]string{
		"a.tmpl": "alpha",
		"b.tmpl": "beta",
	})

	a, err := store.Get(ctx, "a.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "alpha", a)

	b, err := store.Get(ctx, "b.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "beta", b)
}
