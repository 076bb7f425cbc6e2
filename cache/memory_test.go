package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryExpiresEntriesLazily(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	now = now.Add(1000 * time.Hour)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryDeleteByPrefix(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a:1", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "a:2", []byte("2"), 0))
	require.NoError(t, m.Set(ctx, "b:1", []byte("3"), 0))

	require.NoError(t, m.DeleteByPrefix(ctx, "a:"))

	_, ok, _ := m.Get(ctx, "a:1")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "a:2")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "b:1")
	assert.True(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("abc"), 0))
	data, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	data[0] = 'x'
	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}
