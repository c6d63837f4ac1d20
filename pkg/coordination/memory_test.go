package coordination

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIsSetIfAbsent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rev, err := s.Create(ctx, "k", []byte("v1"))
	require.NoError(t, err)
	assert.NotZero(t, rev)

	_, err = s.Create(ctx, "k", []byte("v2"))
	assert.ErrorIs(t, err, ErrKeyExists)

	entry, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), entry.Value)
}

func TestUpdateChecksRevision(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rev, err := s.Create(ctx, "k", []byte("v1"))
	require.NoError(t, err)

	rev2, err := s.Update(ctx, "k", []byte("v2"), rev)
	require.NoError(t, err)
	assert.Greater(t, rev2, rev)

	// Stale revision loses.
	_, err = s.Update(ctx, "k", []byte("v3"), rev)
	assert.ErrorIs(t, err, ErrRevisionMismatch)

	entry, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), entry.Value)
}

func TestDeleteAndKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, k := range []string{"slot.node-1.0", "slot.node-1.1", "slot.node-2.0", "leader.ttl"} {
		_, err := s.Create(ctx, k, []byte("x"))
		require.NoError(t, err)
	}

	keys, err := s.Keys(ctx, "slot.node-1.")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, s.Delete(ctx, "slot.node-1.0"))
	require.NoError(t, s.Delete(ctx, "slot.node-1.0"), "deleting a missing key is a no-op")

	_, err = s.Get(ctx, "slot.node-1.0")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
