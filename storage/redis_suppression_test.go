package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisStore(t *testing.T) (*RedisSuppressionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewRedisSuppressionStore(mr.Addr(), "", 0, 2, zap.NewNop().Sugar())
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisSuppressionWindow(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	suppressed, err := store.IsSuppressed(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, suppressed)

	require.NoError(t, store.Suppress(ctx, "fp-1", 5*time.Minute))

	suppressed, err = store.IsSuppressed(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, suppressed)

	// other fingerprints are unaffected
	suppressed, err = store.IsSuppressed(ctx, "fp-2")
	require.NoError(t, err)
	assert.False(t, suppressed)

	// window expiry clears suppression
	mr.FastForward(6 * time.Minute)
	suppressed, err = store.IsSuppressed(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestRedisCooldownFirings(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	_, ok, err := store.LastFiring(ctx, "db_connection_failure")
	require.NoError(t, err)
	assert.False(t, ok)

	firedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordFiring(ctx, "db_connection_failure", firedAt, 10*time.Minute))

	got, ok, err := store.LastFiring(ctx, "db_connection_failure")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(firedAt))

	mr.FastForward(11 * time.Minute)
	_, ok, err = store.LastFiring(ctx, "db_connection_failure")
	require.NoError(t, err)
	assert.False(t, ok)
}
