package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySuppressionStore(t *testing.T) {
	store := NewMemorySuppressionStore(time.Hour)
	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }
	ctx := context.Background()

	suppressed, err := store.IsSuppressed(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, suppressed)

	require.NoError(t, store.Suppress(ctx, "fp-1", 5*time.Minute))

	suppressed, err = store.IsSuppressed(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, suppressed)

	current = current.Add(6 * time.Minute)
	suppressed, err = store.IsSuppressed(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestMemorySuppressionStoreFirings(t *testing.T) {
	store := NewMemorySuppressionStore(time.Hour)
	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }
	ctx := context.Background()

	_, ok, err := store.LastFiring(ctx, "cpu_high")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.RecordFiring(ctx, "cpu_high", current, 5*time.Minute))

	got, ok, err := store.LastFiring(ctx, "cpu_high")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(current))

	current = current.Add(10 * time.Minute)
	_, ok, err = store.LastFiring(ctx, "cpu_high")
	require.NoError(t, err)
	assert.False(t, ok)
}
