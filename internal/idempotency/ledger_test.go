package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerMarkAndSeen(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	rec, err := ledger.Seen(ctx, "order-service", "evt-1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, ledger.Mark(ctx, "order-service", "evt-1", []byte(`{"ok":true}`)))

	rec, err = ledger.Seen(ctx, "order-service", "evt-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "order-service", rec.Group)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Outcome))
}

func TestMemoryLedgerDetectsDuplicateMark(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	require.NoError(t, ledger.Mark(ctx, "order-service", "evt-1", nil))
	err := ledger.Mark(ctx, "order-service", "evt-1", nil)
	assert.ErrorIs(t, err, ErrDuplicateMark)
}

func TestMemoryLedgerKeysPerGroup(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	require.NoError(t, ledger.Mark(ctx, "order-service", "evt-1", nil))

	rec, err := ledger.Seen(ctx, "inventory-service", "evt-1")
	require.NoError(t, err)
	assert.Nil(t, rec, "ledger is keyed independently per consumer group")
}

func TestSeenCacheRemembersEvents(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := NewSeenCache(client, time.Hour)

	assert.False(t, cache.Seen(ctx, "order-service", "evt-1"))
	cache.Remember(ctx, "order-service", "evt-1")
	assert.True(t, cache.Seen(ctx, "order-service", "evt-1"))
	assert.False(t, cache.Seen(ctx, "inventory-service", "evt-1"))
}

func TestSeenCacheEntriesExpire(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := NewSeenCache(client, time.Minute)

	cache.Remember(ctx, "order-service", "evt-1")
	srv.FastForward(2 * time.Minute)
	assert.False(t, cache.Seen(ctx, "order-service", "evt-1"))
}

func TestNilSeenCacheIsSafe(t *testing.T) {
	ctx := context.Background()
	var cache *SeenCache
	assert.False(t, cache.Seen(ctx, "order-service", "evt-1"))
	cache.Remember(ctx, "order-service", "evt-1")
}
