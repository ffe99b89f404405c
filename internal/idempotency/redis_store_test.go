package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRedisStoreLifecycle(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewRedisStore(ctx, addr)
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	key := "redis-" + now.Format(time.RFC3339Nano)
	rec := Record{
		Route:      "POST /api/v1/orders/current/pay",
		StatusCode: 200,
		Body:       []byte(`{"status":"ok"}`),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Minute),
	}
	require.NoError(t, store.Save(ctx, key, rec))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, rec.StatusCode, got.StatusCode)
	require.Equal(t, rec.Body, got.Body)

	missing, err := store.Get(ctx, key+"-missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	// already expired records are never written
	rec.ExpiresAt = now.Add(-time.Second)
	require.NoError(t, store.Save(ctx, key+"-old", rec))
	got, err = store.Get(ctx, key+"-old")
	require.NoError(t, err)
	require.Nil(t, got)
}
