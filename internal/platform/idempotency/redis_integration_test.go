package idempotency

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real Redis when API_TEST_REDIS_ADDR is set.
func TestRedisStore_Integration(t *testing.T) {
	addr := os.Getenv("API_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("API_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, "test:"+uuid.NewString()+":")
	require.NoError(t, store.Ping(ctx))
	now := time.Now().UTC()

	first, err := store.Reserve(ctx, "k", "fp", now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ReservationStateNew, first.State)

	pending, err := store.Reserve(ctx, "k", "fp", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, pending.State)

	_, err = store.Reserve(ctx, "k", "other", now, time.Minute)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	assert.ErrorIs(t, store.SaveResponse(ctx, "k", "not-the-token", Response{Status: 201}, now, time.Minute), ErrReservationLost)
	require.NoError(t, store.SaveResponse(ctx, "k", first.Token, Response{
		Status:  http.StatusCreated,
		Headers: http.Header{"Content-Type": {"application/json"}},
		Body:    []byte(`{"ok":true}`),
	}, now, time.Minute))

	done, err := store.Reserve(ctx, "k", "fp", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, done.State)
	assert.Equal(t, http.StatusCreated, done.Record.ResponseStatus)
	assert.Equal(t, []byte(`{"ok":true}`), done.Record.ResponseBody)
	assert.Equal(t, "fp", done.Record.Fingerprint)

	released, err := store.Reserve(ctx, "r", "fp", now, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "r", released.Token))
	again, err := store.Reserve(ctx, "r", "fp", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, again.State)
}
