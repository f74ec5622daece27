package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestIdempotencyKeyClaimLifecycle(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	_, claimed, err := client.ClaimIdempotencyKey(ctx, "checkout-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	orderID, claimed, err := client.ClaimIdempotencyKey(ctx, "checkout-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Zero(t, orderID)

	require.NoError(t, client.CompleteIdempotencyKey(ctx, "checkout-1", 17, time.Hour))

	orderID, claimed, err = client.ClaimIdempotencyKey(ctx, "checkout-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(17), orderID)

	mr.FastForward(2 * time.Hour)
	_, claimed, err = client.ClaimIdempotencyKey(ctx, "checkout-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestReleasedIdempotencyKeyCanBeClaimedAgain(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	_, claimed, err := client.ClaimIdempotencyKey(ctx, "checkout-2", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, client.ReleaseIdempotencyKey(ctx, "checkout-2"))
	assert.False(t, mr.Exists("idempotency:order:checkout-2"))

	_, claimed, err = client.ClaimIdempotencyKey(ctx, "checkout-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIdempotencyClaimRejectsCorruptEntry(t *testing.T) {
	client, mr := newTestClient(t)
	require.NoError(t, mr.Set("idempotency:order:checkout-3", "not-a-number"))

	_, claimed, err := client.ClaimIdempotencyKey(context.Background(), "checkout-3", time.Minute)
	assert.Error(t, err)
	assert.False(t, claimed)
}

func TestLockIsExclusiveUntilReleased(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	token, ok, err := client.AcquireLock(ctx, "payment:pi_1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = client.AcquireLock(ctx, "payment:pi_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.ReleaseLock(ctx, "payment:pi_1", token))

	_, ok, err = client.AcquireLock(ctx, "payment:pi_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseLockIgnoresForeignToken(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	stale, ok, err := client.AcquireLock(ctx, "payment:pi_2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	fresh, ok, err := client.AcquireLock(ctx, "payment:pi_2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, client.ReleaseLock(ctx, "payment:pi_2", stale))

	owner, err := mr.Get("lock:payment:pi_2")
	require.NoError(t, err)
	assert.Equal(t, fresh, owner)
}
