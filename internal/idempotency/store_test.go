package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pressplane/pressplane/internal/clock"
	"github.com/pressplane/pressplane/internal/config"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *clock.FakeClock) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	return NewStore(client, holder, clk, zap.NewNop()), srv, clk
}

func TestKeyIsOpaque(t *testing.T) {
	assert.Equal(t, "idempotency:billing:assignPlan:plan-pro:org-1", Key("assignPlan:plan-pro", "org-1"))
	assert.NotEqual(t, Key("assignPlan:p", "org-1"), Key("assignPlan:p", " org-1"))
}

func TestTryClaimFirstAttempt(t *testing.T) {
	store, srv, clk := newTestStore(t)
	ctx := context.Background()
	key := Key("assignPlan:plan-pro", "org-1")

	outcome, err := store.TryClaim(ctx, key)
	require.NoError(t, err)
	assert.True(t, outcome.Claimed)

	// The claim is a processing record stamped with the claim time.
	raw, err := srv.Get(key)
	require.NoError(t, err)
	assert.Contains(t, raw, `"status":"processing"`)
	assert.Contains(t, raw, clk.Now().Format("2006-01-02"))

	ttl := srv.TTL(key)
	assert.Equal(t, time.Hour, ttl)
}

func TestTryClaimSecondAttemptReturnsEntry(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	key := Key("assignPlan:plan-pro", "org-1")

	first, err := store.TryClaim(ctx, key)
	require.NoError(t, err)
	require.True(t, first.Claimed)

	second, err := store.TryClaim(ctx, key)
	require.NoError(t, err)
	assert.False(t, second.Claimed)
	require.NotNil(t, second.Entry)
	assert.Equal(t, StatusProcessing, second.Entry.Status)
}

func TestTryClaimReplaysCompletedResult(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	key := Key("assignPlan:plan-pro", "org-1")

	_, err := store.TryClaim(ctx, key)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, key, StatusCompleted,
		map[string]any{"subscription_id": "123"}, ""))

	outcome, err := store.TryClaim(ctx, key)
	require.NoError(t, err)
	assert.False(t, outcome.Claimed)
	require.NotNil(t, outcome.Entry)
	assert.Equal(t, StatusCompleted, outcome.Entry.Status)
	assert.Equal(t, "123", outcome.Entry.Result["subscription_id"])
}

func TestTryClaimReplaysFailure(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	key := Key("assignPlan:plan-pro", "org-1")

	_, err := store.TryClaim(ctx, key)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, key, StatusFailed, nil, "plan_not_found"))

	outcome, err := store.TryClaim(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, outcome.Entry)
	assert.Equal(t, StatusFailed, outcome.Entry.Status)
	assert.Equal(t, "plan_not_found", outcome.Entry.Error)
}

func TestTryClaimCorruptedEntry(t *testing.T) {
	store, srv, _ := newTestStore(t)
	ctx := context.Background()
	key := Key("assignPlan:plan-pro", "org-1")

	require.NoError(t, srv.Set(key, "{not json"))
	outcome, err := store.TryClaim(ctx, key)
	assert.ErrorIs(t, err, ErrEntryCorrupted)
	assert.False(t, outcome.Claimed)

	// A parseable record with no status is treated the same way.
	require.NoError(t, srv.Set(key, `{"result":{}}`))
	_, err = store.TryClaim(ctx, key)
	assert.ErrorIs(t, err, ErrEntryCorrupted)
}

func TestTryClaimAfterExpiry(t *testing.T) {
	store, srv, _ := newTestStore(t)
	ctx := context.Background()
	key := Key("assignPlan:plan-pro", "org-1")

	_, err := store.TryClaim(ctx, key)
	require.NoError(t, err)

	srv.FastForward(time.Hour + time.Second)

	outcome, err := store.TryClaim(ctx, key)
	require.NoError(t, err)
	assert.True(t, outcome.Claimed)
}

func TestSetStatusRefreshesTTL(t *testing.T) {
	store, srv, _ := newTestStore(t)
	ctx := context.Background()
	key := Key("assignPlan:plan-pro", "org-1")

	_, err := store.TryClaim(ctx, key)
	require.NoError(t, err)

	srv.FastForward(30 * time.Minute)
	require.NoError(t, store.SetStatus(ctx, key, StatusCompleted,
		map[string]any{"subscription_id": "123"}, ""))

	assert.Equal(t, time.Hour, srv.TTL(key))
}

func TestDelete(t *testing.T) {
	store, srv, _ := newTestStore(t)
	ctx := context.Background()
	key := Key("assignPlan:plan-pro", "org-1")

	_, err := store.TryClaim(ctx, key)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, key))
	assert.False(t, srv.Exists(key))
}

func TestTryClaimTransportErrorPropagates(t *testing.T) {
	store, srv, _ := newTestStore(t)
	srv.Close()

	_, err := store.TryClaim(context.Background(), Key("assignPlan:plan-pro", "org-1"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrEntryCorrupted)
}
