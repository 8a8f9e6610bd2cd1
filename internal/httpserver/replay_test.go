package httpserver

import (
	"context"
	"net/http"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypher-asi/z-billing/internal/app"
	"github.com/cypher-asi/z-billing/internal/config"
	"github.com/cypher-asi/z-billing/internal/ids"
	"github.com/cypher-asi/z-billing/internal/store"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client
}

func TestReplayCacheRoundTrip(t *testing.T) {
	cache := newReplayCache(newRedisClient(t), time.Minute)
	ctx := context.Background()
	userID := ids.NewUserID()

	_, ok := cache.load(ctx, userID, "evt_1")
	assert.False(t, ok)

	resp := usageResponse{
		Success:       true,
		BalanceCents:  4999,
		CostCents:     1,
		TransactionID: ids.NewTransactionID().String(),
	}
	cache.store(ctx, userID, "evt_1", resp)

	got, ok := cache.load(ctx, userID, "evt_1")
	require.True(t, ok)
	assert.Equal(t, resp, got)

	// Entries are scoped to the charged user: the same event id under a
	// different account does not match.
	_, ok = cache.load(ctx, ids.NewUserID(), "evt_1")
	assert.False(t, ok)
}

func TestReplayCacheSkipsFailuresAndNil(t *testing.T) {
	cache := newReplayCache(newRedisClient(t), time.Minute)
	ctx := context.Background()
	userID := ids.NewUserID()

	// Only successful responses are worth replaying.
	cache.store(ctx, userID, "evt_fail", usageResponse{Success: false})
	_, ok := cache.load(ctx, userID, "evt_fail")
	assert.False(t, ok)

	var nilCache *replayCache
	nilCache.store(ctx, userID, "evt", usageResponse{Success: true})
	_, ok = nilCache.load(ctx, userID, "evt")
	assert.False(t, ok)
}

func TestReportUsageRetryReplaysOriginalResponse(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.Server.ListenAddr = ":0"
	cfg.Server.MaxBodyBytes = 1 << 20
	cfg.Server.RequestTimeoutSeconds = 5
	cfg.Auth.ServiceAPIKey = testAPIKey
	cfg.Analytics.QueueSize = 8
	cfg.Analytics.Timeout = time.Second
	cfg.Subscriptions.PastDueGraceDays = 14

	container, err := app.NewContainer(context.Background(), cfg, st, newRedisClient(t))
	require.NoError(t, err)
	server, err := New(container)
	require.NoError(t, err)

	userID := createAccountHTTP(t, server)
	fundAccount(t, server, userID, 5000)

	first := doJSON(t, server, http.MethodPost, "/v1/usage", llmUsageBody(userID, "e1"), nil)
	require.Equal(t, http.StatusOK, first.StatusCode)
	firstBody := decodeBody(t, first)

	// The retry is served from the replay cache with the original
	// transaction id, not the 409 the store would produce.
	retry := doJSON(t, server, http.MethodPost, "/v1/usage", llmUsageBody(userID, "e1"), nil)
	require.Equal(t, http.StatusOK, retry.StatusCode)
	assert.Equal(t, "true", retry.Header.Get("X-Replayed"))
	retryBody := decodeBody(t, retry)
	assert.Equal(t, firstBody["transaction_id"], retryBody["transaction_id"])
	assert.Equal(t, firstBody["balance_cents"], retryBody["balance_cents"])

	// The balance moved exactly once.
	check := doJSON(t, server, http.MethodPost, "/v1/usage/check-balance", map[string]any{
		"user_id":        userID.String(),
		"required_cents": 0,
	}, nil)
	require.Equal(t, http.StatusOK, check.StatusCode)
	assert.Equal(t, float64(4999), decodeBody(t, check)["balance_cents"])
}
