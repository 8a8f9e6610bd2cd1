package httpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cypher-asi/z-billing/internal/ids"
)

// replayCache remembers the response of a committed usage report so a
// retried request can receive its original body instead of the 409 the
// durable idempotency check would produce. Entries are scoped to the
// charged user: a replayed event id only matches the account it was
// first billed against. The durable guarantee stays in the store; losing
// a cache entry only costs the retrier the nicer response.
type replayCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Entries outlive the typical client retry loop, not the idempotency
// window (which is forever, in the store).
const defaultReplayTTL = 24 * time.Hour

func newReplayCache(client *redis.Client, ttl time.Duration) *replayCache {
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return &replayCache{client: client, ttl: ttl}
}

// load returns the cached response for (user, event), if any. Safe on a
// nil cache or nil client.
func (c *replayCache) load(ctx context.Context, userID ids.UserID, eventID string) (usageResponse, bool) {
	if c == nil || c.client == nil || eventID == "" {
		return usageResponse{}, false
	}
	data, err := c.client.Get(ctx, replayKey(userID, eventID)).Bytes()
	if err != nil {
		return usageResponse{}, false
	}
	var resp usageResponse
	if err := json.Unmarshal(data, &resp); err != nil || !resp.Success {
		return usageResponse{}, false
	}
	return resp, true
}

// store records a successful response for later replay.
func (c *replayCache) store(ctx context.Context, userID ids.UserID, eventID string, resp usageResponse) {
	if c == nil || c.client == nil || eventID == "" || !resp.Success {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.client.Set(ctx, replayKey(userID, eventID), data, c.ttl)
}

func replayKey(userID ids.UserID, eventID string) string {
	return "usage-replay:" + userID.String() + ":" + eventID
}
