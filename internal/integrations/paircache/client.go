// Package paircache is the Redis fast path in front of the participant
// registry: it memoizes pair→conversation resolution and each user's last
// inbox activity per conversation. It is strictly an optimization — every
// caller treats a miss or an error the same way and falls back to the
// store.
package paircache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"messenger-store/internal/identity"
)

// ErrCacheMiss reports that the key is not cached.
var ErrCacheMiss = errors.New("paircache: miss")

const defaultTTL = 24 * time.Hour

// redisAPI is the minimal Redis interface required by Client.
// *redis.Client satisfies it.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Client caches conversation identities and inbox recency in Redis.
type Client struct {
	api redisAPI
	ttl time.Duration
}

// New creates a Client over an existing Redis connection.
func New(api redisAPI, ttl time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("paircache: api must not be nil")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Client{api: api, ttl: ttl}, nil
}

// Dial connects to Redis by URL and verifies the connection.
func Dial(ctx context.Context, redisURL string, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("paircache: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("paircache: ping: %w", err)
	}
	return New(client, ttl)
}

// pairKey is keyed by the canonical pair, so either argument order of the
// original send resolves to the same entry.
func pairKey(p identity.Pair) string {
	return fmt.Sprintf("dm:pair:%d:%d", p.User1, p.User2)
}

func activityKey(userID, conversationID int64) string {
	return fmt.Sprintf("dm:last:%d:%d", userID, conversationID)
}

// Conversation returns the cached conversation id for a pair.
func (c *Client) Conversation(ctx context.Context, pair identity.Pair) (int64, error) {
	val, err := c.api.Get(ctx, pairKey(pair)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrCacheMiss
	}
	if err != nil {
		return 0, fmt.Errorf("paircache: Conversation: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("paircache: Conversation decode: %w", err)
	}
	return id, nil
}

// SetConversation caches the resolved conversation id for a pair.
func (c *Client) SetConversation(ctx context.Context, pair identity.Pair, conversationID int64) error {
	err := c.api.Set(ctx, pairKey(pair), strconv.FormatInt(conversationID, 10), c.ttl).Err()
	if err != nil {
		return fmt.Errorf("paircache: SetConversation: %w", err)
	}
	return nil
}

// LastActivity returns the cached clustering position of the user's inbox
// entry for the conversation.
func (c *Client) LastActivity(ctx context.Context, userID, conversationID int64) (time.Time, error) {
	val, err := c.api.Get(ctx, activityKey(userID, conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrCacheMiss
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("paircache: LastActivity: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("paircache: LastActivity decode: %w", err)
	}
	return ts, nil
}

// SetLastActivity caches the user's new inbox position after a successful
// fanout.
func (c *Client) SetLastActivity(ctx context.Context, userID, conversationID int64, ts time.Time) error {
	err := c.api.Set(ctx, activityKey(userID, conversationID), ts.UTC().Format(time.RFC3339Nano), c.ttl).Err()
	if err != nil {
		return fmt.Errorf("paircache: SetLastActivity: %w", err)
	}
	return nil
}
