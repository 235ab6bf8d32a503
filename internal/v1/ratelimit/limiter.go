// Package ratelimit implements the relay's sliding-window rate limits using
// a shared store (local memory by default, Redis when configured).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/vijayvir/screenai/internal/v1/config"
	"github.com/vijayvir/screenai/internal/v1/logging"
	"github.com/vijayvir/screenai/internal/v1/metrics"
	"go.uber.org/zap"
)

// RateLimiter holds the relay's two sliding windows:
//   - per-session inbound control messages (default 100/s)
//   - per-IP room creations (default 10/h)
type RateLimiter struct {
	messages      *limiter.Limiter
	roomCreations *limiter.Limiter
	store         limiter.Store
	redisClient   *redis.Client
}

// NewRateLimiter creates a RateLimiter from configured rate strings
// (ulule format, e.g. "100-S", "10-H"). A nil redisClient selects the
// in-process memory store; its cleanup interval bounds idle-bucket memory.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	messagesRate, err := limiter.NewRateFromFormatted(cfg.RateLimitMessages)
	if err != nil {
		return nil, fmt.Errorf("invalid message rate: %w", err)
	}

	roomCreationsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitRoomCreations)
	if err != nil {
		return nil, fmt.Errorf("invalid room creation rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "relay:limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          "relay:limiter:v1:",
			CleanUpInterval: 5 * time.Minute,
		})
		logging.Info(context.Background(), "Rate limiter using memory store")
	}

	return &RateLimiter{
		messages:      limiter.New(store, messagesRate),
		roomCreations: limiter.New(store, roomCreationsRate),
		store:         store,
		redisClient:   redisClient,
	}, nil
}

// AllowMessage counts one inbound control message for a session and reports
// whether it is within the window. Fails open if the store errors.
func (rl *RateLimiter) AllowMessage(ctx context.Context, sessionID string) bool {
	lctx, err := rl.messages.Get(ctx, "msg:"+sessionID)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (messages)", zap.Error(err))
		return true // Fail open
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("session_messages").Inc()
		return false
	}
	return true
}

// AllowRoomCreation counts one create-room attempt for an IP and reports
// whether it is within the window. Fails open if the store errors.
func (rl *RateLimiter) AllowRoomCreation(ctx context.Context, ip string) bool {
	lctx, err := rl.roomCreations.Get(ctx, "room:"+ip)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (room creations)", zap.Error(err))
		return true // Fail open
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ip_room_creations").Inc()
		return false
	}
	return true
}

// ReleaseSession is a hook for symmetry with session teardown. Buckets are
// time-keyed, so the store's cleanup interval reclaims them; nothing else
// to do here.
func (rl *RateLimiter) ReleaseSession(sessionID string) {}
