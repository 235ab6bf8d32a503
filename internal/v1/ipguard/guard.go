// Package ipguard implements the two-layer IP throttle: an in-memory cache
// consulted synchronously on every admission, and a durable store that
// carries blocks across restarts. Durable I/O is wrapped in a circuit
// breaker so a failing database degrades the guard to cache-only operation
// instead of failing admissions.
package ipguard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vijayvir/screenai/internal/v1/audit"
	"github.com/vijayvir/screenai/internal/v1/logging"
	"github.com/vijayvir/screenai/internal/v1/metrics"
	"github.com/vijayvir/screenai/internal/v1/store"
	"go.uber.org/zap"
)

// DurableStore is the persistence contract the guard needs. Implemented by
// the SQLite store; nil means blocks live only in memory.
type DurableStore interface {
	ActiveBlockedIPs(ctx context.Context) ([]store.BlockedIP, error)
	UpsertBlockedIP(ctx context.Context, ip string, until time.Time, reason string) error
	DeleteBlockedIP(ctx context.Context, ip string) error
	PruneExpiredBlocks(ctx context.Context) (int64, error)
}

type failureEntry struct {
	count       int
	windowStart time.Time
}

// Guard tracks blocked IPs and failed-authentication counters.
type Guard struct {
	mu       sync.RWMutex
	blocked  map[string]time.Time // ip -> blocked_until
	failures map[string]*failureEntry

	threshold     int
	blockDuration time.Duration

	durable DurableStore
	cb      *gobreaker.CircuitBreaker
	auditor audit.Recorder

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// Options configures a Guard.
type Options struct {
	// FailedAuthBeforeBlock is the failure count that triggers a block.
	FailedAuthBeforeBlock int
	// BlockDuration is how long an automatic block lasts.
	BlockDuration time.Duration
	// Durable persists blocks across restarts. May be nil.
	Durable DurableStore
	// Auditor receives IP_BLOCKED / IP_UNBLOCKED events. May be nil.
	Auditor audit.Recorder
}

// New builds a Guard, warm-loading all non-expired blocks from the durable
// store into the cache, and starts the background sweeper.
func New(ctx context.Context, opts Options) (*Guard, error) {
	if opts.FailedAuthBeforeBlock <= 0 {
		opts.FailedAuthBeforeBlock = 5
	}
	if opts.BlockDuration <= 0 {
		opts.BlockDuration = 15 * time.Minute
	}
	if opts.Auditor == nil {
		opts.Auditor = audit.Nop{}
	}

	st := gobreaker.Settings{
		Name:        "ipguard-store",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("ipguard_store").Set(stateVal)
		},
	}

	g := &Guard{
		blocked:       make(map[string]time.Time),
		failures:      make(map[string]*failureEntry),
		threshold:     opts.FailedAuthBeforeBlock,
		blockDuration: opts.BlockDuration,
		durable:       opts.Durable,
		cb:            gobreaker.NewCircuitBreaker(st),
		auditor:       opts.Auditor,
		stopSweep:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}

	if g.durable != nil {
		blocks, err := g.durable.ActiveBlockedIPs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load persisted IP blocks: %w", err)
		}
		for _, b := range blocks {
			g.blocked[b.IP] = b.BlockedUntil
		}
		logging.Info(ctx, "loaded persisted IP blocks", zap.Int("count", len(blocks)))
	}
	metrics.BlockedIPs.Set(float64(len(g.blocked)))

	go g.sweep()
	return g, nil
}

// IsBlocked is the synchronous admission check. It consults only the
// in-memory cache and never touches durable storage.
func (g *Guard) IsBlocked(ip string) bool {
	g.mu.RLock()
	until, ok := g.blocked[ip]
	g.mu.RUnlock()
	return ok && time.Now().Before(until)
}

// RecordAuthFailure bumps the per-IP failed-authentication counter and
// blocks the IP once the threshold is crossed. Returns true if this call
// triggered a block.
func (g *Guard) RecordAuthFailure(ctx context.Context, ip string) bool {
	now := time.Now()

	g.mu.Lock()
	entry, ok := g.failures[ip]
	if !ok || now.Sub(entry.windowStart) > g.blockDuration {
		entry = &failureEntry{windowStart: now}
		g.failures[ip] = entry
	}
	entry.count++
	crossed := entry.count >= g.threshold
	if crossed {
		delete(g.failures, ip)
	}
	g.mu.Unlock()

	if !crossed {
		return false
	}
	g.Block(ctx, ip, g.blockDuration, "repeated authentication failures")
	return true
}

// Block inserts or refreshes a block in both layers atomically: the cache
// is updated first so admission checks see the block immediately, then the
// durable row is written through the breaker.
func (g *Guard) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	until := time.Now().Add(duration)

	g.mu.Lock()
	g.blocked[ip] = until
	metrics.BlockedIPs.Set(float64(len(g.blocked)))
	g.mu.Unlock()

	g.persist(ctx, func(c context.Context) error {
		return g.durable.UpsertBlockedIP(c, ip, until, reason)
	}, "upsert")

	g.auditor.Record(ctx, audit.Event{
		EventType: audit.EventIPBlocked,
		IPAddress: ip,
		Details:   reason,
		Severity:  audit.SeverityWarn,
	})
	logging.Warn(ctx, "IP blocked", zap.String("ip", ip), zap.Time("until", until), zap.String("reason", reason))
}

// Unblock removes a block from both layers. Admin path.
func (g *Guard) Unblock(ctx context.Context, ip string) {
	g.mu.Lock()
	delete(g.blocked, ip)
	delete(g.failures, ip)
	metrics.BlockedIPs.Set(float64(len(g.blocked)))
	g.mu.Unlock()

	g.persist(ctx, func(c context.Context) error {
		return g.durable.DeleteBlockedIP(c, ip)
	}, "delete")

	g.auditor.Record(ctx, audit.Event{
		EventType: audit.EventIPUnblocked,
		IPAddress: ip,
		Severity:  audit.SeverityInfo,
	})
	logging.Info(ctx, "IP unblocked", zap.String("ip", ip))
}

// persist runs one durable-store operation through the circuit breaker.
// Failures degrade to cache-only operation.
func (g *Guard) persist(ctx context.Context, op func(context.Context) error, name string) {
	if g.durable == nil {
		return
	}
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("ipguard_store").Inc()
			logging.Warn(ctx, "ipguard store breaker open, operating cache-only", zap.String("op", name))
			return
		}
		logging.Error(ctx, "ipguard durable store operation failed", zap.String("op", name), zap.Error(err))
	}
}

// sweep periodically evicts expired cache entries and stale failure
// counters, and prunes expired durable rows.
func (g *Guard) sweep() {
	defer close(g.sweepDone)
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopSweep:
			return
		case <-ticker.C:
			now := time.Now()

			g.mu.Lock()
			for ip, until := range g.blocked {
				if now.After(until) {
					delete(g.blocked, ip)
				}
			}
			for ip, entry := range g.failures {
				if now.Sub(entry.windowStart) > 2*g.blockDuration {
					delete(g.failures, ip)
				}
			}
			metrics.BlockedIPs.Set(float64(len(g.blocked)))
			g.mu.Unlock()

			if g.durable != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				g.persist(ctx, func(c context.Context) error {
					_, err := g.durable.PruneExpiredBlocks(c)
					return err
				}, "prune")
				cancel()
			}
		}
	}
}

// Close stops the background sweeper.
func (g *Guard) Close() {
	close(g.stopSweep)
	<-g.sweepDone
}
