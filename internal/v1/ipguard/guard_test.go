package ipguard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayvir/screenai/internal/v1/store"
)

func newTestGuard(t *testing.T, opts Options) *Guard {
	t.Helper()
	g, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestBlockAndUnblock(t *testing.T) {
	g := newTestGuard(t, Options{})
	ctx := context.Background()

	assert.False(t, g.IsBlocked("203.0.113.7"))

	g.Block(ctx, "203.0.113.7", 15*time.Minute, "test")
	assert.True(t, g.IsBlocked("203.0.113.7"))
	assert.False(t, g.IsBlocked("203.0.113.8"), "blocks are per IP")

	g.Unblock(ctx, "203.0.113.7")
	assert.False(t, g.IsBlocked("203.0.113.7"))
}

func TestBlockExpires(t *testing.T) {
	g := newTestGuard(t, Options{})
	g.Block(context.Background(), "203.0.113.7", 10*time.Millisecond, "test")

	assert.True(t, g.IsBlocked("203.0.113.7"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, g.IsBlocked("203.0.113.7"), "expired block no longer matches")
}

func TestRecordAuthFailureThreshold(t *testing.T) {
	g := newTestGuard(t, Options{FailedAuthBeforeBlock: 3, BlockDuration: time.Minute})
	ctx := context.Background()

	assert.False(t, g.RecordAuthFailure(ctx, "203.0.113.7"))
	assert.False(t, g.RecordAuthFailure(ctx, "203.0.113.7"))
	assert.False(t, g.IsBlocked("203.0.113.7"), "below threshold")

	assert.True(t, g.RecordAuthFailure(ctx, "203.0.113.7"), "third failure triggers the block")
	assert.True(t, g.IsBlocked("203.0.113.7"))
}

func TestRecordAuthFailureIsolatedPerIP(t *testing.T) {
	g := newTestGuard(t, Options{FailedAuthBeforeBlock: 2})
	ctx := context.Background()

	assert.False(t, g.RecordAuthFailure(ctx, "203.0.113.1"))
	assert.False(t, g.RecordAuthFailure(ctx, "203.0.113.2"))
	assert.False(t, g.IsBlocked("203.0.113.1"))
	assert.False(t, g.IsBlocked("203.0.113.2"))
}

func TestDurablePersistenceAcrossRestart(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	g1 := newTestGuard(t, Options{Durable: st})
	g1.Block(ctx, "203.0.113.7", time.Hour, "persisted")

	// A fresh guard over the same store warm-loads the block.
	g2 := newTestGuard(t, Options{Durable: st})
	assert.True(t, g2.IsBlocked("203.0.113.7"))

	g2.Unblock(ctx, "203.0.113.7")
	blocks, err := st.ActiveBlockedIPs(ctx)
	require.NoError(t, err)
	assert.Empty(t, blocks, "unblock removes the durable row")
}
