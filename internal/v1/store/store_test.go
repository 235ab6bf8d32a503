package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayvir/screenai/internal/v1/audit"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	st := newTestStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}

func TestBlockedIPLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	until := time.Now().Add(15 * time.Minute)
	require.NoError(t, st.UpsertBlockedIP(ctx, "203.0.113.7", until, "failed auth"))

	blocks, err := st.ActiveBlockedIPs(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "203.0.113.7", blocks[0].IP)
	assert.Equal(t, "failed auth", blocks[0].Reason)
	assert.WithinDuration(t, until, blocks[0].BlockedUntil, time.Second)

	// Upsert refreshes the expiry in place.
	later := until.Add(time.Hour)
	require.NoError(t, st.UpsertBlockedIP(ctx, "203.0.113.7", later, "admin"))
	blocks, err = st.ActiveBlockedIPs(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.WithinDuration(t, later, blocks[0].BlockedUntil, time.Second)
	assert.Equal(t, "admin", blocks[0].Reason)

	require.NoError(t, st.DeleteBlockedIP(ctx, "203.0.113.7"))
	blocks, err = st.ActiveBlockedIPs(ctx)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestBlockedIPRequiresIP(t *testing.T) {
	st := newTestStore(t)
	assert.Error(t, st.UpsertBlockedIP(context.Background(), "  ", time.Now(), ""))
}

func TestActiveBlockedIPsSkipsExpired(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertBlockedIP(ctx, "198.51.100.1", time.Now().Add(-time.Minute), "expired"))
	require.NoError(t, st.UpsertBlockedIP(ctx, "198.51.100.2", time.Now().Add(time.Minute), "active"))

	blocks, err := st.ActiveBlockedIPs(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "198.51.100.2", blocks[0].IP)

	pruned, err := st.PruneExpiredBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}

func TestAuditEventRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := audit.Event{
		EventType: audit.EventRoomCreated,
		Username:  "al***ce",
		SessionID: "12345678",
		RoomID:    "demo",
		IPAddress: "203.0.113.7",
		Details:   "room created",
		Severity:  audit.SeverityInfo,
		CreatedAt: time.Now().Add(-time.Minute),
	}
	second := audit.Event{
		EventType: audit.EventViewerBanned,
		RoomID:    "demo",
		Severity:  audit.SeverityWarn,
		CreatedAt: time.Now(),
	}
	require.NoError(t, st.InsertAuditEvent(ctx, first))
	require.NoError(t, st.InsertAuditEvent(ctx, second))

	events, err := st.RecentAuditEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, audit.EventViewerBanned, events[0].EventType)
	assert.Equal(t, audit.EventRoomCreated, events[1].EventType)
	assert.Equal(t, "al***ce", events[1].Username)
	assert.Equal(t, audit.SeverityInfo, events[1].Severity)
}

func TestRecentAuditEventsDefaultLimit(t *testing.T) {
	st := newTestStore(t)
	events, err := st.RecentAuditEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestUserRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, User{Username: "alice", DisplayName: "Alice"}))

	u, err := st.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, "user", u.Role, "role defaults to user")

	require.NoError(t, st.UpsertUser(ctx, User{Username: "alice", DisplayName: "Alice B", Role: "admin"}))
	u, err = st.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice B", u.DisplayName)
	assert.Equal(t, "admin", u.Role)

	_, err = st.UserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
