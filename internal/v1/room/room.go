// Package room implements the relay's room state machine: presenter and
// viewer membership, password/approval/ban/kick policy, and the binary
// fan-out engine.
//
// Concurrency Design:
// Every room owns a mutex held across the whole of each command handler,
// which makes membership reads and transitions linearizable within the
// room. Cross-session effects happen exclusively by enqueueing frames on
// the target peers' bounded outbound queues; enqueueing never blocks, so no
// suspension occurs while the lock is held.
package room

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/set"

	"github.com/vijayvir/screenai/internal/v1/audit"
	"github.com/vijayvir/screenai/internal/v1/credentials"
	"github.com/vijayvir/screenai/internal/v1/logging"
	"github.com/vijayvir/screenai/internal/v1/metrics"
	"github.com/vijayvir/screenai/internal/v1/protocol"
	"go.uber.org/zap"
)

// Role of a session within a room.
type Role string

const (
	RoleNone      Role = "none"
	RolePresenter Role = "presenter"
	RoleViewer    Role = "viewer"
	RolePending   Role = "pending-viewer"
)

// Errors surfaced to the command layer, which maps them to protocol codes.
var (
	ErrClosed          = errors.New("room is closed")
	ErrBanned          = errors.New("session is banned from this room")
	ErrFull            = errors.New("room is full")
	ErrAccessDenied    = errors.New("invalid password or access code")
	ErrAlreadyMember   = errors.New("session is already in the room")
	ErrPendingApproval = errors.New("session is awaiting approval")
	ErrNotPresenter    = errors.New("session is not the presenter")
	ErrUnknownViewer   = errors.New("no such viewer session")
	ErrPayloadTooLarge = errors.New("binary payload too large")
)

// Peer is the outbound surface of a session the room interacts with.
// Enqueue methods are non-blocking: they report false when the peer's
// outbound queue is full or closed.
type Peer interface {
	SessionID() string
	Username() string
	EnqueueText(frame []byte) bool
	EnqueueBinary(frame []byte) bool
	// ClearRoom detaches the peer's room association. Called when the room
	// removes the peer (deny, kick, ban, teardown).
	ClearRoom()
}

// viewerRecord tracks one admitted viewer.
type viewerRecord struct {
	peer     Peer
	username string
	joinedAt time.Time
}

// pendingRecord tracks one viewer awaiting presenter approval.
type pendingRecord struct {
	peer        Peer
	username    string
	requestedAt time.Time
}

// Config carries the creation-time knobs for a room.
type Config struct {
	// PasswordHash protects the room when non-empty. The caller hashes the
	// plain-text password (bcrypt, or a legacy digest paired with
	// LegacySalt) before construction so no plain text is retained.
	PasswordHash string
	LegacySalt   string
	// MaxViewers caps admitted viewers. The caller clamps it to [1,100].
	MaxViewers int
	// AccessCodeTTL bounds the shareable access code's validity.
	AccessCodeTTL time.Duration
	// MaxPayloadBytes caps a single relayed binary frame.
	MaxPayloadBytes int
	// Auditor receives the room's security events. May be nil.
	Auditor audit.Recorder
}

// Room is one live relay session group: a single presenter fanning out an
// opaque binary stream to admitted viewers.
type Room struct {
	id string
	mu sync.RWMutex

	presenterID string
	presenter   Peer

	viewers map[string]*viewerRecord
	pending map[string]*pendingRecord
	banned  set.Set[string]

	passwordHash string
	legacySalt   string
	accessCode   credentials.AccessCode

	requiresApproval bool
	maxViewers       int
	maxPayloadBytes  int
	createdAt        time.Time
	closed           bool

	// cachedInit is replaced wholesale on every detected init segment.
	cachedInit atomic.Pointer[[]byte]

	droppedFrames atomic.Uint64

	auditor audit.Recorder
}

// New creates a room owned by presenter. If cfg.PasswordHash is set the
// room becomes approval-gated and an access code is generated.
func New(id string, presenter Peer, cfg Config) (*Room, error) {
	r := &Room{
		id:              id,
		presenterID:     presenter.SessionID(),
		presenter:       presenter,
		viewers:         make(map[string]*viewerRecord),
		pending:         make(map[string]*pendingRecord),
		banned:          set.New[string](),
		passwordHash:    cfg.PasswordHash,
		legacySalt:      cfg.LegacySalt,
		maxViewers:      cfg.MaxViewers,
		maxPayloadBytes: cfg.MaxPayloadBytes,
		createdAt:       time.Now(),
		auditor:         cfg.Auditor,
	}
	if r.auditor == nil {
		r.auditor = audit.Nop{}
	}

	if r.passwordHash != "" {
		r.requiresApproval = true

		ttl := cfg.AccessCodeTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		code, err := credentials.NewAccessCode(ttl)
		if err != nil {
			return nil, err
		}
		r.accessCode = code
	}

	return r, nil
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.id
}

// PresenterID returns the presenter's session id.
func (r *Room) PresenterID() string {
	return r.presenterID
}

// AccessCode returns the current access code ("" when unset).
func (r *Room) AccessCode() string {
	return r.accessCode.Code
}

// PasswordProtected reports whether a password hash is stored.
func (r *Room) PasswordProtected() bool {
	return r.passwordHash != ""
}

// RequiresApproval reports whether joins are approval-gated.
func (r *Room) RequiresApproval() bool {
	return r.requiresApproval
}

// ViewerCount returns the number of admitted viewers.
func (r *Room) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

// DroppedFrames returns the cumulative per-room dropped-frame counter.
func (r *Room) DroppedFrames() uint64 {
	return r.droppedFrames.Load()
}

// RoleOf reports the session's role within the room.
func (r *Room) RoleOf(sessionID string) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roleOfLocked(sessionID)
}

func (r *Room) roleOfLocked(sessionID string) Role {
	switch {
	case sessionID == r.presenterID:
		return RolePresenter
	case r.viewers[sessionID] != nil:
		return RoleViewer
	case r.pending[sessionID] != nil:
		return RolePending
	default:
		return RoleNone
	}
}

// JoinResult reports the outcome of an admission attempt.
type JoinResult struct {
	Pending     bool
	ViewerCount int
}

// Join admits a peer, parks it pending approval, or rejects it. The access
// check grants entry iff either the access code matches and has not
// expired, or the password verifies against the stored hash.
func (r *Room) Join(ctx context.Context, p Peer, password, accessCode string) (JoinResult, error) {
	sid := p.SessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return JoinResult{}, ErrClosed
	}
	if r.banned.Has(sid) {
		r.auditor.Record(ctx, audit.Event{
			EventType: audit.EventRoomAccessDenied,
			Username:  p.Username(),
			SessionID: sid,
			RoomID:    r.id,
			Details:   "banned session attempted rejoin",
			Severity:  audit.SeverityWarn,
		})
		return JoinResult{}, ErrBanned
	}
	switch r.roleOfLocked(sid) {
	case RolePresenter, RoleViewer:
		return JoinResult{}, ErrAlreadyMember
	case RolePending:
		return JoinResult{}, ErrPendingApproval
	}
	if len(r.viewers) >= r.maxViewers {
		return JoinResult{}, ErrFull
	}

	if r.passwordHash != "" {
		codeOK := r.accessCode.Valid(accessCode, time.Now())
		passwordOK := password != "" && credentials.VerifyPassword(password, r.passwordHash, r.legacySalt)
		if !codeOK && !passwordOK {
			r.auditor.Record(ctx, audit.Event{
				EventType: audit.EventRoomAccessDenied,
				Username:  p.Username(),
				SessionID: sid,
				RoomID:    r.id,
				Details:   "password or access code rejected",
				Severity:  audit.SeverityWarn,
			})
			return JoinResult{}, ErrAccessDenied
		}
	}

	if r.requiresApproval {
		r.pending[sid] = &pendingRecord{peer: p, username: p.Username(), requestedAt: time.Now()}
		p.EnqueueText(protocol.WaitingApproval(r.id))
		r.enqueuePresenter(protocol.ViewerRequest(sid, p.Username(), len(r.pending)))
		return JoinResult{Pending: true, ViewerCount: len(r.viewers)}, nil
	}

	r.admitLocked(ctx, p)
	return JoinResult{ViewerCount: len(r.viewers)}, nil
}

// admitLocked runs the viewer join sequence. The init segment, when cached,
// is enqueued immediately after the room-joined confirmation and therefore
// precedes every subsequently relayed frame for this viewer.
func (r *Room) admitLocked(ctx context.Context, p Peer) {
	sid := p.SessionID()
	r.viewers[sid] = &viewerRecord{peer: p, username: p.Username(), joinedAt: time.Now()}

	p.EnqueueText(protocol.RoomJoined(r.id, len(r.viewers)))
	if init := r.cachedInit.Load(); init != nil {
		p.EnqueueBinary(*init)
	}
	r.enqueuePresenter(protocol.ViewerCount(len(r.viewers)))

	metrics.RoomViewers.WithLabelValues(r.id).Set(float64(len(r.viewers)))
	r.auditor.Record(ctx, audit.Event{
		EventType: audit.EventRoomJoined,
		Username:  p.Username(),
		SessionID: sid,
		RoomID:    r.id,
		Severity:  audit.SeverityInfo,
	})
}

// Approve moves a pending viewer into the viewer set and runs the join
// sequence. Both transitions happen under one lock acquisition, so no
// partial state is ever observable.
func (r *Room) Approve(ctx context.Context, requesterID, viewerSessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requesterID != r.presenterID {
		return ErrNotPresenter
	}
	rec, ok := r.pending[viewerSessionID]
	if !ok {
		return ErrUnknownViewer
	}

	delete(r.pending, viewerSessionID)
	r.admitLocked(ctx, rec.peer)
	r.enqueuePresenter(protocol.PendingUpdate(protocol.TypeViewerApproved, viewerSessionID, len(r.pending)))

	r.auditor.Record(ctx, audit.Event{
		EventType: audit.EventViewerApproved,
		Username:  rec.username,
		SessionID: viewerSessionID,
		RoomID:    r.id,
		Severity:  audit.SeverityInfo,
	})
	return nil
}

// Deny removes a pending viewer and tells it access was denied.
func (r *Room) Deny(ctx context.Context, requesterID, viewerSessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requesterID != r.presenterID {
		return ErrNotPresenter
	}
	rec, ok := r.pending[viewerSessionID]
	if !ok {
		return ErrUnknownViewer
	}

	delete(r.pending, viewerSessionID)
	rec.peer.EnqueueText(protocol.Notice(protocol.TypeAccessDenied, "the presenter denied your request"))
	rec.peer.ClearRoom()
	r.enqueuePresenter(protocol.PendingUpdate(protocol.TypeViewerDenied, viewerSessionID, len(r.pending)))

	r.auditor.Record(ctx, audit.Event{
		EventType: audit.EventViewerDenied,
		Username:  rec.username,
		SessionID: viewerSessionID,
		RoomID:    r.id,
		Severity:  audit.SeverityInfo,
	})
	return nil
}

// Kick removes a viewer. Kicked viewers may rejoin.
func (r *Room) Kick(ctx context.Context, requesterID, viewerSessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requesterID != r.presenterID {
		return ErrNotPresenter
	}
	rec, ok := r.viewers[viewerSessionID]
	if !ok {
		return ErrUnknownViewer
	}

	delete(r.viewers, viewerSessionID)
	rec.peer.EnqueueText(protocol.Notice(protocol.TypeKicked, "you were removed from the room"))
	rec.peer.ClearRoom()
	r.enqueuePresenter(protocol.ViewerUpdate(protocol.TypeViewerKicked, viewerSessionID, len(r.viewers)))
	metrics.RoomViewers.WithLabelValues(r.id).Set(float64(len(r.viewers)))

	r.auditor.Record(ctx, audit.Event{
		EventType: audit.EventViewerKicked,
		Username:  rec.username,
		SessionID: viewerSessionID,
		RoomID:    r.id,
		Severity:  audit.SeverityWarn,
	})
	return nil
}

// Ban removes a viewer (or pending viewer) and bars the session id from
// rejoining this room instance. The ban is session-scoped: it is lost when
// the room is destroyed, and a reconnecting user gets a fresh session id.
func (r *Room) Ban(ctx context.Context, requesterID, viewerSessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requesterID != r.presenterID {
		return ErrNotPresenter
	}

	var peer Peer
	var username string
	if rec, ok := r.viewers[viewerSessionID]; ok {
		peer, username = rec.peer, rec.username
		delete(r.viewers, viewerSessionID)
	} else if rec, ok := r.pending[viewerSessionID]; ok {
		peer, username = rec.peer, rec.username
		delete(r.pending, viewerSessionID)
	} else {
		return ErrUnknownViewer
	}

	r.banned.Insert(viewerSessionID)
	peer.EnqueueText(protocol.Notice(protocol.TypeBanned, "you were banned from the room"))
	peer.ClearRoom()
	r.enqueuePresenter(protocol.ViewerUpdate(protocol.TypeViewerBanned, viewerSessionID, len(r.viewers)))
	metrics.RoomViewers.WithLabelValues(r.id).Set(float64(len(r.viewers)))

	r.auditor.Record(ctx, audit.Event{
		EventType: audit.EventViewerBanned,
		Username:  username,
		SessionID: viewerSessionID,
		RoomID:    r.id,
		Severity:  audit.SeverityWarn,
	})
	return nil
}

// Detach removes a session from the room on leave or disconnect. When the
// presenter detaches the room is torn down: every viewer and pending viewer
// is notified and forcibly detached. Returns true when the room was
// destroyed and must be dropped from the registry.
func (r *Room) Detach(ctx context.Context, sessionID string) (destroyed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	switch r.roleOfLocked(sessionID) {
	case RolePresenter:
		r.teardownLocked(ctx, "the presenter left")
		return true

	case RoleViewer:
		rec := r.viewers[sessionID]
		delete(r.viewers, sessionID)
		r.enqueuePresenter(protocol.ViewerCount(len(r.viewers)))
		metrics.RoomViewers.WithLabelValues(r.id).Set(float64(len(r.viewers)))
		r.auditor.Record(ctx, audit.Event{
			EventType: audit.EventRoomLeft,
			Username:  rec.username,
			SessionID: sessionID,
			RoomID:    r.id,
			Severity:  audit.SeverityInfo,
		})

	case RolePending:
		rec := r.pending[sessionID]
		delete(r.pending, sessionID)
		r.enqueuePresenter(protocol.ViewerCount(len(r.viewers)))
		r.auditor.Record(ctx, audit.Event{
			EventType: audit.EventRoomLeft,
			Username:  rec.username,
			SessionID: sessionID,
			RoomID:    r.id,
			Severity:  audit.SeverityInfo,
		})
	}
	return false
}

// Close tears the room down regardless of who asks (registry reclaim,
// server shutdown).
func (r *Room) Close(ctx context.Context, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.teardownLocked(ctx, reason)
}

// teardownLocked notifies and detaches every member, then marks the room
// closed. Viewers receive presenter-left rather than an error.
func (r *Room) teardownLocked(ctx context.Context, reason string) {
	frame := protocol.Notice(protocol.TypePresenterLeft, reason)
	for _, rec := range r.viewers {
		rec.peer.EnqueueText(frame)
		rec.peer.ClearRoom()
	}
	for _, rec := range r.pending {
		rec.peer.EnqueueText(frame)
		rec.peer.ClearRoom()
	}
	r.viewers = make(map[string]*viewerRecord)
	r.pending = make(map[string]*pendingRecord)
	r.closed = true

	metrics.RoomViewers.DeleteLabelValues(r.id)
	r.auditor.Record(ctx, audit.Event{
		EventType: audit.EventRoomDeleted,
		SessionID: r.presenterID,
		RoomID:    r.id,
		Details:   reason,
		Severity:  audit.SeverityInfo,
	})
	logging.Info(ctx, "room destroyed", zap.String("roomId", r.id), zap.String("reason", reason))
}

// enqueuePresenter pushes a control frame onto the presenter's queue.
func (r *Room) enqueuePresenter(frame []byte) {
	if r.presenter != nil {
		r.presenter.EnqueueText(frame)
	}
}
