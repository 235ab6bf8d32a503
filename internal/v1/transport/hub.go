package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vijayvir/screenai/internal/v1/audit"
	"github.com/vijayvir/screenai/internal/v1/auth"
	"github.com/vijayvir/screenai/internal/v1/config"
	"github.com/vijayvir/screenai/internal/v1/ipguard"
	"github.com/vijayvir/screenai/internal/v1/logging"
	"github.com/vijayvir/screenai/internal/v1/metrics"
	"github.com/vijayvir/screenai/internal/v1/protocol"
	"github.com/vijayvir/screenai/internal/v1/ratelimit"
	"github.com/vijayvir/screenai/internal/v1/room"
	"github.com/vijayvir/screenai/internal/v1/validation"
)

// TokenValidator validates opaque bearer tokens at session admission. The
// relay never mints or refreshes tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// Hub is the root coordinator: it owns the session table and the room
// registry and drives connection admission.
type Hub struct {
	mu         sync.Mutex
	rooms      map[string]*room.Room
	sessions   map[string]*Session
	roomOwners map[string]string // room id -> owner username
	ownedRooms map[string]int    // owner username -> live room count

	validator   TokenValidator
	guard       *ipguard.Guard
	rateLimiter *ratelimit.RateLimiter
	auditor     audit.Recorder
	cfg         *config.Config

	shuttingDown atomic.Bool
}

// NewHub creates a Hub and configures it with its dependencies.
func NewHub(cfg *config.Config, validator TokenValidator, guard *ipguard.Guard, rateLimiter *ratelimit.RateLimiter, auditor audit.Recorder) *Hub {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Hub{
		rooms:       make(map[string]*room.Room),
		sessions:    make(map[string]*Session),
		roomOwners:  make(map[string]string),
		ownedRooms:  make(map[string]int),
		validator:   validator,
		guard:       guard,
		rateLimiter: rateLimiter,
		auditor:     auditor,
		cfg:         cfg,
	}
}

// allowedOrigins resolves the configured CORS origin allow-list.
func (h *Hub) allowedOrigins() []string {
	if h.cfg.AllowedOrigins != "" {
		return strings.Split(h.cfg.AllowedOrigins, ",")
	}
	return []string{"http://localhost:3000"}
}

// ServeWs admits a WebSocket connection on GET /ws/screenshare?token=<bearer>.
//
// The blocked-IP check is a synchronous cache lookup and runs before the
// upgrade so a blocked peer costs no further resources. Auth failures are
// reported after the upgrade as one connection-fatal error frame, so
// browser clients can read the code.
func (h *Hub) ServeWs(c *gin.Context) {
	ip := c.ClientIP()
	ctx := context.WithValue(c.Request.Context(), logging.RemoteIPKey, ip)

	if h.guard != nil && h.guard.IsBlocked(ip) {
		h.auditor.Record(ctx, audit.Event{
			EventType: audit.EventConnectionBlocked,
			IPAddress: ip,
			Details:   "connection rejected: IP is blocked",
			Severity:  audit.SeverityWarn,
		})
		c.JSON(http.StatusForbidden, gin.H{"error": "blocked"})
		return
	}

	origins := h.allowedOrigins()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, origins) == nil
		},
		WriteBufferPool: &sync.Pool{},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(ctx, "failed to upgrade connection", zap.Error(err))
		return
	}

	h.HandleConnection(ctx, conn, ip, c.Query("token"))
}

// HandleConnection authenticates an upgraded connection and starts its
// session. Exposed separately from ServeWs so tests can drive it with a
// fake connection.
func (h *Hub) HandleConnection(ctx context.Context, conn wsConnection, ip, token string) {
	if h.shuttingDown.Load() {
		h.refuse(conn, protocol.CodeSrvShuttingDown, "server is shutting down")
		return
	}

	if token == "" {
		h.refuse(conn, protocol.CodeAuthMissingToken, "token not provided")
		return
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		metrics.AuthFailures.Inc()
		h.auditor.Record(ctx, audit.Event{
			EventType: audit.EventInvalidToken,
			IPAddress: ip,
			Details:   "token validation failed",
			Severity:  audit.SeverityWarn,
		})
		if h.guard != nil {
			h.guard.RecordAuthFailure(ctx, ip)
		}

		code := protocol.CodeAuthInvalidToken
		if errors.Is(err, jwt.ErrTokenExpired) {
			code = protocol.CodeAuthExpiredToken
		}
		h.refuse(conn, code, "invalid token")
		return
	}

	username := validation.NormalizeUsername(claims.Identity())
	if !validation.ValidUsername(username) {
		h.refuse(conn, protocol.CodeValInvalidArg, "token carries an invalid username")
		return
	}

	s := newSession(h, conn, uuid.New().String(), username, ip)

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	metrics.IncSession()

	h.auditor.Record(ctx, audit.Event{
		EventType: audit.EventSessionConnected,
		Username:  username,
		SessionID: s.id,
		IPAddress: ip,
		Severity:  audit.SeverityInfo,
	})

	s.EnqueueText(protocol.Connected(s.id, username))
	logging.Info(ctx, "session connected",
		zap.String("sessionId", s.id),
		zap.String("username", username))

	go s.writePump()
	go s.readPump()
}

// refuse writes one connection-fatal error frame directly and closes. Used
// before a session exists, so there is no outbound queue yet.
func (h *Hub) refuse(conn wsConnection, code, message string) {
	_ = conn.WriteMessage(websocket.TextMessage, protocol.FatalError(code, message))
	_ = conn.Close()
}

// unregister tears a session down: room detachment, session-table removal,
// rate-limit state release, and the disconnect audit record. Called exactly
// once, from readPump's deferred cleanup.
func (h *Hub) unregister(s *Session) {
	ctx := s.logContext()

	if r := s.Room(); r != nil {
		if destroyed := r.Detach(ctx, s.id); destroyed {
			h.removeRoom(r)
		}
		s.ClearRoom()
	}

	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()

	s.Disconnect()
	if h.rateLimiter != nil {
		h.rateLimiter.ReleaseSession(s.id)
	}
	metrics.DecSession()

	h.auditor.Record(ctx, audit.Event{
		EventType: audit.EventSessionDisconnected,
		Username:  s.username,
		SessionID: s.id,
		IPAddress: s.remoteIP,
		Severity:  audit.SeverityInfo,
	})
	logging.Info(ctx, "session disconnected", zap.String("sessionId", s.id))
}

// removeRoom drops a destroyed room from the registry and releases its
// owner's per-user slot.
func (h *Hub) removeRoom(r *room.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropRoomLocked(r)
}

func (h *Hub) dropRoomLocked(r *room.Room) {
	id := r.ID()
	if h.rooms[id] != r {
		return
	}
	delete(h.rooms, id)

	if owner, ok := h.roomOwners[id]; ok {
		delete(h.roomOwners, id)
		if h.ownedRooms[owner] > 1 {
			h.ownedRooms[owner]--
		} else {
			delete(h.ownedRooms, owner)
		}
	}
	metrics.ActiveRooms.Dec()
}

// Room looks a room up by id.
func (h *Hub) Room(id string) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[id]
}

// sessionConnected reports whether a session id is still registered. Used
// to decide between reclaiming and forking on a create-room id collision.
func (h *Hub) sessionConnectedLocked(sessionID string) bool {
	_, ok := h.sessions[sessionID]
	return ok
}

// Shutdown closes every room and session. New connections are refused with
// a shutting-down error frame while this runs.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shuttingDown.Store(true)
	logging.Info(ctx, "shutting down hub")

	h.mu.Lock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.Close(ctx, "server shutting down")
		h.removeRoom(r)
	}
	for _, s := range sessions {
		s.Disconnect()
	}

	logging.Info(ctx, "hub shut down",
		zap.Int("rooms", len(rooms)),
		zap.Int("sessions", len(sessions)))
	return nil
}

// validateOrigin checks the request origin against the allow-list.
// Non-browser clients without an Origin header are allowed.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return err
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(strings.TrimSpace(allowed))
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "origin not in allowed list", zap.String("origin", origin))
	return errOriginNotAllowed
}

var errOriginNotAllowed = errors.New("origin not allowed")
