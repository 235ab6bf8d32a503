package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vijayvir/screenai/internal/v1/audit"
	"github.com/vijayvir/screenai/internal/v1/logging"
	"github.com/vijayvir/screenai/internal/v1/protocol"
	"github.com/vijayvir/screenai/internal/v1/room"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
}

// outboundQueueSize is the sole backpressure mechanism: when a viewer
// cannot drain, frames drop for that viewer only.
const outboundQueueSize = 1024

const writeWait = 10 * time.Second

// wsFrame is one queued outbound frame: a JSON control message or an opaque
// binary media payload.
type wsFrame struct {
	kind int // websocket.TextMessage or websocket.BinaryMessage
	data []byte
}

// Session represents one authenticated WebSocket connection. It is the
// relay's unit of identity: room membership, bans, and rate limits all key
// on the session id, not the user.
type Session struct {
	conn wsConnection
	hub  *Hub

	id       string
	username string
	remoteIP string

	mu        sync.RWMutex // Protects room and closed
	room      *room.Room
	closed    bool
	closeOnce sync.Once

	// send is multi-producer (the session itself, the relay, presenter
	// notifications) and single-consumer (writePump).
	send chan wsFrame

	idleTimeout      time.Duration
	rateLimitEnabled bool
}

func newSession(hub *Hub, conn wsConnection, id, username, remoteIP string) *Session {
	return &Session{
		conn:             conn,
		hub:              hub,
		id:               id,
		username:         username,
		remoteIP:         remoteIP,
		send:             make(chan wsFrame, outboundQueueSize),
		idleTimeout:      hub.cfg.IdleSessionTimeout,
		rateLimitEnabled: !hub.cfg.DevelopmentMode,
	}
}

// --- room.Peer ---

func (s *Session) SessionID() string {
	return s.id
}

func (s *Session) Username() string {
	return s.username
}

// EnqueueText pushes a control frame onto the outbound queue without
// blocking. Returns false when the queue is full or the session is closed.
func (s *Session) EnqueueText(frame []byte) bool {
	return s.enqueue(wsFrame{kind: websocket.TextMessage, data: frame})
}

// EnqueueBinary pushes a media frame onto the outbound queue without
// blocking. Returns false when the queue is full or the session is closed;
// the caller records the drop.
func (s *Session) EnqueueBinary(frame []byte) bool {
	return s.enqueue(wsFrame{kind: websocket.BinaryMessage, data: frame})
}

// ClearRoom detaches the session's room association. Called by the room
// when it removes this session (deny, kick, ban, teardown).
func (s *Session) ClearRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = nil
}

// --- room association ---

// Room returns the session's current room, or nil.
func (s *Session) Room() *room.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *Session) setRoom(r *room.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = r
}

func (s *Session) enqueue(frame wsFrame) bool {
	// The read lock is held across the send so Disconnect cannot close the
	// channel between the flag check and the select. The select never
	// blocks, so the lock is held only briefly.
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Disconnect marks the session closed and signals the outbound queue
// complete. writePump drains what is already buffered, writes a close
// frame, and tears down the connection. The flag and the channel close
// happen under one write-lock acquisition; producers hold the read lock
// across their send and therefore never race the close.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.send)
		s.mu.Unlock()
	})
}

// sendFatal enqueues a connection-fatal error frame and closes the session.
// The frame reaches the peer because Disconnect only signals the queue
// complete; buffered frames are still drained.
func (s *Session) sendFatal(code, message string) {
	s.EnqueueText(protocol.FatalError(code, message))
	s.Disconnect()
}

// logContext stamps the session's identity onto a context for structured
// logging.
func (s *Session) logContext() context.Context {
	ctx := context.WithValue(context.Background(), logging.SessionIDKey, s.id)
	return context.WithValue(ctx, logging.RemoteIPKey, s.remoteIP)
}

// readPump drives the inbound loop: it reads frames, applies the
// per-session message rate limit to control frames, and dispatches to the
// command handler or the relay. It owns connection teardown.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	for {
		if s.idleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}

		ctx := s.logContext()
		switch messageType {
		case websocket.TextMessage:
			if s.rateLimitEnabled && !s.hub.rateLimiter.AllowMessage(ctx, s.id) {
				s.hub.auditor.Record(ctx, audit.Event{
					EventType: audit.EventRateLimitExceeded,
					Username:  s.username,
					SessionID: s.id,
					IPAddress: s.remoteIP,
					Details:   "per-session message window exceeded",
					Severity:  audit.SeverityWarn,
				})
				s.EnqueueText(protocol.Error(protocol.CodeRateMessages, "message rate limit exceeded"))
				continue
			}
			s.hub.handleCommand(ctx, s, data)

		case websocket.BinaryMessage:
			s.handleBinary(ctx, data)
		}
	}
}

// handleBinary forwards a media frame to the session's room. Frames from a
// session that is not the presenter of an existing room are dropped
// silently; an oversized payload is an error, not a drop.
func (s *Session) handleBinary(ctx context.Context, data []byte) {
	r := s.Room()
	if r == nil {
		logging.Warn(ctx, "dropping binary frame from session without a room")
		return
	}

	err := r.Relay(ctx, s.id, data)
	switch {
	case err == nil:
	case errors.Is(err, room.ErrPayloadTooLarge):
		s.EnqueueText(protocol.Error(protocol.CodeValPayloadSize, "binary payload exceeds the configured limit"))
	case errors.Is(err, room.ErrNotPresenter):
		logging.Warn(ctx, "dropping binary frame from non-presenter", zap.String("roomId", r.ID()))
	case errors.Is(err, room.ErrClosed):
		logging.Warn(ctx, "dropping binary frame for closed room", zap.String("roomId", r.ID()))
	}
}

// writePump drains the outbound queue onto the wire. A closed queue is the
// graceful-shutdown signal: remaining buffered frames are flushed by the
// range loop before the close frame goes out.
func (s *Session) writePump() {
	defer s.conn.Close()

	for frame := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(frame.kind, frame.data); err != nil {
			logging.Error(s.logContext(), "error writing frame", zap.Error(err))
			return
		}
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
