// Package audit defines the structured security-event trail emitted around
// every security-relevant action the relay takes. Recorders receive events
// with identifying fields already masked.
package audit

import (
	"context"
	"time"
)

// Severity levels for audit events.
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event types the relay emits.
const (
	EventSessionConnected    = "SESSION_CONNECTED"
	EventSessionDisconnected = "SESSION_DISCONNECTED"
	EventConnectionBlocked   = "CONNECTION_BLOCKED"
	EventInvalidToken        = "INVALID_TOKEN"
	EventRoomCreated         = "ROOM_CREATED"
	EventRoomJoined          = "ROOM_JOINED"
	EventRoomLeft            = "ROOM_LEFT"
	EventRoomDeleted         = "ROOM_DELETED"
	EventRoomAccessDenied    = "ROOM_ACCESS_DENIED"
	EventViewerApproved      = "VIEWER_APPROVED"
	EventViewerDenied        = "VIEWER_DENIED"
	EventViewerKicked        = "VIEWER_KICKED"
	EventViewerBanned        = "VIEWER_BANNED"
	EventRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	EventIPBlocked           = "IP_BLOCKED"
	EventIPUnblocked         = "IP_UNBLOCKED"
)

// Event is one structured audit record.
type Event struct {
	EventType string
	Username  string
	SessionID string
	RoomID    string
	IPAddress string
	Details   string
	Severity  Severity
	CreatedAt time.Time
}

// Recorder consumes audit events. Implementations must not block the
// caller's hot path; slow sinks buffer and drop rather than stall.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// MaskUsername masks a username to first2 + "***" + last2 for values of at
// least 5 characters. Shorter values are fully masked.
func MaskUsername(username string) string {
	if username == "" {
		return ""
	}
	if len(username) < 5 {
		return "***"
	}
	return username[:2] + "***" + username[len(username)-2:]
}

// TruncateSessionID keeps only the first 8 characters of a session id.
func TruncateSessionID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8]
}

// sanitize applies privacy masking and stamps missing fields.
func sanitize(e Event) Event {
	e.Username = MaskUsername(e.Username)
	e.SessionID = TruncateSessionID(e.SessionID)
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}

// Fanout dispatches each event to every recorder.
type Fanout []Recorder

func (f Fanout) Record(ctx context.Context, event Event) {
	event = sanitize(event)
	for _, r := range f {
		r.Record(ctx, event)
	}
}

// Nop discards all events. Useful as a default in tests.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}
