package audit

import (
	"context"

	"github.com/vijayvir/screenai/internal/v1/logging"
	"go.uber.org/zap"
)

// ZapRecorder writes audit events to the structured log.
type ZapRecorder struct{}

func NewZapRecorder() *ZapRecorder {
	return &ZapRecorder{}
}

func (z *ZapRecorder) Record(ctx context.Context, event Event) {
	event = sanitize(event)

	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("severity", string(event.Severity)),
		zap.Time("created_at", event.CreatedAt),
	}
	if event.Username != "" {
		fields = append(fields, zap.String("username", event.Username))
	}
	if event.SessionID != "" {
		fields = append(fields, zap.String("session_id", event.SessionID))
	}
	if event.RoomID != "" {
		fields = append(fields, zap.String("room_id", event.RoomID))
	}
	if event.IPAddress != "" {
		fields = append(fields, zap.String("ip_address", event.IPAddress))
	}
	if event.Details != "" {
		fields = append(fields, zap.String("details", event.Details))
	}

	switch event.Severity {
	case SeverityDebug:
		logging.GetLogger().Debug("audit", fields...)
	case SeverityWarn:
		logging.Warn(ctx, "audit", fields...)
	case SeverityError, SeverityCritical:
		logging.Error(ctx, "audit", fields...)
	default:
		logging.Info(ctx, "audit", fields...)
	}
}
