package audit

import (
	"context"
	"time"

	"github.com/vijayvir/screenai/internal/v1/logging"
	"go.uber.org/zap"
)

// Sink is the durable destination for audit events. Implemented by the
// SQLite store.
type Sink interface {
	InsertAuditEvent(ctx context.Context, event Event) error
}

// StoreRecorder persists audit events through a Sink. Writes are decoupled
// from the caller by a bounded queue drained by a single worker; when the
// queue is full the event is dropped rather than stalling a session.
type StoreRecorder struct {
	sink  Sink
	queue chan Event
	done  chan struct{}
}

// NewStoreRecorder starts the persistence worker.
func NewStoreRecorder(sink Sink) *StoreRecorder {
	r := &StoreRecorder{
		sink:  sink,
		queue: make(chan Event, 256),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *StoreRecorder) Record(ctx context.Context, event Event) {
	event = sanitize(event)
	select {
	case r.queue <- event:
	default:
		logging.Warn(ctx, "audit queue full, dropping event", zap.String("event_type", event.EventType))
	}
}

func (r *StoreRecorder) run() {
	defer close(r.done)
	for event := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.InsertAuditEvent(ctx, event); err != nil {
			logging.Error(ctx, "failed to persist audit event",
				zap.String("event_type", event.EventType), zap.Error(err))
		}
		cancel()
	}
}

// Close drains outstanding events and stops the worker.
func (r *StoreRecorder) Close() {
	close(r.queue)
	<-r.done
}
