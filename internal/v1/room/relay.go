package room

import (
	"context"

	"github.com/vijayvir/screenai/internal/v1/logging"
	"github.com/vijayvir/screenai/internal/v1/media"
	"github.com/vijayvir/screenai/internal/v1/metrics"
	"go.uber.org/zap"
)

// Relay fans one presenter binary frame out to every admitted viewer.
//
// Detected init segments update the cache first and are then relayed in the
// same step, so a viewer admitted at any point either receives the cached
// copy at join or the relayed copy here, never neither.
//
// Enqueueing is non-blocking: a full viewer queue drops that viewer's copy
// and bumps the per-room drop counter. The presenter is never blocked by a
// slow viewer and receives no per-frame acknowledgement.
func (r *Room) Relay(ctx context.Context, senderID string, payload []byte) error {
	if r.maxPayloadBytes > 0 && len(payload) > r.maxPayloadBytes {
		return ErrPayloadTooLarge
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if senderID != r.presenterID {
		return ErrNotPresenter
	}

	if media.IsInitSegment(payload) {
		r.cachedInit.Store(&payload)
		metrics.InitSegmentsCached.Inc()
		logging.Info(ctx, "init segment cached",
			zap.String("roomId", r.id),
			zap.Int("bytes", len(payload)))
	}

	dropped := 0
	for _, rec := range r.viewers {
		if !rec.peer.EnqueueBinary(payload) {
			dropped++
		}
	}
	if dropped > 0 {
		r.droppedFrames.Add(uint64(dropped))
		metrics.FramesDropped.WithLabelValues(r.id).Add(float64(dropped))
	}

	metrics.FramesRelayed.Inc()
	metrics.BytesRelayed.Add(float64(len(payload)))
	return nil
}
