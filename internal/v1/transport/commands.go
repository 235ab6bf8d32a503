package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vijayvir/screenai/internal/v1/audit"
	"github.com/vijayvir/screenai/internal/v1/credentials"
	"github.com/vijayvir/screenai/internal/v1/logging"
	"github.com/vijayvir/screenai/internal/v1/metrics"
	"github.com/vijayvir/screenai/internal/v1/protocol"
	"github.com/vijayvir/screenai/internal/v1/room"
	"github.com/vijayvir/screenai/internal/v1/validation"
)

// statusOK labels a successfully handled command in metrics; failures are
// labeled with the protocol error code.
const statusOK = "ok"

// handleCommand decodes one control frame and dispatches it. Every failure
// is message-local: one error frame to the issuing session, connection
// stays open.
func (h *Hub) handleCommand(ctx context.Context, s *Session, data []byte) {
	start := time.Now()

	cmd, err := protocol.ParseCommand(data)
	if err != nil {
		s.EnqueueText(protocol.Error(protocol.CodeValMalformed, "malformed command frame"))
		metrics.CommandEvents.WithLabelValues("malformed", protocol.CodeValMalformed).Inc()
		return
	}

	var status string
	switch cmd.Type {
	case protocol.CmdCreateRoom:
		status = h.handleCreateRoom(ctx, s, cmd)
	case protocol.CmdJoinRoom:
		status = h.handleJoinRoom(ctx, s, cmd)
	case protocol.CmdLeaveRoom:
		status = h.handleLeaveRoom(ctx, s)
	case protocol.CmdGetViewerCount:
		status = h.handleGetViewerCount(s)
	case protocol.CmdApproveViewer, protocol.CmdDenyViewer, protocol.CmdBanViewer, protocol.CmdKickViewer:
		status = h.handleModeration(ctx, s, cmd)
	default:
		s.EnqueueText(protocol.Error(protocol.CodeSrvUnknownCommand, "unknown command type"))
		metrics.CommandEvents.WithLabelValues("unknown", protocol.CodeSrvUnknownCommand).Inc()
		return
	}

	metrics.CommandEvents.WithLabelValues(cmd.Type, status).Inc()
	metrics.CommandProcessingDuration.WithLabelValues(cmd.Type).Observe(time.Since(start).Seconds())
}

// fail sends a message-local error frame and returns the code for metrics.
func fail(s *Session, code, message string) string {
	s.EnqueueText(protocol.Error(code, message))
	return code
}

// handleCreateRoom validates inputs, resolves room-id collisions (fork when
// the existing presenter is still connected, reclaim when it is gone), and
// registers the new room with the issuing session as presenter.
//
// The password hash is computed before the registry lock is taken: bcrypt
// at cost 12 is deliberately slow, and nothing may stall the registry.
func (h *Hub) handleCreateRoom(ctx context.Context, s *Session, cmd *protocol.Command) string {
	if s.Room() != nil {
		return fail(s, protocol.CodeRoomAlreadyExists, "session is already in a room")
	}
	if cmd.RoomID == "" {
		return fail(s, protocol.CodeValMissingArg, "roomId is required")
	}
	if !validation.ValidRoomID(cmd.RoomID) {
		return fail(s, protocol.CodeRoomInvalidID, validation.ErrInvalidRoomID.Error())
	}
	if cmd.Password != "" && !validation.ValidRoomPassword(cmd.Password) {
		return fail(s, protocol.CodeValInvalidArg, validation.ErrRoomPasswordLen.Error())
	}

	if !h.rateLimiter.AllowRoomCreation(ctx, s.remoteIP) {
		h.auditor.Record(ctx, audit.Event{
			EventType: audit.EventRateLimitExceeded,
			Username:  s.username,
			SessionID: s.id,
			IPAddress: s.remoteIP,
			Details:   "per-IP room creation window exceeded",
			Severity:  audit.SeverityWarn,
		})
		return fail(s, protocol.CodeRoomCreationLimit, "room creation limit reached")
	}

	var passwordHash string
	if cmd.Password != "" {
		hash, err := credentials.HashPassword(cmd.Password)
		if err != nil {
			logging.Error(ctx, "failed to hash room password", zap.Error(err))
			return fail(s, protocol.CodeSrvInternal, "internal error")
		}
		passwordHash = hash
	}
	maxViewers := validation.ClampMaxViewers(cmd.MaxViewers, h.cfg.MaxViewersPerRoom)

	h.mu.Lock()
	if h.cfg.MaxRooms > 0 && len(h.rooms) >= h.cfg.MaxRooms {
		h.mu.Unlock()
		return fail(s, protocol.CodeRoomCreationLimit, "server is at room capacity")
	}
	if h.cfg.MaxRoomsPerUser > 0 && h.ownedRooms[s.username] >= h.cfg.MaxRoomsPerUser {
		h.mu.Unlock()
		return fail(s, protocol.CodeRoomCreationLimit, "per-user room limit reached")
	}

	finalID := cmd.RoomID
	var reclaimed *room.Room
	if existing, ok := h.rooms[finalID]; ok {
		if h.sessionConnectedLocked(existing.PresenterID()) {
			// Presenter still connected: fork to a fresh id, one retry.
			forked := finalID + "-" + randomHex(2)
			if _, clash := h.rooms[forked]; clash {
				h.mu.Unlock()
				return fail(s, protocol.CodeRoomAlreadyExists, "room already exists")
			}
			finalID = forked
		} else {
			// Presenter gone: reclaim the id, discard the old state.
			reclaimed = existing
			h.dropRoomLocked(existing)
		}
	}

	r, err := room.New(finalID, s, room.Config{
		PasswordHash:    passwordHash,
		MaxViewers:      maxViewers,
		AccessCodeTTL:   h.cfg.AccessCodeTTL,
		MaxPayloadBytes: h.cfg.MaxBinaryPayloadBytes,
		Auditor:         h.auditor,
	})
	if err != nil {
		h.mu.Unlock()
		logging.Error(ctx, "failed to create room", zap.Error(err))
		return fail(s, protocol.CodeSrvInternal, "internal error")
	}
	h.rooms[finalID] = r
	h.roomOwners[finalID] = s.username
	h.ownedRooms[s.username]++
	h.mu.Unlock()

	if reclaimed != nil {
		reclaimed.Close(ctx, "room reclaimed")
		logging.Info(ctx, "room reclaimed", zap.String("roomId", finalID))
	}

	s.setRoom(r)
	metrics.ActiveRooms.Inc()
	s.EnqueueText(protocol.RoomCreated(finalID, r.PasswordProtected(), r.RequiresApproval(), r.AccessCode()))

	h.auditor.Record(ctx, audit.Event{
		EventType: audit.EventRoomCreated,
		Username:  s.username,
		SessionID: s.id,
		RoomID:    finalID,
		IPAddress: s.remoteIP,
		Severity:  audit.SeverityInfo,
	})
	logging.Info(ctx, "room created",
		zap.String("roomId", finalID),
		zap.Bool("passwordProtected", r.PasswordProtected()),
		zap.Int("maxViewers", maxViewers))
	return statusOK
}

func (h *Hub) handleJoinRoom(ctx context.Context, s *Session, cmd *protocol.Command) string {
	if current := s.Room(); current != nil {
		if current.RoleOf(s.id) == room.RolePending {
			return fail(s, protocol.CodeRoomWaiting, "join request is awaiting approval")
		}
		return fail(s, protocol.CodeRoomAlreadyExists, "session is already in a room")
	}
	if cmd.RoomID == "" {
		return fail(s, protocol.CodeValMissingArg, "roomId is required")
	}
	if !validation.ValidRoomID(cmd.RoomID) {
		return fail(s, protocol.CodeRoomInvalidID, validation.ErrInvalidRoomID.Error())
	}

	target := h.Room(cmd.RoomID)
	if target == nil {
		return fail(s, protocol.CodeRoomNotFound, "room not found")
	}

	// Associate before Join so a room-side removal (deny, kick) racing this
	// join always observes and clears the association.
	s.setRoom(target)
	res, err := target.Join(ctx, s, cmd.Password, cmd.AccessCode)
	if err != nil {
		s.ClearRoom()
		switch {
		case errors.Is(err, room.ErrBanned):
			return fail(s, protocol.CodeRoomBanned, "you are banned from this room")
		case errors.Is(err, room.ErrFull):
			return fail(s, protocol.CodeRoomFull, "room is full")
		case errors.Is(err, room.ErrAccessDenied):
			return fail(s, protocol.CodeRoomWrongPassword, "invalid password or access code")
		case errors.Is(err, room.ErrPendingApproval):
			return fail(s, protocol.CodeRoomWaiting, "join request is awaiting approval")
		case errors.Is(err, room.ErrAlreadyMember):
			return fail(s, protocol.CodeRoomAlreadyExists, "session is already in the room")
		case errors.Is(err, room.ErrClosed):
			return fail(s, protocol.CodeRoomNotFound, "room not found")
		default:
			logging.Error(ctx, "join failed", zap.Error(err))
			return fail(s, protocol.CodeSrvInternal, "internal error")
		}
	}

	if res.Pending {
		logging.Info(ctx, "viewer parked pending approval", zap.String("roomId", cmd.RoomID))
	}
	return statusOK
}

func (h *Hub) handleLeaveRoom(ctx context.Context, s *Session) string {
	r := s.Room()
	if r == nil {
		return fail(s, protocol.CodeAuthWrongRole, "not in a room")
	}

	if destroyed := r.Detach(ctx, s.id); destroyed {
		h.removeRoom(r)
	}
	s.ClearRoom()
	s.EnqueueText(protocol.Notice(protocol.TypeRoomLeft, "left room"))
	return statusOK
}

func (h *Hub) handleGetViewerCount(s *Session) string {
	r := s.Room()
	if r == nil {
		return fail(s, protocol.CodeAuthWrongRole, "not in a room")
	}
	s.EnqueueText(protocol.ViewerCount(r.ViewerCount()))
	return statusOK
}

// handleModeration covers the four presenter-only commands. The room
// enforces that the issuer is its presenter; the target is addressed by
// session id.
func (h *Hub) handleModeration(ctx context.Context, s *Session, cmd *protocol.Command) string {
	r := s.Room()
	if r == nil {
		return fail(s, protocol.CodeAuthWrongRole, "only a presenter may issue this command")
	}
	if cmd.ViewerSessionID == "" {
		return fail(s, protocol.CodeValMissingArg, "viewerSessionId is required")
	}

	var err error
	switch cmd.Type {
	case protocol.CmdApproveViewer:
		err = r.Approve(ctx, s.id, cmd.ViewerSessionID)
	case protocol.CmdDenyViewer:
		err = r.Deny(ctx, s.id, cmd.ViewerSessionID)
	case protocol.CmdBanViewer:
		err = r.Ban(ctx, s.id, cmd.ViewerSessionID)
	case protocol.CmdKickViewer:
		err = r.Kick(ctx, s.id, cmd.ViewerSessionID)
	}

	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, room.ErrNotPresenter):
		return fail(s, protocol.CodeAuthWrongRole, "only a presenter may issue this command")
	case errors.Is(err, room.ErrUnknownViewer):
		return fail(s, protocol.CodeValInvalidArg, "unknown viewer session")
	default:
		logging.Error(ctx, "moderation command failed", zap.Error(err))
		return fail(s, protocol.CodeSrvInternal, "internal error")
	}
}

// randomHex returns n random bytes hex-encoded (2n characters).
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
