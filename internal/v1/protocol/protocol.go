// Package protocol defines the text-frame wire schema shared by the relay
// and its clients. A frame is either a UTF-8 JSON control message or an
// opaque binary media payload; only the JSON side is modeled here.
package protocol

import (
	"encoding/json"
)

// Client -> server command types.
const (
	CmdCreateRoom     = "create-room"
	CmdJoinRoom       = "join-room"
	CmdLeaveRoom      = "leave-room"
	CmdGetViewerCount = "get-viewer-count"
	CmdApproveViewer  = "approve-viewer"
	CmdDenyViewer     = "deny-viewer"
	CmdBanViewer      = "ban-viewer"
	CmdKickViewer     = "kick-viewer"
)

// Server -> client frame types.
const (
	TypeConnected       = "connected"
	TypeRoomCreated     = "room-created"
	TypeRoomJoined      = "room-joined"
	TypeWaitingApproval = "waiting-approval"
	TypeRoomLeft        = "room-left"
	TypeViewerCount     = "viewer-count"
	TypeViewerRequest   = "viewer-request"
	TypeViewerApproved  = "viewer-approved"
	TypeViewerDenied    = "viewer-denied"
	TypeViewerKicked    = "viewer-kicked"
	TypeViewerBanned    = "viewer-banned"
	TypeKicked          = "kicked"
	TypeBanned          = "banned"
	TypeAccessDenied    = "access-denied"
	TypePresenterLeft   = "presenter-left"
	TypeError           = "error"
)

// Command is the decoded form of every client control frame. The handler
// reads Type and validates the arguments the command requires.
type Command struct {
	Type            string `json:"type"`
	RoomID          string `json:"roomId,omitempty"`
	Password        string `json:"password,omitempty"`
	AccessCode      string `json:"accessCode,omitempty"`
	MaxViewers      int    `json:"maxViewers,omitempty"`
	ViewerSessionID string `json:"viewerSessionId,omitempty"`
}

// ParseCommand decodes a client text frame.
func ParseCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// --- Server frames ---

// ConnectedFrame greets a freshly authenticated session.
type ConnectedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Role      string `json:"role"`
}

func Connected(sessionID, username string) []byte {
	return encode(ConnectedFrame{
		Type:      TypeConnected,
		SessionID: sessionID,
		Username:  username,
		Message:   "connected to relay",
		Role:      "pending",
	})
}

// RoomCreatedFrame confirms room creation to the presenter.
type RoomCreatedFrame struct {
	Type              string `json:"type"`
	RoomID            string `json:"roomId"`
	Role              string `json:"role"`
	PasswordProtected bool   `json:"passwordProtected"`
	RequiresApproval  bool   `json:"requiresApproval"`
	AccessCode        string `json:"accessCode,omitempty"`
}

func RoomCreated(roomID string, passwordProtected, requiresApproval bool, accessCode string) []byte {
	return encode(RoomCreatedFrame{
		Type:              TypeRoomCreated,
		RoomID:            roomID,
		Role:              "presenter",
		PasswordProtected: passwordProtected,
		RequiresApproval:  requiresApproval,
		AccessCode:        accessCode,
	})
}

// RoomJoinedFrame confirms admission to a viewer.
type RoomJoinedFrame struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId"`
	Role        string `json:"role"`
	ViewerCount int    `json:"viewerCount"`
}

func RoomJoined(roomID string, viewerCount int) []byte {
	return encode(RoomJoinedFrame{
		Type:        TypeRoomJoined,
		RoomID:      roomID,
		Role:        "viewer",
		ViewerCount: viewerCount,
	})
}

// WaitingApprovalFrame tells a joiner they are parked pending approval.
type WaitingApprovalFrame struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

func WaitingApproval(roomID string) []byte {
	return encode(WaitingApprovalFrame{
		Type:    TypeWaitingApproval,
		RoomID:  roomID,
		Message: "waiting for presenter approval",
	})
}

// MessageFrame carries a human-readable notice (room-left, kicked, banned,
// access-denied, presenter-left).
type MessageFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Notice(frameType, message string) []byte {
	return encode(MessageFrame{Type: frameType, Message: message})
}

// ViewerCountFrame reports the current viewer count.
type ViewerCountFrame struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

func ViewerCount(count int) []byte {
	return encode(ViewerCountFrame{Type: TypeViewerCount, Count: count})
}

// ViewerRequestFrame notifies the presenter of a pending join request.
type ViewerRequestFrame struct {
	Type            string `json:"type"`
	ViewerSessionID string `json:"viewerSessionId"`
	ViewerUsername  string `json:"viewerUsername"`
	PendingCount    int    `json:"pendingCount"`
}

func ViewerRequest(viewerSessionID, viewerUsername string, pendingCount int) []byte {
	return encode(ViewerRequestFrame{
		Type:            TypeViewerRequest,
		ViewerSessionID: viewerSessionID,
		ViewerUsername:  viewerUsername,
		PendingCount:    pendingCount,
	})
}

// PendingUpdateFrame confirms an approve/deny action to the presenter.
type PendingUpdateFrame struct {
	Type            string `json:"type"`
	ViewerSessionID string `json:"viewerSessionId"`
	PendingCount    int    `json:"pendingCount"`
}

func PendingUpdate(frameType, viewerSessionID string, pendingCount int) []byte {
	return encode(PendingUpdateFrame{
		Type:            frameType,
		ViewerSessionID: viewerSessionID,
		PendingCount:    pendingCount,
	})
}

// ViewerUpdateFrame confirms a kick/ban action to the presenter.
type ViewerUpdateFrame struct {
	Type            string `json:"type"`
	ViewerSessionID string `json:"viewerSessionId"`
	ViewerCount     int    `json:"viewerCount"`
}

func ViewerUpdate(frameType, viewerSessionID string, viewerCount int) []byte {
	return encode(ViewerUpdateFrame{
		Type:            frameType,
		ViewerSessionID: viewerSessionID,
		ViewerCount:     viewerCount,
	})
}

// ErrorFrame reports a failure to the issuing session. Action "close"
// instructs the client the connection is about to be terminated.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

func Error(code, message string) []byte {
	return encode(ErrorFrame{Type: TypeError, Code: code, Message: message})
}

func FatalError(code, message string) []byte {
	return encode(ErrorFrame{Type: TypeError, Code: code, Message: message, Action: ActionClose})
}

// ActionClose marks a connection-fatal error frame.
const ActionClose = "close"

// encode marshals a frame struct. The frame types above contain only
// marshal-safe fields, so failure is a programming error.
func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
