package protocol

// Stable error codes. Clients key retry and UI behavior off these strings,
// so they must never change.
const (
	// Authentication / authorization
	CodeAuthMissingToken = "AUTH_001"
	CodeAuthInvalidToken = "AUTH_002"
	CodeAuthExpiredToken = "AUTH_003"
	CodeAuthLocked       = "AUTH_004"
	CodeAuthWrongRole    = "AUTH_005"

	// Room lifecycle
	CodeRoomNotFound      = "ROOM_001"
	CodeRoomAlreadyExists = "ROOM_002"
	CodeRoomWrongPassword = "ROOM_003"
	CodeRoomFull          = "ROOM_004"
	CodeRoomAccessDenied  = "ROOM_005"
	CodeRoomBanned        = "ROOM_006"
	CodeRoomWaiting       = "ROOM_007"
	CodeRoomInvalidID     = "ROOM_008"
	CodeRoomCreationLimit = "ROOM_009"

	// Rate limiting / IP blocking
	CodeRateMessages  = "RATE_001"
	CodeRateIPBlocked = "RATE_002"
	CodeRateConnLimit = "RATE_003"

	// Input shape
	CodeValMalformed   = "VAL_001"
	CodeValMissingArg  = "VAL_002"
	CodeValInvalidArg  = "VAL_003"
	CodeValPayloadSize = "VAL_004"

	// Internal
	CodeSrvInternal       = "SRV_001"
	CodeSrvUnknownCommand = "SRV_002"
	CodeSrvShuttingDown   = "SRV_003"
)
