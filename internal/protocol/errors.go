package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnauthorized    = "E_UNAUTHORIZED"
	ErrNotJoined       = "E_NOT_JOINED"

	// Game routing.
	ErrGameNotFound = "E_GAME_NOT_FOUND"
	ErrGameExists   = "E_GAME_EXISTS"
	ErrGameBusy     = "E_GAME_BUSY"

	// Action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnauthorized:    {},
	ErrNotJoined:       {},
	ErrGameNotFound:    {},
	ErrGameExists:      {},
	ErrGameBusy:        {},
	ErrBadRequest:      {},
	ErrInvalidTarget:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
