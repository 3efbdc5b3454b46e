package protocol

// Wire error codes carried in TASK_DONE events and KICK messages.
const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Task layer.
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrUnreachable   = "E_UNREACHABLE"
	ErrBlocked       = "E_BLOCKED"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrStale         = "E_STALE"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrInvalidTarget:   {},
	ErrUnreachable:     {},
	ErrBlocked:         {},
	ErrNoPermission:    {},
	ErrRateLimit:       {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
