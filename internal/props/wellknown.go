package props

import (
	"time"

	"roomd/internal/protocol"
	"roomd/internal/value"
)

// Well-known room property keys. Writes to them are validated and
// normalized before they reach the store.
const (
	MaxPlayers      = "MaxPlayers"
	IsOpen          = "IsOpen"
	IsVisible       = "IsVisible"
	PlayerTTL       = "PlayerTTL"
	EmptyRoomTTL    = "EmptyRoomTTL"
	ExpectedUsers   = "ExpectedUsers"
	MasterClientID  = "MasterClientId"
	LobbyProperties = "LobbyProperties"
)

// MaxPlayersLimit is the largest accepted capacity.
const MaxPlayersLimit = 255

// TTLLimits bounds the TTL keys. Values are compared in milliseconds.
type TTLLimits struct {
	MaxPlayerTTL    time.Duration
	MaxEmptyRoomTTL time.Duration
}

// IsWellKnown reports whether key is intercepted by the room.
func IsWellKnown(key string) bool {
	switch key {
	case MaxPlayers, IsOpen, IsVisible, PlayerTTL, EmptyRoomTTL, ExpectedUsers, MasterClientID, LobbyProperties:
		return true
	}
	return false
}

// NormalizeWellKnown validates the value written to a well-known key and
// returns the canonical form to store. ExpectedUsers is only shape-checked
// here; slot accounting happens in the room.
func NormalizeWellKnown(key string, v any, limits TTLLimits) (any, error) {
	switch key {
	case MaxPlayers:
		n, err := value.ToInt(v)
		if err != nil {
			return nil, invalid(key, err.Error())
		}
		if n < 0 || n > MaxPlayersLimit {
			return nil, invalid(key, "out of range")
		}
		return n, nil

	case IsOpen, IsVisible:
		b, err := value.ToBool(v)
		if err != nil {
			return nil, invalid(key, err.Error())
		}
		return b, nil

	case PlayerTTL:
		n, err := value.ToInt(v)
		if err != nil {
			return nil, invalid(key, err.Error())
		}
		if n < 0 {
			return int64(-1), nil
		}
		if limits.MaxPlayerTTL > 0 && n > limits.MaxPlayerTTL.Milliseconds() {
			return nil, invalid(key, "exceeds maximum")
		}
		return n, nil

	case EmptyRoomTTL:
		n, err := value.ToInt(v)
		if err != nil {
			return nil, invalid(key, err.Error())
		}
		if n < 0 {
			return nil, invalid(key, "must not be negative")
		}
		if limits.MaxEmptyRoomTTL > 0 && n > limits.MaxEmptyRoomTTL.Milliseconds() {
			return nil, invalid(key, "exceeds maximum")
		}
		return n, nil

	case MasterClientID:
		n, err := value.ToInt(v)
		if err != nil {
			return nil, invalid(key, err.Error())
		}
		if n <= 0 {
			return nil, invalid(key, "must be a positive actor number")
		}
		return n, nil

	case ExpectedUsers, LobbyProperties:
		if v == nil {
			return nil, nil
		}
		ss, err := value.ToStrings(v)
		if err != nil {
			return nil, invalid(key, err.Error())
		}
		return value.FromStrings(ss), nil
	}
	return v, nil
}

// TTL converts a stored millisecond TTL to a duration. Negative means
// infinite and is returned as -1.
func TTL(ms int64) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

func invalid(key, reason string) error {
	return protocol.Errorf(protocol.InvalidOperation, "property %s: %s", key, reason)
}
