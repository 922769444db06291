package protocol

// GameDelta is what a room reports to its lobby after every change that is
// visible in listings. It carries the full listed state, not a diff, so a
// lobby can apply it idempotently; Seq orders deltas of one room.
type GameDelta struct {
	GameID      string         `json:"game_id" cbor:"1,keyasint"`
	Lobby       Lobby          `json:"lobby" cbor:"2,keyasint"`
	Seq         uint64         `json:"seq" cbor:"3,keyasint"`
	Removed     bool           `json:"removed,omitempty" cbor:"4,keyasint,omitempty"`
	IsOpen      bool           `json:"is_open" cbor:"5,keyasint"`
	IsVisible   bool           `json:"is_visible" cbor:"6,keyasint"`
	MaxPlayers  int            `json:"max_players" cbor:"7,keyasint"`
	PlayerCount int            `json:"player_count" cbor:"8,keyasint"`
	ActiveCount int            `json:"active_count" cbor:"9,keyasint"`
	Properties  map[string]any `json:"properties,omitempty" cbor:"10,keyasint,omitempty"`
}

// Lobby types.
const (
	LobbyDefault     = 0
	LobbySQL         = 2
	LobbyAsyncRandom = 3
)
