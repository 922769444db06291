package protocol

import "encoding/json"

// Message types used by the websocket protocol.
const (
	TypeHello    = "hello"
	TypeWelcome  = "welcome"
	TypeOp       = "op"
	TypeResponse = "response"
	TypeEvent    = "event"
	TypePing     = "ping"
	TypePong     = "pong"
	TypeError    = "error"
)

// Operation names carried in Message.Op.
const (
	OpCreateGame     = "CreateGame"
	OpJoinGame       = "JoinGame"
	OpJoinRandomGame = "JoinRandomGame"
	OpLeave          = "Leave"
	OpSetProperties  = "SetProperties"
	OpGetProperties  = "GetProperties"
	OpRaiseEvent     = "RaiseEvent"
	OpJoinLobby      = "JoinLobby"
	OpLeaveLobby     = "LeaveLobby"
	OpGetGameList    = "GetGameList"
	OpGetLobbyStats  = "GetLobbyStats"
)

// Event names pushed to peers.
const (
	EvJoin              = "Join"
	EvLeave             = "Leave"
	EvPropertiesChanged = "PropertiesChanged"
	EvCustom            = "Custom"
	EvGameList          = "GameList"
	EvGameListUpdate    = "GameListUpdate"
	EvLobbyStats        = "LobbyStats"
	EvErrorInfo         = "ErrorInfo"
)

// Message is the JSON control envelope exchanged over websocket.
//
// Inbound ops carry Op, ID and Params. Responses echo Op and ID and add Code,
// Error and Data. Events carry Event.
type Message struct {
	Type     string          `json:"type"`
	Op       string          `json:"op,omitempty"`
	ID       int64           `json:"id,omitempty"`
	UserID   string          `json:"user_id,omitempty"`
	PeerID   string          `json:"peer_id,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
	Code     ErrorCode       `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
	Data     any             `json:"data,omitempty"`
	Event    *Event          `json:"event,omitempty"`
	TS       int64           `json:"ts,omitempty"`
	Sequence uint64          `json:"seq,omitempty"`
}

// Event is one notification delivered to a peer. Code and Sender are only
// meaningful for EvCustom (events raised by actors).
type Event struct {
	Name   string `json:"name"`
	Code   int    `json:"code,omitempty"`
	Sender int    `json:"sender,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// JoinData is the payload of EvJoin.
type JoinData struct {
	ActorNr        int            `json:"actor_nr"`
	Actors         []int          `json:"actors"`
	UserID         string         `json:"user_id,omitempty"`
	Properties     map[string]any `json:"properties,omitempty"`
	MasterClientID int            `json:"master_client_id"`
}

// LeaveData is the payload of EvLeave.
type LeaveData struct {
	ActorNr        int  `json:"actor_nr"`
	IsInactive     bool `json:"is_inactive"`
	MasterClientID int  `json:"master_client_id"`
}

// PropertiesChangedData is the payload of EvPropertiesChanged. TargetActor is
// zero for room properties.
type PropertiesChangedData struct {
	TargetActor int            `json:"target_actor,omitempty"`
	Properties  map[string]any `json:"properties"`
	Expected    map[string]any `json:"expected,omitempty"`
}

// ErrorInfoData is the payload of EvErrorInfo.
type ErrorInfoData struct {
	Message string `json:"message"`
}

// GameListEntry is one room as listed in a lobby. Removed is set for
// tombstones in GameListUpdate.
type GameListEntry struct {
	GameID      string         `json:"game_id"`
	IsOpen      bool           `json:"is_open"`
	MaxPlayers  int            `json:"max_players"`
	PlayerCount int            `json:"player_count"`
	Properties  map[string]any `json:"properties,omitempty"`
	Removed     bool           `json:"removed,omitempty"`
}

// LobbyStat is one row of GetLobbyStats / EvLobbyStats.
type LobbyStat struct {
	Name      string `json:"name"`
	Type      int    `json:"type"`
	PeerCount int    `json:"peer_count"`
	GameCount int    `json:"game_count"`
}

// LobbyStatsData holds parallel stat arrays.
type LobbyStatsData struct {
	Names      []string `json:"names"`
	Types      []int    `json:"types"`
	PeerCounts []int    `json:"peer_counts"`
	GameCounts []int    `json:"game_counts"`
}
