package protocol

// Lobby identifies a (name, type) lobby. An empty name is the default lobby.
type Lobby struct {
	Name string `json:"lobby_name,omitempty"`
	Type int    `json:"lobby_type,omitempty"`
}

// RoomOptions are the create-time settings of a room.
type RoomOptions struct {
	MaxPlayers      *int           `json:"max_players,omitempty"`
	IsOpen          *bool          `json:"is_open,omitempty"`
	IsVisible       *bool          `json:"is_visible,omitempty"`
	PlayerTTL       *int64         `json:"player_ttl,omitempty"`
	EmptyRoomTTL    *int64         `json:"empty_room_ttl,omitempty"`
	LobbyProperties []string       `json:"lobby_properties,omitempty"`
	Properties      map[string]any `json:"properties,omitempty"`
	ExcludedUsers   []string       `json:"excluded_users,omitempty"`

	BroadcastPropsChangeToAll bool `json:"broadcast_props_change_to_all,omitempty"`
	SuppressRoomEvents        bool `json:"suppress_room_events,omitempty"`
	SuppressPlayerInfo        bool `json:"suppress_player_info,omitempty"`
	CheckUserOnJoin           bool `json:"check_user_on_join,omitempty"`
	DeleteNullProperties      bool `json:"delete_null_properties,omitempty"`
	PublishUserID             bool `json:"publish_user_id,omitempty"`
}

// CreateGameParams are the parameters of OpCreateGame. An empty GameID asks
// the server to pick one.
type CreateGameParams struct {
	Lobby
	GameID          string         `json:"game_id,omitempty"`
	Options         RoomOptions    `json:"options"`
	ActorProperties map[string]any `json:"actor_properties,omitempty"`
	AddUsers        []string       `json:"add_users,omitempty"`
}

// JoinGameParams are the parameters of OpJoinGame. Options are used only when
// JoinMode is CreateIfNotExists and the room does not exist yet.
type JoinGameParams struct {
	Lobby
	GameID          string         `json:"game_id"`
	JoinMode        int            `json:"join_mode,omitempty"`
	Options         RoomOptions    `json:"options"`
	ActorProperties map[string]any `json:"actor_properties,omitempty"`
	AddUsers        []string       `json:"add_users,omitempty"`
}

// JoinRandomGameParams are the parameters of OpJoinRandomGame. Filter is an
// SQL filter for SQL lobbies; ExpectedProperties is the equality filter for
// default lobbies.
type JoinRandomGameParams struct {
	Lobby
	Filter             string         `json:"filter,omitempty"`
	FilterParams       map[string]any `json:"filter_params,omitempty"`
	ExpectedProperties map[string]any `json:"expected_properties,omitempty"`
	ExpectedMaxPlayers int            `json:"expected_max_players,omitempty"`
	MatchmakingMode    int            `json:"matchmaking_mode,omitempty"`
	AddUsers           []string       `json:"add_users,omitempty"`
	ActorProperties    map[string]any `json:"actor_properties,omitempty"`
}

// LeaveParams are the parameters of OpLeave.
type LeaveParams struct {
	WillComeBack bool `json:"will_come_back,omitempty"`
}

// SetPropertiesParams are the parameters of OpSetProperties. ActorNr <= 0
// targets the room.
type SetPropertiesParams struct {
	ActorNr    int            `json:"actor_nr,omitempty"`
	Properties map[string]any `json:"properties"`
	Expected   map[string]any `json:"expected,omitempty"`
	Broadcast  bool           `json:"broadcast,omitempty"`
}

// Property type flags for GetPropertiesParams.Flags.
const (
	PropsGame   = 1
	PropsActors = 2
)

// GetPropertiesParams are the parameters of OpGetProperties.
type GetPropertiesParams struct {
	Keys      []any `json:"keys,omitempty"`
	ActorKeys []any `json:"actor_keys,omitempty"`
	Actors    []int `json:"actors,omitempty"`
	Flags     int   `json:"flags,omitempty"`
}

// PropertiesResult is the response data of OpGetProperties.
type PropertiesResult struct {
	Game   map[string]any         `json:"game,omitempty"`
	Actors map[int]map[string]any `json:"actors,omitempty"`
}

// RaiseEventParams are the parameters of OpRaiseEvent. CacheSliceIndex is
// used by SliceSetIndex and the slice purge ops.
type RaiseEventParams struct {
	Code            int   `json:"code"`
	Data            any   `json:"data,omitempty"`
	Cache           int   `json:"cache,omitempty"`
	CacheSliceIndex int   `json:"cache_slice_index,omitempty"`
	ActorList       []int `json:"actor_list,omitempty"`
	TargetActors    []int `json:"target_actors,omitempty"`
	ReceiverGroup   int   `json:"receiver_group,omitempty"`
}

// JoinResult is the response data of create/join/join-random.
// ActorProperties is omitted when the room suppresses player info.
type JoinResult struct {
	GameID          string                 `json:"game_id"`
	Address         string                 `json:"address,omitempty"`
	ActorNr         int                    `json:"actor_nr"`
	Actors          []int                  `json:"actors"`
	GameProperties  map[string]any         `json:"game_properties,omitempty"`
	ActorProperties map[int]map[string]any `json:"actor_properties,omitempty"`
	Rejoined        bool                   `json:"rejoined,omitempty"`
}

// JoinLobbyParams are the parameters of OpJoinLobby.
type JoinLobbyParams struct {
	Lobby
	WantStats bool `json:"want_stats,omitempty"`
}

// GetGameListParams are the parameters of OpGetGameList.
type GetGameListParams struct {
	Lobby
	Filter       string         `json:"filter,omitempty"`
	FilterParams map[string]any `json:"filter_params,omitempty"`
}

// GetLobbyStatsParams are the parameters of OpGetLobbyStats.
type GetLobbyStatsParams struct {
	Names []string `json:"names"`
	Types []int    `json:"types"`
}
