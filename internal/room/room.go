// Package room holds the authoritative state of one game room: properties,
// membership, reserved slots and the event cache.
//
// Every Room is its own unit of mutual exclusion. All operations against one
// room run under its mutex; different rooms never share mutable state.
// Deliveries to peers and deltas to the lobby are non-blocking enqueues, so
// nothing waits on the network while the lock is held.
package room

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"roomd/internal/clock"
	"roomd/internal/eventcache"
	"roomd/internal/props"
	"roomd/internal/protocol"
	"roomd/internal/slots"
	"roomd/internal/value"
)

// Peer is the connection of one active actor.
type Peer interface {
	// ID identifies the session.
	ID() string
	// Deliver enqueues ev without blocking and reports whether it was
	// accepted.
	Deliver(ev protocol.Event) bool
}

// Publisher forwards room deltas to the lobby. Publish must not block.
type Publisher interface {
	Publish(d protocol.GameDelta)
}

// JoinMode selects how JoinGame treats missing rooms and returning users.
type JoinMode int

// Join modes.
const (
	JoinOnly          JoinMode = 0
	CreateIfNotExists JoinMode = 1
	JoinOrRejoin      JoinMode = 2
	RejoinOnly        JoinMode = 3
)

// Flags are the behavior switches fixed at room creation.
type Flags struct {
	BroadcastPropsChangeToAll bool
	SuppressRoomEvents        bool
	SuppressPlayerInfo        bool
	CheckUserOnJoin           bool
	DeleteNullProperties      bool
	PublishUserID             bool
}

// Config carries the limits and collaborators shared by all rooms of a
// process.
type Config struct {
	PropertyLimits props.Limits
	TTLLimits      props.TTLLimits
	CacheLimits    eventcache.Limits
	Clock          clock.Clock
	Publisher      Publisher
}

type actor struct {
	nr     int
	userID string
	active bool
	peer   Peer
	props  *props.Store
	ttl    *clock.Timer
	// ttlGen identifies the current PlayerTTL countdown; a callback of an
	// older one is ignored.
	ttlGen uint64
}

// Room is one game session.
type Room struct {
	mu sync.Mutex

	id    string
	lobby protocol.Lobby
	cfg   Config
	flags Flags

	props *props.Store
	cache *eventcache.Cache

	actors      map[int]*actor
	nextActorNr int
	masterNr    int

	maxPlayers   int
	isOpen       bool
	isVisible    bool
	playerTTL    int64
	emptyRoomTTL int64
	expected     []string
	lobbyKeys    []string
	excluded     map[string]struct{}

	cacheExceeded   bool
	emptyTimer      *clock.Timer
	emptyGen        uint64
	destroyed       bool
	destroyNotified bool
	seq             uint64

	onDestroy func(*Room)
}

// Summary is a read-only view of a room for inspection endpoints.
type Summary struct {
	ID           string         `json:"id"`
	Lobby        protocol.Lobby `json:"lobby"`
	MaxPlayers   int            `json:"max_players"`
	IsOpen       bool           `json:"is_open"`
	IsVisible    bool           `json:"is_visible"`
	Active       int            `json:"active"`
	Inactive     int            `json:"inactive"`
	Reserved     int            `json:"reserved"`
	CachedEvents int            `json:"cached_events"`
	MasterClient int            `json:"master_client"`
}

// New builds an empty room from its creation options. The room has no actors
// until the creator joins.
func New(id string, lobby protocol.Lobby, opts protocol.RoomOptions, cfg Config) (*Room, error) {
	if id == "" {
		return nil, protocol.Errorf(protocol.InvalidOperation, "game id is required")
	}
	switch lobby.Type {
	case protocol.LobbyDefault, protocol.LobbySQL, protocol.LobbyAsyncRandom:
	default:
		return nil, protocol.Errorf(protocol.InvalidOperation, "unknown lobby type %d", lobby.Type)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	r := &Room{
		id:          id,
		lobby:       lobby,
		cfg:         cfg,
		props:       props.NewStore(cfg.PropertyLimits),
		cache:       eventcache.New(cfg.CacheLimits),
		actors:      make(map[int]*actor),
		nextActorNr: 1,
		isOpen:      true,
		isVisible:   true,
		excluded:    make(map[string]struct{}),
		flags: Flags{
			BroadcastPropsChangeToAll: opts.BroadcastPropsChangeToAll,
			SuppressRoomEvents:        opts.SuppressRoomEvents,
			SuppressPlayerInfo:        opts.SuppressPlayerInfo,
			CheckUserOnJoin:           opts.CheckUserOnJoin,
			DeleteNullProperties:      opts.DeleteNullProperties,
			PublishUserID:             opts.PublishUserID,
		},
	}
	for _, u := range opts.ExcludedUsers {
		r.excluded[u] = struct{}{}
	}

	initial, err := value.NormalizeMap(opts.Properties)
	if err != nil {
		return nil, protocol.Errorf(protocol.InvalidOperation, "%v", err)
	}
	if initial == nil {
		initial = make(map[string]any)
	}
	if opts.MaxPlayers != nil {
		initial[props.MaxPlayers] = int64(*opts.MaxPlayers)
	}
	if opts.IsOpen != nil {
		initial[props.IsOpen] = *opts.IsOpen
	}
	if opts.IsVisible != nil {
		initial[props.IsVisible] = *opts.IsVisible
	}
	if opts.PlayerTTL != nil {
		initial[props.PlayerTTL] = *opts.PlayerTTL
	}
	if opts.EmptyRoomTTL != nil {
		initial[props.EmptyRoomTTL] = *opts.EmptyRoomTTL
	}
	if opts.LobbyProperties != nil {
		initial[props.LobbyProperties] = value.FromStrings(opts.LobbyProperties)
	}
	if len(initial) > 0 {
		prepared, st, err := r.prepareRoomWrite(initial, true)
		if err != nil {
			return nil, err
		}
		r.commitRoomWrite(prepared, st)
	}
	return r, nil
}

// ID returns the game id.
func (r *Room) ID() string { return r.id }

// Lobby returns the lobby the room is listed in.
func (r *Room) Lobby() protocol.Lobby { return r.lobby }

// Summary returns the current counters of the room.
func (r *Room) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, inactive := r.countsLocked()
	return Summary{
		ID:           r.id,
		Lobby:        r.lobby,
		MaxPlayers:   r.maxPlayers,
		IsOpen:       r.isOpen,
		IsVisible:    r.isVisible,
		Active:       active,
		Inactive:     inactive,
		Reserved:     slots.Reserved(r.expected, r.joinedUsersLocked()),
		CachedEvents: r.cache.Len(),
		MasterClient: r.masterNr,
	}
}

// ExpectedUsers returns the current slot reservations.
func (r *Room) ExpectedUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.expected...)
}

// IsDestroyed reports whether the room was closed for good.
func (r *Room) IsDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

func (r *Room) countsLocked() (active, inactive int) {
	for _, a := range r.actors {
		if a.active {
			active++
		} else {
			inactive++
		}
	}
	return active, inactive
}

func (r *Room) joinedUsersLocked() map[string]struct{} {
	out := make(map[string]struct{}, len(r.actors))
	for _, a := range r.actors {
		if a.userID != "" {
			out[a.userID] = struct{}{}
		}
	}
	return out
}

func (r *Room) occupancyLocked(capacity int) slots.Occupancy {
	return slots.Occupancy{
		Capacity:    capacity,
		Joined:      len(r.actors),
		JoinedUsers: r.joinedUsersLocked(),
	}
}

// actorNrsLocked returns member actor numbers in ascending order.
func (r *Room) actorNrsLocked() []int {
	out := make([]int, 0, len(r.actors))
	for nr := range r.actors {
		out = append(out, nr)
	}
	sort.Ints(out)
	return out
}

func (r *Room) isMemberLocked(nr int) bool {
	_, ok := r.actors[nr]
	return ok
}

func (r *Room) activeActorLocked(nr int) (*actor, error) {
	a, ok := r.actors[nr]
	if !ok || !a.active {
		return nil, protocol.Errorf(protocol.OperationNotAllowedInCurrentState, "actor %d is not active in game %s", nr, r.id)
	}
	return a, nil
}

// deliverLocked sends ev to one active actor.
func (r *Room) deliverLocked(a *actor, ev protocol.Event) {
	if a == nil || !a.active || a.peer == nil {
		return
	}
	if !a.peer.Deliver(ev) {
		slog.Warn("event dropped", "room_id", r.id, "actor_nr", a.nr, "event", ev.Name)
	}
}

// broadcastLocked sends ev to every active actor except exceptNr (0 sends
// to all).
func (r *Room) broadcastLocked(ev protocol.Event, exceptNr int) {
	for _, nr := range r.actorNrsLocked() {
		if nr == exceptNr {
			continue
		}
		r.deliverLocked(r.actors[nr], ev)
	}
}

func (r *Room) errorInfoLocked(a *actor, format string, args ...any) {
	r.deliverLocked(a, protocol.Event{
		Name: protocol.EvErrorInfo,
		Data: protocol.ErrorInfoData{Message: fmt.Sprintf(format, args...)},
	})
}

// publishLocked reports the listed state of the room to its lobby.
func (r *Room) publishLocked() {
	if r.cfg.Publisher == nil {
		return
	}
	r.seq++
	d := protocol.GameDelta{
		GameID:  r.id,
		Lobby:   r.lobby,
		Seq:     r.seq,
		Removed: r.destroyed,
	}
	if !r.destroyed {
		active, _ := r.countsLocked()
		d.IsOpen = r.isOpen
		d.IsVisible = r.isVisible
		d.MaxPlayers = r.maxPlayers
		d.PlayerCount = r.occupancyLocked(r.maxPlayers).Used(r.expected)
		d.ActiveCount = active
		d.Properties = r.props.Snapshot(r.lobbyKeys)
	}
	r.cfg.Publisher.Publish(d)
}

// listedLocked reports whether a change to key is visible in the lobby.
func (r *Room) listedLocked(key string) bool {
	switch key {
	case props.IsOpen, props.IsVisible, props.MaxPlayers, props.ExpectedUsers:
		return true
	}
	for _, k := range r.lobbyKeys {
		if k == key {
			return true
		}
	}
	return false
}

func (r *Room) gamePropertiesLocked() map[string]any {
	out := r.props.Snapshot(nil)
	if r.masterNr > 0 {
		out[props.MasterClientID] = int64(r.masterNr)
	}
	return out
}

func (r *Room) actorPropertiesLocked() map[int]map[string]any {
	if r.flags.SuppressPlayerInfo {
		return nil
	}
	out := make(map[int]map[string]any, len(r.actors))
	for nr, a := range r.actors {
		out[nr] = a.props.Snapshot(nil)
	}
	return out
}
