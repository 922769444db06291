// Package lobby keeps per-lobby listings of rooms, pushes listing changes to
// subscribed peers and answers game list, random match and statistics
// queries.
//
// Each (name, type) lobby is its own unit of mutual exclusion. Deltas for
// one lobby are applied in arrival order, so a peer never observes a
// listing older than one it already saw.
package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"roomd/internal/protocol"
	"roomd/internal/sqlfilter"
	"roomd/internal/store"
	"roomd/internal/value"
)

// Subscriber is a peer joined to a lobby.
type Subscriber interface {
	ID() string
	Deliver(ev protocol.Event) bool
}

// Config holds registry settings.
type Config struct {
	// GameListLimit caps GetGameList results and GameList snapshots; 0 is
	// unlimited.
	GameListLimit int
	// DefaultLobbies are tracked from startup and always reported by
	// GetLobbyStats without arguments.
	DefaultLobbies []protocol.Lobby
}

type entry struct {
	delta protocol.GameDelta
	order uint64
}

func (e *entry) listed() bool { return e.delta.IsVisible }

func (e *entry) listing() protocol.GameListEntry {
	return protocol.GameListEntry{
		GameID:      e.delta.GameID,
		IsOpen:      e.delta.IsOpen,
		MaxPlayers:  e.delta.MaxPlayers,
		PlayerCount: e.delta.PlayerCount,
		Properties:  value.CloneMap(e.delta.Properties),
	}
}

// Lobby is one (name, type) listing.
type Lobby struct {
	mu sync.Mutex

	key   protocol.Lobby
	games map[string]*entry
	next  uint64
	subs  map[string]Subscriber

	lastServed uint64
}

// Registry owns all lobbies of the directory.
type Registry struct {
	mu      sync.RWMutex
	lobbies map[protocol.Lobby]*Lobby

	cfg      Config
	filters  *sqlfilter.Compiler
	listings *store.Store
}

// NewRegistry returns a registry. listings mirrors SQL lobbies and is
// required; filters compiles their filter strings.
func NewRegistry(cfg Config, filters *sqlfilter.Compiler, listings *store.Store) (*Registry, error) {
	if listings == nil {
		return nil, fmt.Errorf("lobby listing store is required")
	}
	if filters == nil {
		filters = sqlfilter.NewCompiler(0, nil)
	}
	r := &Registry{
		lobbies:  make(map[protocol.Lobby]*Lobby),
		cfg:      cfg,
		filters:  filters,
		listings: listings,
	}
	r.lobby(protocol.Lobby{}, true)
	for _, key := range cfg.DefaultLobbies {
		r.lobby(key, true)
	}
	return r, nil
}

func validType(t int) bool {
	return t == protocol.LobbyDefault || t == protocol.LobbySQL || t == protocol.LobbyAsyncRandom
}

func (r *Registry) lobby(key protocol.Lobby, create bool) *Lobby {
	r.mu.RLock()
	l := r.lobbies[key]
	r.mu.RUnlock()
	if l != nil || !create {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l = r.lobbies[key]; l == nil {
		l = &Lobby{
			key:   key,
			games: make(map[string]*entry),
			subs:  make(map[string]Subscriber),
		}
		r.lobbies[key] = l
		slog.Debug("lobby created", "lobby", key.Name, "lobby_type", key.Type)
	}
	return l
}

func (r *Registry) all() []*Lobby {
	r.mu.RLock()
	out := make([]*Lobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		out = append(out, l)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].key.Name != out[j].key.Name {
			return out[i].key.Name < out[j].key.Name
		}
		return out[i].key.Type < out[j].key.Type
	})
	return out
}

// Apply folds one room delta into its lobby. Deltas older than the state
// already held for the room are dropped.
func (r *Registry) Apply(d protocol.GameDelta) {
	if !validType(d.Lobby.Type) {
		slog.Warn("delta for unknown lobby type dropped", "room_id", d.GameID, "lobby_type", d.Lobby.Type)
		return
	}
	l := r.lobby(d.Lobby, true)

	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.games[d.GameID]
	if old != nil && d.Seq <= old.delta.Seq {
		slog.Debug("stale delta dropped", "room_id", d.GameID, "seq", d.Seq, "have", old.delta.Seq)
		return
	}
	wasListed := old != nil && old.listed()

	if d.Removed {
		delete(l.games, d.GameID)
		if wasListed {
			r.unlistLocked(l, d.GameID)
		}
		return
	}

	e := &entry{delta: d}
	if old != nil {
		e.order = old.order
	} else {
		l.next++
		e.order = l.next
	}
	l.games[d.GameID] = e

	switch {
	case e.listed():
		if wasListed && sameListing(old, e) {
			return
		}
		r.mirrorLocked(l, e)
		l.pushLocked(protocol.Event{Name: protocol.EvGameListUpdate, Data: []protocol.GameListEntry{e.listing()}})
	case wasListed:
		r.unlistLocked(l, d.GameID)
	}
}

func sameListing(a, b *entry) bool {
	return a.delta.IsOpen == b.delta.IsOpen &&
		a.delta.MaxPlayers == b.delta.MaxPlayers &&
		a.delta.PlayerCount == b.delta.PlayerCount &&
		a.delta.ActiveCount == b.delta.ActiveCount &&
		value.Equal(mapOrNil(a.delta.Properties), mapOrNil(b.delta.Properties))
}

func mapOrNil(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func (r *Registry) unlistLocked(l *Lobby, gameID string) {
	if l.key.Type == protocol.LobbySQL {
		if err := r.listings.DeleteGame(context.Background(), l.key, gameID); err != nil {
			slog.Error("unlist sql game", "lobby", l.key.Name, "room_id", gameID, "err", err)
		}
	}
	l.pushLocked(protocol.Event{Name: protocol.EvGameListUpdate, Data: []protocol.GameListEntry{{GameID: gameID, Removed: true}}})
}

func (r *Registry) mirrorLocked(l *Lobby, e *entry) {
	if l.key.Type != protocol.LobbySQL {
		return
	}
	row := store.GameRow{
		Lobby:       l.key,
		GameID:      e.delta.GameID,
		IsOpen:      e.delta.IsOpen,
		MaxPlayers:  e.delta.MaxPlayers,
		PlayerCount: e.delta.PlayerCount,
	}
	for i := 0; i < store.Columns; i++ {
		row.Values[i] = sqlValue(e.delta.Properties[fmt.Sprintf("C%d", i)])
	}
	if err := r.listings.UpsertGame(context.Background(), row); err != nil {
		slog.Error("mirror sql game", "lobby", l.key.Name, "room_id", e.delta.GameID, "err", err)
	}
}

// sqlValue keeps the scalar property values SQLite can compare.
func sqlValue(v any) any {
	switch v.(type) {
	case nil, bool, int64, float64, string, []byte:
		return v
	}
	return nil
}

// pushLocked delivers ev to the subscribers of lobbies that push updates.
func (l *Lobby) pushLocked(ev protocol.Event) {
	if l.key.Type != protocol.LobbyDefault {
		return
	}
	for _, s := range l.subs {
		if !s.Deliver(ev) {
			slog.Warn("lobby update dropped", "lobby", l.key.Name, "peer_id", s.ID())
		}
	}
}

// listedLocked returns the visible rooms in insertion order.
func (l *Lobby) listedLocked() []*entry {
	out := make([]*entry, 0, len(l.games))
	for _, e := range l.games {
		if e.listed() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// Subscribe adds s to the lobby. Default lobbies answer with a GameList
// snapshot of the visible rooms.
func (r *Registry) Subscribe(key protocol.Lobby, s Subscriber) error {
	if !validType(key.Type) {
		return protocol.Errorf(protocol.InvalidOperation, "unknown lobby type %d", key.Type)
	}
	l := r.lobby(key, true)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[s.ID()] = s
	slog.Debug("peer joined lobby", "lobby", key.Name, "lobby_type", key.Type, "peer_id", s.ID())

	if key.Type != protocol.LobbyDefault {
		return nil
	}
	listed := l.listedLocked()
	if r.cfg.GameListLimit > 0 && len(listed) > r.cfg.GameListLimit {
		listed = listed[:r.cfg.GameListLimit]
	}
	games := make([]protocol.GameListEntry, 0, len(listed))
	for _, e := range listed {
		games = append(games, e.listing())
	}
	s.Deliver(protocol.Event{Name: protocol.EvGameList, Data: games})
	return nil
}

// Unsubscribe removes a peer from the lobby.
func (r *Registry) Unsubscribe(key protocol.Lobby, peerID string) {
	l := r.lobby(key, false)
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.subs, peerID)
	l.mu.Unlock()
}

// Game returns the listed state of one room.
func (r *Registry) Game(key protocol.Lobby, gameID string) (protocol.GameDelta, bool) {
	l := r.lobby(key, false)
	if l == nil {
		return protocol.GameDelta{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.games[gameID]
	if !ok {
		return protocol.GameDelta{}, false
	}
	return e.delta, true
}
