// Package core binds peer sessions to rooms and lobbies. It exposes the
// operation surface the transport calls into.
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"roomd/internal/lobby"
	"roomd/internal/protocol"
	"roomd/internal/room"
)

// Config holds coordinator settings.
type Config struct {
	// Address is reported to joiners as the room's address.
	Address    string
	SendBuffer int
}

// Coordinator is the process-wide table of sessions.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	rooms   *room.Manager
	lobbies *lobby.Registry
	cfg     Config
}

// New returns a coordinator over rooms and lobbies.
func New(rooms *room.Manager, lobbies *lobby.Registry, cfg Config) *Coordinator {
	return &Coordinator{
		sessions: make(map[string]*Session),
		rooms:    rooms,
		lobbies:  lobbies,
		cfg:      cfg,
	}
}

// Rooms returns the room table.
func (c *Coordinator) Rooms() *room.Manager { return c.rooms }

// Lobbies returns the lobby registry.
func (c *Coordinator) Lobbies() *lobby.Registry { return c.lobbies }

// Connect registers a new session for userID.
func (c *Coordinator) Connect(userID string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	s := newSession(uuid.NewString(), userID, c.cfg.SendBuffer)

	c.mu.Lock()
	c.sessions[s.id] = s
	count := len(c.sessions)
	c.mu.Unlock()

	slog.Info("session added", "peer_id", s.id, "user_id", userID, "total_sessions", count)
	return s, nil
}

// Disconnect drops a session. An actor the session holds goes inactive as
// if it left with willComeBack set.
func (c *Coordinator) Disconnect(sessionID string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	remaining := len(c.sessions)
	c.mu.Unlock()
	if !ok {
		return
	}

	s.op.Lock()
	defer s.op.Unlock()
	if r, nr := s.current(); r != nil {
		if err := r.Leave(nr, true); err != nil {
			slog.Debug("leave on disconnect", "peer_id", s.id, "room_id", r.ID(), "err", err)
		}
		s.exit()
	}
	c.leaveLobby(s)
	s.close()
	slog.Info("session removed", "peer_id", s.id, "user_id", s.userID, "remaining_sessions", remaining)
}

// ClientCount returns the number of connected sessions.
func (c *Coordinator) ClientCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// SessionInfo describes a session for inspection.
type SessionInfo struct {
	ID      string          `json:"id"`
	UserID  string          `json:"user_id"`
	RoomID  string          `json:"room_id,omitempty"`
	ActorNr int             `json:"actor_nr,omitempty"`
	Lobby   *protocol.Lobby `json:"lobby,omitempty"`
}

// Sessions returns all sessions ordered by user id.
func (c *Coordinator) Sessions() []SessionInfo {
	c.mu.RLock()
	list := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.RUnlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		info := SessionInfo{ID: s.id, UserID: s.userID}
		if r, nr := s.current(); r != nil {
			info.RoomID, info.ActorNr = r.ID(), nr
		}
		info.Lobby, _ = s.subscribed()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Coordinator) statsSubscribers() []*Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Session
	for _, s := range c.sessions {
		if _, want := s.subscribed(); want {
			out = append(out, s)
		}
	}
	return out
}

func (c *Coordinator) joinRequest(s *Session, mode room.JoinMode, actorProps map[string]any, addUsers []string) room.JoinRequest {
	return room.JoinRequest{
		Peer:            s,
		UserID:          s.userID,
		Mode:            mode,
		ActorProperties: actorProps,
		AddUsers:        addUsers,
	}
}

func (c *Coordinator) requireNoRoom(s *Session) error {
	if r, _ := s.current(); r != nil {
		return protocol.Errorf(protocol.JoinFailedPeerAlreadyJoined, "peer %s is already in game %s", s.id, r.ID())
	}
	return nil
}

func (c *Coordinator) requireRoom(s *Session) (*room.Room, int, error) {
	r, nr := s.current()
	if r == nil {
		return nil, 0, protocol.Errorf(protocol.OperationNotAllowedInCurrentState, "peer %s is not in a game", s.id)
	}
	return r, nr, nil
}

// entered records a successful join and takes the session out of its
// lobby.
func (c *Coordinator) entered(s *Session, r *room.Room, res protocol.JoinResult) protocol.JoinResult {
	s.enter(r, res.ActorNr)
	c.leaveLobby(s)
	res.Address = c.cfg.Address
	return res
}

// CreateGame creates a room and joins the session as its first actor.
func (c *Coordinator) CreateGame(s *Session, p protocol.CreateGameParams) (protocol.JoinResult, error) {
	s.op.Lock()
	defer s.op.Unlock()
	if err := c.requireNoRoom(s); err != nil {
		return protocol.JoinResult{}, err
	}
	r, res, err := c.rooms.Create(p.GameID, p.Lobby, p.Options, c.joinRequest(s, room.JoinOnly, p.ActorProperties, p.AddUsers))
	if err != nil {
		return protocol.JoinResult{}, err
	}
	return c.entered(s, r, res), nil
}

// JoinGame joins an existing room, or creates it when the join mode asks
// for that.
func (c *Coordinator) JoinGame(s *Session, p protocol.JoinGameParams) (protocol.JoinResult, error) {
	s.op.Lock()
	defer s.op.Unlock()
	if p.JoinMode < int(room.JoinOnly) || p.JoinMode > int(room.RejoinOnly) {
		return protocol.JoinResult{}, protocol.Errorf(protocol.InvalidOperation, "unknown join mode %d", p.JoinMode)
	}
	if err := c.requireNoRoom(s); err != nil {
		return protocol.JoinResult{}, err
	}
	r, res, err := c.rooms.Join(p.GameID, p.Lobby, p.Options, c.joinRequest(s, room.JoinMode(p.JoinMode), p.ActorProperties, p.AddUsers))
	if err != nil {
		return protocol.JoinResult{}, err
	}
	return c.entered(s, r, res), nil
}

// JoinRandomGame picks a room from the lobby listing and joins it. When the
// picked room filled up or closed since it was listed, the next candidate is
// tried.
func (c *Coordinator) JoinRandomGame(s *Session, p protocol.JoinRandomGameParams) (protocol.JoinResult, error) {
	s.op.Lock()
	defer s.op.Unlock()
	if err := c.requireNoRoom(s); err != nil {
		return protocol.JoinResult{}, err
	}
	candidates, err := c.lobbies.Match(lobby.MatchRequest{
		Lobby:              p.Lobby,
		Filter:             p.Filter,
		FilterParams:       p.FilterParams,
		ExpectedProperties: p.ExpectedProperties,
		ExpectedMaxPlayers: p.ExpectedMaxPlayers,
		Mode:               p.MatchmakingMode,
		Places:             places(s.userID, p.AddUsers),
	})
	if err != nil {
		return protocol.JoinResult{}, err
	}

	req := c.joinRequest(s, room.JoinOnly, p.ActorProperties, p.AddUsers)
	for _, id := range candidates {
		r := c.rooms.Get(id)
		if r == nil {
			continue
		}
		res, err := r.Join(req)
		switch {
		case err == nil:
			slog.Debug("random join", "peer_id", s.id, "room_id", id, "candidates", len(candidates))
			return c.entered(s, r, res), nil
		case errors.Is(err, protocol.ErrGameFull),
			errors.Is(err, protocol.ErrGameClosed),
			errors.Is(err, protocol.ErrGameDoesNotExist),
			errors.Is(err, protocol.ErrSlot):
			slog.Debug("random join candidate rejected", "peer_id", s.id, "room_id", id, "err", err)
			continue
		default:
			return protocol.JoinResult{}, err
		}
	}
	return protocol.JoinResult{}, protocol.Errorf(protocol.NoRandomMatchFound, "no joinable game in lobby %q", p.Lobby.Name)
}

// places counts the caller plus the distinct other users it reserves for.
func places(self string, addUsers []string) int {
	seen := map[string]struct{}{self: {}}
	for _, u := range addUsers {
		seen[u] = struct{}{}
	}
	return len(seen)
}

// Leave takes the session's actor out of its room.
func (c *Coordinator) Leave(s *Session, p protocol.LeaveParams) error {
	s.op.Lock()
	defer s.op.Unlock()
	r, nr, err := c.requireRoom(s)
	if err != nil {
		return err
	}
	err = r.Leave(nr, p.WillComeBack)
	if err == nil || errors.Is(err, protocol.ErrGameDoesNotExist) {
		s.exit()
	}
	return err
}

// SetProperties changes room or actor properties of the session's room.
func (c *Coordinator) SetProperties(s *Session, p protocol.SetPropertiesParams) error {
	s.op.Lock()
	defer s.op.Unlock()
	r, nr, err := c.requireRoom(s)
	if err != nil {
		return err
	}
	return r.SetProperties(nr, p)
}

// GetProperties reads properties of the session's room.
func (c *Coordinator) GetProperties(s *Session, p protocol.GetPropertiesParams) (protocol.PropertiesResult, error) {
	s.op.Lock()
	defer s.op.Unlock()
	r, _, err := c.requireRoom(s)
	if err != nil {
		return protocol.PropertiesResult{}, err
	}
	return r.GetProperties(p)
}

// RaiseEvent dispatches and caches an event in the session's room.
func (c *Coordinator) RaiseEvent(s *Session, p protocol.RaiseEventParams) error {
	s.op.Lock()
	defer s.op.Unlock()
	r, nr, err := c.requireRoom(s)
	if err != nil {
		return err
	}
	return r.RaiseEvent(nr, p)
}

// JoinLobby subscribes the session to a lobby, leaving any previous one.
func (c *Coordinator) JoinLobby(s *Session, p protocol.JoinLobbyParams) error {
	s.op.Lock()
	defer s.op.Unlock()
	if r, _ := s.current(); r != nil {
		return protocol.Errorf(protocol.OperationNotAllowedInCurrentState, "peer %s is in game %s", s.id, r.ID())
	}
	c.leaveLobby(s)
	if err := c.lobbies.Subscribe(p.Lobby, s); err != nil {
		return err
	}
	key := p.Lobby
	s.mu.Lock()
	s.lobby, s.wantStats = &key, p.WantStats
	s.mu.Unlock()
	return nil
}

// LeaveLobby ends the session's lobby subscription.
func (c *Coordinator) LeaveLobby(s *Session) error {
	s.op.Lock()
	defer s.op.Unlock()
	if l, _ := s.subscribed(); l == nil {
		return protocol.Errorf(protocol.OperationNotAllowedInCurrentState, "peer %s is not in a lobby", s.id)
	}
	c.leaveLobby(s)
	return nil
}

func (c *Coordinator) leaveLobby(s *Session) {
	s.mu.Lock()
	key := s.lobby
	s.lobby, s.wantStats = nil, false
	s.mu.Unlock()
	if key != nil {
		c.lobbies.Unsubscribe(*key, s.id)
	}
}

// GetGameList lists the rooms of a lobby.
func (c *Coordinator) GetGameList(p protocol.GetGameListParams) ([]protocol.GameListEntry, error) {
	return c.lobbies.GetGameList(p.Lobby, p.Filter, p.FilterParams)
}

// GetLobbyStats reports peer and game counts per lobby.
func (c *Coordinator) GetLobbyStats(p protocol.GetLobbyStatsParams) (protocol.LobbyStatsData, error) {
	stats, err := c.lobbies.Stats(p.Names, p.Types)
	if err != nil {
		return protocol.LobbyStatsData{}, err
	}
	return lobby.StatsData(stats), nil
}
