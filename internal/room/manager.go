package room

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"roomd/internal/protocol"
)

// Manager is the table of live rooms of one process. It only guards the
// table; each room serializes its own state.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	cfg   Config
}

// NewManager returns an empty room table whose rooms share cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{rooms: make(map[string]*Room), cfg: cfg}
}

// Create makes a new room and joins its creator. An empty gameID picks a
// random one. The room only becomes visible once the creator is in.
func (m *Manager) Create(gameID string, lobby protocol.Lobby, opts protocol.RoomOptions, req JoinRequest) (*Room, protocol.JoinResult, error) {
	if gameID == "" {
		gameID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[gameID]; ok {
		return nil, protocol.JoinResult{}, protocol.Errorf(protocol.GameIDAlreadyExists, "game %s already exists", gameID)
	}
	r, err := New(gameID, lobby, opts, m.cfg)
	if err != nil {
		return nil, protocol.JoinResult{}, err
	}
	r.onDestroy = m.remove

	r.mu.Lock()
	res, err := r.joinLocked(req, true)
	r.mu.Unlock()
	if err != nil {
		return nil, protocol.JoinResult{}, err
	}
	m.rooms[gameID] = r
	slog.Info("room created", "room_id", gameID, "lobby", lobby.Name, "lobby_type", lobby.Type)
	return r, res, nil
}

// Join enters an existing room. With CreateIfNotExists a missing room is
// created with opts first.
func (m *Manager) Join(gameID string, lobby protocol.Lobby, opts protocol.RoomOptions, req JoinRequest) (*Room, protocol.JoinResult, error) {
	if gameID == "" {
		return nil, protocol.JoinResult{}, protocol.Errorf(protocol.InvalidOperation, "game id is required")
	}
	r := m.Get(gameID)
	if r == nil && req.Mode == CreateIfNotExists {
		created, res, err := m.Create(gameID, lobby, opts, req)
		if !errors.Is(err, protocol.ErrGameIDExists) {
			return created, res, err
		}
		r = m.Get(gameID)
	}
	if r == nil {
		return nil, protocol.JoinResult{}, protocol.Errorf(protocol.GameDoesNotExist, "game %s does not exist", gameID)
	}
	res, err := r.Join(req)
	if err != nil {
		return nil, protocol.JoinResult{}, err
	}
	return r, res, nil
}

// Get returns the live room with the given id, or nil.
func (m *Manager) Get(gameID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[gameID]
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Rooms returns summaries of all live rooms ordered by id.
func (m *Manager) Rooms() []Summary {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll destroys every room.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()
	for _, r := range rooms {
		r.Close()
	}
}

func (m *Manager) remove(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[r.id] == r {
		delete(m.rooms, r.id)
	}
}
