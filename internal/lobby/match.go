package lobby

import (
	"context"
	"math/rand/v2"
	"sort"

	"roomd/internal/protocol"
	"roomd/internal/value"
)

// Matchmaking modes of JoinRandomGame.
const (
	FillRoom       = 0
	SerialMatching = 1
	RandomMatching = 2
)

// MatchRequest describes a random join.
type MatchRequest struct {
	Lobby protocol.Lobby
	// Filter applies to SQL lobbies only.
	Filter       string
	FilterParams map[string]any
	// ExpectedProperties must be contained in the listed properties
	// (default and async random lobbies).
	ExpectedProperties map[string]any
	ExpectedMaxPlayers int
	Mode               int
	// Places is the capacity needed: the caller plus its reserved users.
	Places int
}

// Match returns the ids of the rooms a random join may enter, best
// candidate first. Rooms without enough free places are skipped. No
// candidate is NoRandomMatchFound.
func (r *Registry) Match(req MatchRequest) ([]string, error) {
	if !validType(req.Lobby.Type) {
		return nil, protocol.Errorf(protocol.InvalidOperation, "unknown lobby type %d", req.Lobby.Type)
	}
	if req.Mode < FillRoom || req.Mode > RandomMatching {
		return nil, protocol.Errorf(protocol.InvalidOperation, "unknown matchmaking mode %d", req.Mode)
	}
	if req.Filter != "" && req.Lobby.Type != protocol.LobbySQL {
		return nil, protocol.Errorf(protocol.InvalidOperation, "lobby type %d does not support filters", req.Lobby.Type)
	}
	clauses, err := r.filters.Compile(req.Filter, req.FilterParams)
	if err != nil {
		return nil, err
	}
	expected, err := value.NormalizeMap(req.ExpectedProperties)
	if err != nil {
		return nil, protocol.Errorf(protocol.InvalidOperation, "%v", err)
	}
	if req.Places < 1 {
		req.Places = 1
	}

	l := r.lobby(req.Lobby, false)
	if l == nil {
		return nil, protocol.Errorf(protocol.NoRandomMatchFound, "no match found in lobby %q", req.Lobby.Name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	joinable := func(e *entry) bool {
		d := e.delta
		if !d.IsOpen || !d.IsVisible {
			return false
		}
		if d.MaxPlayers > 0 && d.PlayerCount+req.Places > d.MaxPlayers {
			return false
		}
		if req.ExpectedMaxPlayers > 0 && d.MaxPlayers != req.ExpectedMaxPlayers {
			return false
		}
		return value.Contains(d.Properties, expected)
	}

	var candidates []*entry
	if len(clauses) == 0 {
		for _, e := range l.listedLocked() {
			if joinable(e) {
				candidates = append(candidates, e)
			}
		}
	} else {
		for _, c := range clauses {
			ids, err := r.listings.MatchGames(context.Background(), req.Lobby, c.Where, c.Args, 0)
			if err != nil {
				return nil, protocol.Errorf(protocol.InvalidOperation, "filter %q: %v", c.Where, err)
			}
			for _, e := range l.entriesLocked(ids) {
				if joinable(e) {
					candidates = append(candidates, e)
				}
			}
			if len(candidates) > 0 {
				break
			}
		}
	}
	if len(candidates) == 0 {
		return nil, protocol.Errorf(protocol.NoRandomMatchFound, "no match found in lobby %q", req.Lobby.Name)
	}

	l.orderLocked(candidates, req.Mode)
	ids := make([]string, len(candidates))
	for i, e := range candidates {
		ids[i] = e.delta.GameID
	}
	return ids, nil
}

// orderLocked sorts candidates for the matchmaking mode. candidates arrive
// in insertion order.
func (l *Lobby) orderLocked(candidates []*entry, mode int) {
	switch mode {
	case FillRoom:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].delta.PlayerCount > candidates[j].delta.PlayerCount
		})
	case SerialMatching:
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].order < candidates[j].order })
		start := 0
		for i, e := range candidates {
			if e.order > l.lastServed {
				start = i
				break
			}
		}
		rotated := append(append([]*entry(nil), candidates[start:]...), candidates[:start]...)
		copy(candidates, rotated)
		l.lastServed = candidates[0].order
	case RandomMatching:
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	}
}
