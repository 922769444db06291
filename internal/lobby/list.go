package lobby

import (
	"context"

	"roomd/internal/protocol"
)

// GetGameList returns the visible rooms of a lobby. Only SQL lobbies accept
// a filter; its alternatives are tried in order and the first one matching
// any room decides the result.
func (r *Registry) GetGameList(key protocol.Lobby, filter string, params map[string]any) ([]protocol.GameListEntry, error) {
	if !validType(key.Type) {
		return nil, protocol.Errorf(protocol.InvalidOperation, "unknown lobby type %d", key.Type)
	}
	if filter != "" && key.Type != protocol.LobbySQL {
		return nil, protocol.Errorf(protocol.InvalidOperation, "lobby type %d does not support filters", key.Type)
	}
	clauses, err := r.filters.Compile(filter, params)
	if err != nil {
		return nil, err
	}

	l := r.lobby(key, false)
	if l == nil {
		return []protocol.GameListEntry{}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var picked []*entry
	if len(clauses) == 0 {
		picked = l.listedLocked()
		if r.cfg.GameListLimit > 0 && len(picked) > r.cfg.GameListLimit {
			picked = picked[:r.cfg.GameListLimit]
		}
	} else {
		for _, c := range clauses {
			ids, err := r.listings.MatchGames(context.Background(), key, c.Where, c.Args, r.cfg.GameListLimit)
			if err != nil {
				return nil, protocol.Errorf(protocol.InvalidOperation, "filter %q: %v", c.Where, err)
			}
			picked = l.entriesLocked(ids)
			if len(picked) > 0 {
				break
			}
		}
	}

	out := make([]protocol.GameListEntry, 0, len(picked))
	for _, e := range picked {
		out = append(out, e.listing())
	}
	return out, nil
}

// entriesLocked resolves listed game ids, keeping their order.
func (l *Lobby) entriesLocked(ids []string) []*entry {
	out := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := l.games[id]; ok && e.listed() {
			out = append(out, e)
		}
	}
	return out
}
