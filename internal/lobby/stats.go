package lobby

import "roomd/internal/protocol"

// Stats returns peer and game counts per lobby. With both names and types
// nil every known lobby is reported. Types may be nil to mean the default
// type for every name; otherwise both lists must have the same length.
func (r *Registry) Stats(names []string, types []int) ([]protocol.LobbyStat, error) {
	if names == nil && types == nil {
		lobbies := r.all()
		out := make([]protocol.LobbyStat, 0, len(lobbies))
		for _, l := range lobbies {
			out = append(out, l.stat())
		}
		return out, nil
	}
	if types != nil && len(types) != len(names) {
		return nil, protocol.Errorf(protocol.InvalidOperation, "%d lobby names but %d lobby types", len(names), len(types))
	}

	out := make([]protocol.LobbyStat, 0, len(names))
	for i, name := range names {
		key := protocol.Lobby{Name: name}
		if types != nil {
			key.Type = types[i]
		}
		if l := r.lobby(key, false); l != nil {
			out = append(out, l.stat())
			continue
		}
		out = append(out, protocol.LobbyStat{Name: key.Name, Type: key.Type})
	}
	return out, nil
}

// stat counts subscribers plus the active actors of visible rooms, and the
// visible open rooms with someone in them.
func (l *Lobby) stat() protocol.LobbyStat {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := protocol.LobbyStat{Name: l.key.Name, Type: l.key.Type, PeerCount: len(l.subs)}
	for _, e := range l.games {
		if !e.listed() {
			continue
		}
		s.PeerCount += e.delta.ActiveCount
		if e.delta.IsOpen && e.delta.ActiveCount > 0 {
			s.GameCount++
		}
	}
	return s
}

// StatsData converts stat rows into the parallel arrays of a LobbyStats
// event.
func StatsData(stats []protocol.LobbyStat) protocol.LobbyStatsData {
	d := protocol.LobbyStatsData{
		Names:      make([]string, len(stats)),
		Types:      make([]int, len(stats)),
		PeerCounts: make([]int, len(stats)),
		GameCounts: make([]int, len(stats)),
	}
	for i, s := range stats {
		d.Names[i] = s.Name
		d.Types[i] = s.Type
		d.PeerCounts[i] = s.PeerCount
		d.GameCounts[i] = s.GameCount
	}
	return d
}
