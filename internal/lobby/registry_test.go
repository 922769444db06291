package lobby

import (
	"errors"
	"sync"
	"testing"

	"roomd/internal/protocol"
	"roomd/internal/sqlfilter"
	"roomd/internal/store"
)

type testSub struct {
	id string

	mu     sync.Mutex
	events []protocol.Event
}

func (s *testSub) ID() string { return s.id }

func (s *testSub) Deliver(ev protocol.Event) bool {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return true
}

func (s *testSub) take() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

func newRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	r, err := NewRegistry(cfg, sqlfilter.NewCompiler(4, nil), st)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func delta(lobby protocol.Lobby, id string, seq uint64, players int, props map[string]any) protocol.GameDelta {
	return protocol.GameDelta{
		GameID:      id,
		Lobby:       lobby,
		Seq:         seq,
		IsOpen:      true,
		IsVisible:   true,
		MaxPlayers:  4,
		PlayerCount: players,
		ActiveCount: players,
		Properties:  props,
	}
}

func updates(t *testing.T, evs []protocol.Event) []protocol.GameListEntry {
	t.Helper()
	var out []protocol.GameListEntry
	for _, ev := range evs {
		if ev.Name != protocol.EvGameListUpdate {
			t.Fatalf("unexpected event %q", ev.Name)
		}
		out = append(out, ev.Data.([]protocol.GameListEntry)...)
	}
	return out
}

func TestDefaultLobbyPushesUpdates(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, Config{})
	lobby := protocol.Lobby{}
	r.Apply(delta(lobby, "g1", 1, 1, nil))

	sub := &testSub{id: "p1"}
	if err := r.Subscribe(lobby, sub); err != nil {
		t.Fatal(err)
	}
	evs := sub.take()
	if len(evs) != 1 || evs[0].Name != protocol.EvGameList {
		t.Fatalf("expected GameList snapshot, got %+v", evs)
	}
	if games := evs[0].Data.([]protocol.GameListEntry); len(games) != 1 || games[0].GameID != "g1" {
		t.Fatalf("snapshot = %+v", games)
	}

	r.Apply(delta(lobby, "g1", 2, 2, nil))
	r.Apply(delta(lobby, "g1", 2, 3, nil)) // duplicate seq
	r.Apply(delta(lobby, "g1", 1, 1, nil)) // stale
	got := updates(t, sub.take())
	if len(got) != 1 || got[0].PlayerCount != 2 {
		t.Fatalf("updates = %+v", got)
	}
	if d, ok := r.Game(lobby, "g1"); !ok || d.Seq != 2 || d.PlayerCount != 2 {
		t.Fatalf("stored listing = %+v, %v; want seq 2 with 2 players", d, ok)
	}

	// Unchanged listing pushes nothing.
	r.Apply(delta(lobby, "g1", 3, 2, nil))
	if evs := sub.take(); len(evs) != 0 {
		t.Fatalf("no-op delta pushed %+v", evs)
	}

	r.Apply(protocol.GameDelta{GameID: "g1", Lobby: lobby, Seq: 4, Removed: true})
	got = updates(t, sub.take())
	if len(got) != 1 || !got[0].Removed {
		t.Fatalf("expected tombstone, got %+v", got)
	}
	if _, ok := r.Game(lobby, "g1"); ok {
		t.Fatal("removed game still stored")
	}
}

func TestGameListLimit(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, Config{GameListLimit: 2})
	plain := protocol.Lobby{}
	ranked := protocol.Lobby{Name: "ranked", Type: protocol.LobbySQL}
	for i, id := range []string{"g1", "g2", "g3", "g4", "g5"} {
		r.Apply(delta(plain, id, 1, 1, nil))
		r.Apply(delta(ranked, id, 1, 1, map[string]any{"C0": int64(i + 1)}))
	}

	list, err := r.GetGameList(plain, "", nil)
	if err != nil || len(list) != 2 {
		t.Fatalf("default lobby list = %+v, %v; want 2 games", list, err)
	}
	list, err = r.GetGameList(ranked, "", nil)
	if err != nil || len(list) != 2 {
		t.Fatalf("unfiltered sql list = %+v, %v; want 2 games", list, err)
	}
	list, err = r.GetGameList(ranked, "C0 >= 1", nil)
	if err != nil || len(list) != 2 {
		t.Fatalf("filtered sql list = %+v, %v; want 2 games", list, err)
	}

	sub := &testSub{id: "p1"}
	if err := r.Subscribe(plain, sub); err != nil {
		t.Fatal(err)
	}
	evs := sub.take()
	if len(evs) != 1 || evs[0].Name != protocol.EvGameList {
		t.Fatalf("expected GameList snapshot, got %+v", evs)
	}
	if games := evs[0].Data.([]protocol.GameListEntry); len(games) != 2 || games[0].GameID != "g1" || games[1].GameID != "g2" {
		t.Fatalf("snapshot = %+v, want [g1 g2]", games)
	}
}

func TestInvisibleRoomsAreNotListed(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, Config{})
	lobby := protocol.Lobby{}
	sub := &testSub{id: "p1"}
	if err := r.Subscribe(lobby, sub); err != nil {
		t.Fatal(err)
	}
	sub.take()

	hidden := delta(lobby, "g1", 1, 1, nil)
	hidden.IsVisible = false
	r.Apply(hidden)
	if evs := sub.take(); len(evs) != 0 {
		t.Fatalf("invisible room pushed %+v", evs)
	}
	list, err := r.GetGameList(lobby, "", nil)
	if err != nil || len(list) != 0 {
		t.Fatalf("game list = %+v, %v", list, err)
	}

	r.Apply(delta(lobby, "g1", 2, 1, nil))
	if got := updates(t, sub.take()); len(got) != 1 || got[0].GameID != "g1" {
		t.Fatalf("visible room not pushed: %+v", got)
	}
	hidden.Seq = 3
	r.Apply(hidden)
	if got := updates(t, sub.take()); len(got) != 1 || !got[0].Removed {
		t.Fatalf("hiding a room should push a removal: %+v", got)
	}
}

func TestSQLLobbyFilters(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, Config{})
	lobby := protocol.Lobby{Name: "ranked", Type: protocol.LobbySQL}
	sub := &testSub{id: "p1"}
	if err := r.Subscribe(lobby, sub); err != nil {
		t.Fatal(err)
	}
	r.Apply(delta(lobby, "g10", 1, 1, map[string]any{"C0": int64(10)}))
	if evs := sub.take(); len(evs) != 0 {
		t.Fatalf("sql lobby pushed %+v", evs)
	}

	if _, err := r.GetGameList(lobby, "C0=2;", nil); !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Fatalf("trailing semicolon: got %v", err)
	}
	list, err := r.GetGameList(lobby, "C0 <= 5;C0 <= 10", nil)
	if err != nil {
		t.Fatalf("game list: %v", err)
	}
	if len(list) != 1 || list[0].GameID != "g10" {
		t.Fatalf("list = %+v", list)
	}
	if _, err := r.GetGameList(protocol.Lobby{}, "C0 = 1", nil); !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Fatalf("filter on default lobby: got %v", err)
	}
}

func TestSQLFirstMatchingAlternativeWins(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, Config{})
	lobby := protocol.Lobby{Name: "ranked", Type: protocol.LobbySQL}
	r.Apply(delta(lobby, "low", 1, 1, map[string]any{"C0": int64(3)}))
	r.Apply(delta(lobby, "high", 1, 1, map[string]any{"C0": int64(8)}))

	ids, err := r.Match(MatchRequest{Lobby: lobby, Filter: "C0 > 5; C0 > 0"})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(ids) != 1 || ids[0] != "high" {
		t.Fatalf("ids = %v, want [high]", ids)
	}
}

func TestMatchFillRoomAndCapacity(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, Config{})
	lobby := protocol.Lobby{}
	r.Apply(delta(lobby, "a", 1, 1, map[string]any{"mode": "ctf"}))
	r.Apply(delta(lobby, "b", 1, 3, map[string]any{"mode": "ctf"}))
	r.Apply(delta(lobby, "c", 1, 2, map[string]any{"mode": "dm"}))

	ids, err := r.Match(MatchRequest{Lobby: lobby, Mode: FillRoom})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "c" || ids[2] != "a" {
		t.Fatalf("fill order = %v", ids)
	}

	ids, err = r.Match(MatchRequest{Lobby: lobby, ExpectedProperties: map[string]any{"mode": "ctf"}, Places: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("room b has one free place and must be skipped: %v", ids)
	}

	_, err = r.Match(MatchRequest{Lobby: lobby, Places: 4})
	if !errors.Is(err, protocol.ErrNoRandomMatch) {
		t.Fatalf("expected NoRandomMatchFound, got %v", err)
	}
	if _, err := r.Match(MatchRequest{Lobby: lobby, Filter: "C0 = 1"}); !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Fatalf("filter on default lobby: got %v", err)
	}
}

func TestMatchSkipsClosedRooms(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, Config{})
	lobby := protocol.Lobby{}
	closed := delta(lobby, "a", 1, 1, nil)
	closed.IsOpen = false
	r.Apply(closed)
	if _, err := r.Match(MatchRequest{Lobby: lobby}); !errors.Is(err, protocol.ErrNoRandomMatch) {
		t.Fatalf("closed room matched: %v", err)
	}
}

func TestSerialMatchingRotates(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, Config{})
	lobby := protocol.Lobby{}
	for _, id := range []string{"a", "b", "c"} {
		r.Apply(delta(lobby, id, 1, 1, nil))
	}
	var first []string
	for i := 0; i < 4; i++ {
		ids, err := r.Match(MatchRequest{Lobby: lobby, Mode: SerialMatching})
		if err != nil {
			t.Fatal(err)
		}
		first = append(first, ids[0])
	}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if first[i] != want[i] {
			t.Fatalf("serial picks = %v, want %v", first, want)
		}
	}
}

func TestLobbyStats(t *testing.T) {
	t.Parallel()
	sqlLobby := protocol.Lobby{Name: "ranked", Type: protocol.LobbySQL}
	r := newRegistry(t, Config{DefaultLobbies: []protocol.Lobby{sqlLobby}})
	lobby := protocol.Lobby{}
	if err := r.Subscribe(lobby, &testSub{id: "p1"}); err != nil {
		t.Fatal(err)
	}
	r.Apply(delta(lobby, "a", 1, 2, nil))
	empty := delta(lobby, "b", 1, 0, nil)
	r.Apply(empty)

	stats, err := r.Stats(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[0].Name != "" || stats[0].PeerCount != 3 || stats[0].GameCount != 1 {
		t.Fatalf("default lobby stat = %+v", stats[0])
	}
	if stats[1] != (protocol.LobbyStat{Name: "ranked", Type: protocol.LobbySQL}) {
		t.Fatalf("sql lobby stat = %+v", stats[1])
	}

	if _, err := r.Stats([]string{"a", "b"}, []int{0}); !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Fatalf("length mismatch: got %v", err)
	}
	stats, err = r.Stats([]string{"unknown"}, nil)
	if err != nil || len(stats) != 1 || stats[0].PeerCount != 0 {
		t.Fatalf("unknown lobby: %+v %v", stats, err)
	}

	data := StatsData(stats)
	if len(data.Names) != 1 || data.Names[0] != "unknown" {
		t.Fatalf("stats data = %+v", data)
	}
}
