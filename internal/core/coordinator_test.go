package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"roomd/internal/clock"
	"roomd/internal/eventcache"
	"roomd/internal/lobby"
	"roomd/internal/props"
	"roomd/internal/protocol"
	"roomd/internal/relay"
	"roomd/internal/room"
	"roomd/internal/sqlfilter"
	"roomd/internal/store"
)

type fixture struct {
	clock *clock.FakeClock
	queue *relay.Queue
	coord *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	reg, err := lobby.NewRegistry(lobby.Config{}, sqlfilter.NewCompiler(4, nil), st)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	f := &fixture{clock: clock.NewFake(time.Unix(0, 0))}
	f.queue = relay.NewQueue(reg)
	rooms := room.NewManager(room.Config{
		PropertyLimits: props.Limits{MaxBytes: 4096, MaxKeys: 64},
		TTLLimits:      props.TTLLimits{MaxPlayerTTL: time.Hour, MaxEmptyRoomTTL: time.Hour},
		CacheLimits:    eventcache.Limits{},
		Clock:          f.clock,
		Publisher:      f.queue,
	})
	f.coord = New(rooms, reg, Config{Address: "ws://test/ws", SendBuffer: 128})
	return f
}

func (f *fixture) connect(t *testing.T, user string) *Session {
	t.Helper()
	s, err := f.coord.Connect(user)
	if err != nil {
		t.Fatalf("connect %s: %v", user, err)
	}
	return s
}

func drain(s *Session) []protocol.Event {
	var out []protocol.Event
	for {
		select {
		case msg, ok := <-s.Send:
			if !ok {
				return out
			}
			if msg.Event != nil {
				out = append(out, *msg.Event)
			}
		default:
			return out
		}
	}
}

func named(evs []protocol.Event, name string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range evs {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func intp(v int) *int       { return &v }
func int64p(v int64) *int64 { return &v }

func TestCreateJoinAndRaiseEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice, bob := f.connect(t, "alice"), f.connect(t, "bob")

	res, err := f.coord.CreateGame(alice, protocol.CreateGameParams{GameID: "g1", Options: protocol.RoomOptions{MaxPlayers: intp(2)}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.ActorNr != 1 || res.Address != "ws://test/ws" {
		t.Fatalf("create result = %+v", res)
	}
	res, err = f.coord.JoinGame(bob, protocol.JoinGameParams{GameID: "g1"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.ActorNr != 2 || len(res.Actors) != 2 {
		t.Fatalf("join result = %+v", res)
	}
	if joins := named(drain(alice), protocol.EvJoin); len(joins) != 2 {
		t.Fatalf("alice join events = %+v", joins)
	}
	drain(bob)

	if err := f.coord.RaiseEvent(alice, protocol.RaiseEventParams{Code: 7, Data: "hi"}); err != nil {
		t.Fatalf("raise: %v", err)
	}
	custom := named(drain(bob), protocol.EvCustom)
	if len(custom) != 1 || custom[0].Code != 7 || custom[0].Sender != 1 {
		t.Fatalf("bob custom events = %+v", custom)
	}
	if evs := named(drain(alice), protocol.EvCustom); len(evs) != 0 {
		t.Fatalf("sender received its own event: %+v", evs)
	}

	if _, err := f.coord.JoinGame(bob, protocol.JoinGameParams{GameID: "g1"}); !errors.Is(err, protocol.ErrPeerAlreadyJoined) {
		t.Fatalf("second join: got %v", err)
	}
	carol := f.connect(t, "carol")
	if _, err := f.coord.JoinGame(carol, protocol.JoinGameParams{GameID: "g1"}); !errors.Is(err, protocol.ErrGameFull) {
		t.Fatalf("join full room: got %v", err)
	}
	if err := f.coord.SetProperties(carol, protocol.SetPropertiesParams{Properties: map[string]any{"a": 1}}); !errors.Is(err, protocol.ErrNotAllowed) {
		t.Fatalf("set properties outside a room: got %v", err)
	}
}

func TestJoinRandomRetriesStaleCandidate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice, bob, carol, dave := f.connect(t, "alice"), f.connect(t, "bob"), f.connect(t, "carol"), f.connect(t, "dave")

	if _, err := f.coord.CreateGame(alice, protocol.CreateGameParams{GameID: "a", Options: protocol.RoomOptions{MaxPlayers: intp(2)}}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.CreateGame(bob, protocol.CreateGameParams{GameID: "b", Options: protocol.RoomOptions{MaxPlayers: intp(4)}}); err != nil {
		t.Fatal(err)
	}
	f.queue.Flush()

	// Room a fills up but the lobby has not seen it yet.
	if _, err := f.coord.JoinGame(carol, protocol.JoinGameParams{GameID: "a"}); err != nil {
		t.Fatal(err)
	}

	res, err := f.coord.JoinRandomGame(dave, protocol.JoinRandomGameParams{})
	if err != nil {
		t.Fatalf("join random: %v", err)
	}
	if res.GameID != "b" {
		t.Fatalf("joined %s, want b", res.GameID)
	}

	f.queue.Flush()
	eve := f.connect(t, "eve")
	if _, err := f.coord.JoinRandomGame(eve, protocol.JoinRandomGameParams{ExpectedMaxPlayers: 2}); !errors.Is(err, protocol.ErrNoRandomMatch) {
		t.Fatalf("expected NoRandomMatchFound, got %v", err)
	}
}

func TestDisconnectLeavesInactiveActor(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice, bob := f.connect(t, "alice"), f.connect(t, "bob")
	opts := protocol.RoomOptions{PlayerTTL: int64p(1000)}
	if _, err := f.coord.CreateGame(alice, protocol.CreateGameParams{GameID: "g1", Options: opts}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.JoinGame(bob, protocol.JoinGameParams{GameID: "g1"}); err != nil {
		t.Fatal(err)
	}
	drain(alice)

	f.coord.Disconnect(bob.ID())
	for range bob.Send {
	}
	leaves := named(drain(alice), protocol.EvLeave)
	if len(leaves) != 1 {
		t.Fatalf("leave events = %+v", leaves)
	}
	if data := leaves[0].Data.(protocol.LeaveData); !data.IsInactive || data.ActorNr != 2 {
		t.Fatalf("leave data = %+v", data)
	}

	back := f.connect(t, "bob")
	res, err := f.coord.JoinGame(back, protocol.JoinGameParams{GameID: "g1", JoinMode: int(room.JoinOrRejoin)})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !res.Rejoined || res.ActorNr != 2 {
		t.Fatalf("rejoin result = %+v", res)
	}
	if f.coord.ClientCount() != 2 {
		t.Fatalf("client count = %d", f.coord.ClientCount())
	}
}

func TestLeaveDestroysEmptyRoom(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice := f.connect(t, "alice")
	if _, err := f.coord.CreateGame(alice, protocol.CreateGameParams{GameID: "g1"}); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.Leave(alice, protocol.LeaveParams{}); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if f.coord.Rooms().Get("g1") != nil {
		t.Fatal("room should be destroyed after the last actor left")
	}
	if err := f.coord.Leave(alice, protocol.LeaveParams{}); !errors.Is(err, protocol.ErrNotAllowed) {
		t.Fatalf("second leave: got %v", err)
	}
	if _, err := f.coord.CreateGame(alice, protocol.CreateGameParams{GameID: "g1"}); err != nil {
		t.Fatalf("recreate after destroy: %v", err)
	}
}

func TestFailedLeaveKeepsSessionInRoom(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice := f.connect(t, "alice")
	opts := protocol.RoomOptions{PlayerTTL: int64p(60000)}
	if _, err := f.coord.CreateGame(alice, protocol.CreateGameParams{GameID: "g1", Options: opts}); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.Rooms().Get("g1").Leave(1, true); err != nil {
		t.Fatalf("deactivate actor: %v", err)
	}

	if err := f.coord.Leave(alice, protocol.LeaveParams{}); !errors.Is(err, protocol.ErrNotAllowed) {
		t.Fatalf("leave of inactive actor: got %v", err)
	}
	sessions := f.coord.Sessions()
	if len(sessions) != 1 || sessions[0].RoomID != "g1" || sessions[0].ActorNr != 1 {
		t.Fatalf("failed leave dropped the room binding: %+v", sessions)
	}
}

func TestLobbySubscriptionAndStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	watcher, host := f.connect(t, "watcher"), f.connect(t, "host")

	if err := f.coord.JoinLobby(watcher, protocol.JoinLobbyParams{WantStats: true}); err != nil {
		t.Fatalf("join lobby: %v", err)
	}
	if evs := drain(watcher); len(evs) != 1 || evs[0].Name != protocol.EvGameList {
		t.Fatalf("lobby join events = %+v", evs)
	}

	if _, err := f.coord.CreateGame(host, protocol.CreateGameParams{GameID: "g1"}); err != nil {
		t.Fatal(err)
	}
	f.queue.Flush()
	updates := named(drain(watcher), protocol.EvGameListUpdate)
	if len(updates) == 0 {
		t.Fatal("no GameListUpdate after create")
	}

	if n := f.coord.PushStats(); n != 1 {
		t.Fatalf("stats pushed to %d sessions, want 1", n)
	}
	stats := named(drain(watcher), protocol.EvLobbyStats)
	if len(stats) != 1 {
		t.Fatalf("stats events = %+v", stats)
	}
	data := stats[0].Data.(protocol.LobbyStatsData)
	if len(data.Names) != 1 || data.PeerCounts[0] != 2 || data.GameCounts[0] != 1 {
		t.Fatalf("stats data = %+v", data)
	}

	if _, err := f.coord.JoinGame(watcher, protocol.JoinGameParams{GameID: "g1"}); err != nil {
		t.Fatal(err)
	}
	if l, want := watcher.subscribed(); l != nil || want {
		t.Fatal("joining a game should leave the lobby")
	}
	if err := f.coord.LeaveLobby(watcher); !errors.Is(err, protocol.ErrNotAllowed) {
		t.Fatalf("leave lobby outside a lobby: got %v", err)
	}

	out, err := f.coord.GetLobbyStats(protocol.GetLobbyStatsParams{Names: []string{"", "x"}, Types: []int{0}})
	if !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Fatalf("mismatched stats request: %+v %v", out, err)
	}
}

func TestDispatchDecodesParams(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.connect(t, "alice")

	resp := f.coord.Dispatch(s, protocol.Message{
		Type:   protocol.TypeOp,
		Op:     protocol.OpCreateGame,
		ID:     1,
		Params: json.RawMessage(`{"game_id":"g1","options":{"max_players":4,"properties":{"score":3,"ratio":0.5}}}`),
	})
	if resp.Code != protocol.Ok || resp.ID != 1 || resp.Op != protocol.OpCreateGame {
		t.Fatalf("create response = %+v", resp)
	}

	resp = f.coord.Dispatch(s, protocol.Message{
		Type:   protocol.TypeOp,
		Op:     protocol.OpGetProperties,
		ID:     2,
		Params: json.RawMessage(`{"flags":1}`),
	})
	if resp.Code != protocol.Ok {
		t.Fatalf("get properties response = %+v", resp)
	}
	game := resp.Data.(protocol.PropertiesResult).Game
	if game["score"] != int64(3) || game["ratio"] != 0.5 {
		t.Fatalf("game properties = %#v", game)
	}

	resp = f.coord.Dispatch(s, protocol.Message{Type: protocol.TypeOp, Op: "Nope", ID: 3})
	if resp.Code != protocol.InvalidOperation {
		t.Fatalf("unknown op response = %+v", resp)
	}
	resp = f.coord.Dispatch(s, protocol.Message{Type: protocol.TypeOp, Op: protocol.OpSetProperties, ID: 4, Params: json.RawMessage(`{"properties":`)})
	if resp.Code != protocol.InvalidRequestParameters {
		t.Fatalf("bad params response = %+v", resp)
	}
	resp = f.coord.Dispatch(s, protocol.Message{Type: protocol.TypeOp, Op: protocol.OpJoinGame, ID: 5, Params: json.RawMessage(`{"game_id":"g1","join_mode":9}`)})
	if resp.Code != protocol.InvalidOperation {
		t.Fatalf("bad join mode response = %+v", resp)
	}
}
