package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roomd/internal/clock"
	"roomd/internal/core"
	"roomd/internal/eventcache"
	"roomd/internal/lobby"
	"roomd/internal/props"
	"roomd/internal/protocol"
	"roomd/internal/relay"
	"roomd/internal/room"
	"roomd/internal/sqlfilter"
	"roomd/internal/store"
)

func newCoordinator(t *testing.T) (*core.Coordinator, *relay.Queue) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	reg, err := lobby.NewRegistry(lobby.Config{
		DefaultLobbies: []protocol.Lobby{{Name: "ranked", Type: protocol.LobbySQL}},
	}, sqlfilter.NewCompiler(4, nil), st)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	q := relay.NewQueue(reg)
	rooms := room.NewManager(room.Config{
		PropertyLimits: props.Limits{MaxBytes: 4096, MaxKeys: 64},
		TTLLimits:      props.TTLLimits{MaxPlayerTTL: time.Hour, MaxEmptyRoomTTL: time.Hour},
		CacheLimits:    eventcache.Limits{},
		Clock:          clock.NewFake(time.Unix(0, 0)),
		Publisher:      q,
	})
	return core.New(rooms, reg, core.Config{}), q
}

func getJSON(t *testing.T, url string, wantStatus int, dst any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("expected %d from %s, got %d", wantStatus, url, resp.StatusCode)
	}
	if dst == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestHealthAndState(t *testing.T) {
	coord, q := newCoordinator(t)
	session, err := coord.Connect("alice")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := coord.CreateGame(session, protocol.CreateGameParams{GameID: "g1"}); err != nil {
		t.Fatalf("create game: %v", err)
	}
	q.Flush()

	api := New(coord, "test")
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	var health healthResponse
	getJSON(t, ts.URL+"/health", http.StatusOK, &health)
	if health.Status != "ok" || health.Clients != 1 || health.Rooms != 1 || health.Name != "test" {
		t.Fatalf("unexpected health payload: %#v", health)
	}

	var state stateResponse
	getJSON(t, ts.URL+"/api/state", http.StatusOK, &state)
	if state.Clients != 1 || len(state.Sessions) != 1 || len(state.Rooms) != 1 {
		t.Fatalf("unexpected state payload: %#v", state)
	}
	if state.Sessions[0].UserID != "alice" || state.Sessions[0].RoomID != "g1" || state.Sessions[0].ActorNr != 1 {
		t.Fatalf("unexpected session: %#v", state.Sessions[0])
	}
	if state.Rooms[0].ID != "g1" || state.Rooms[0].Active != 1 {
		t.Fatalf("unexpected room: %#v", state.Rooms[0])
	}
}

func TestLobbies(t *testing.T) {
	coord, q := newCoordinator(t)
	session, err := coord.Connect("alice")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := coord.CreateGame(session, protocol.CreateGameParams{GameID: "g1"}); err != nil {
		t.Fatalf("create game: %v", err)
	}
	q.Flush()

	ts := httptest.NewServer(New(coord, "").Echo())
	defer ts.Close()

	var all lobbiesResponse
	getJSON(t, ts.URL+"/api/lobbies", http.StatusOK, &all)
	if len(all.Lobbies) != 2 {
		t.Fatalf("lobbies = %#v", all.Lobbies)
	}
	if all.Lobbies[0].Name != "" || all.Lobbies[0].GameCount != 1 || all.Lobbies[0].PeerCount != 1 {
		t.Fatalf("default lobby = %#v", all.Lobbies[0])
	}

	var one lobbiesResponse
	getJSON(t, ts.URL+"/api/lobbies?name=ranked&type=2", http.StatusOK, &one)
	if len(one.Lobbies) != 1 || one.Lobbies[0].Type != protocol.LobbySQL {
		t.Fatalf("ranked lobby = %#v", one.Lobbies)
	}

	getJSON(t, ts.URL+"/api/lobbies?name=a,b&type=0", http.StatusBadRequest, nil)
	getJSON(t, ts.URL+"/api/lobbies?name=a&type=x", http.StatusBadRequest, nil)
}
