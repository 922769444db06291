package store

import (
	"context"
	"path/filepath"
	"testing"

	"roomd/internal/protocol"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func TestOpenFileDatabase(t *testing.T) {
	t.Parallel()

	st, err := Open(filepath.Join(t.TempDir(), "nested", "lobby.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestMatchGamesKeepsInsertionOrder(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ctx := context.Background()
	lobby := protocol.Lobby{Name: "sql", Type: protocol.LobbySQL}

	for i, id := range []string{"b", "a", "c"} {
		row := GameRow{Lobby: lobby, GameID: id, IsOpen: true, MaxPlayers: 4, PlayerCount: 1}
		row.Values[0] = int64(i * 5)
		if err := st.UpsertGame(ctx, row); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	// Updating keeps the position.
	row := GameRow{Lobby: lobby, GameID: "b", IsOpen: true, MaxPlayers: 4, PlayerCount: 2}
	row.Values[0] = int64(7)
	if err := st.UpsertGame(ctx, row); err != nil {
		t.Fatalf("update b: %v", err)
	}

	ids, err := st.MatchGames(ctx, lobby, "", nil, 0)
	if err != nil {
		t.Fatalf("match all: %v", err)
	}
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "a" || ids[2] != "c" {
		t.Fatalf("ids = %v, want [b a c]", ids)
	}

	ids, err = st.MatchGames(ctx, lobby, "c0 >= ?", []any{int64(6)}, 0)
	if err != nil {
		t.Fatalf("match filter: %v", err)
	}
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Fatalf("filtered ids = %v, want [b c]", ids)
	}

	ids, err = st.MatchGames(ctx, lobby, "", nil, 1)
	if err != nil || len(ids) != 1 {
		t.Fatalf("limit: %v %v", ids, err)
	}
}

func TestLobbiesAreSeparate(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ctx := context.Background()
	a := protocol.Lobby{Name: "a", Type: protocol.LobbySQL}
	b := protocol.Lobby{Name: "b", Type: protocol.LobbySQL}

	if err := st.UpsertGame(ctx, GameRow{Lobby: a, GameID: "g"}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertGame(ctx, GameRow{Lobby: b, GameID: "g"}); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteGame(ctx, a, "g"); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteGame(ctx, a, "missing"); err != nil {
		t.Fatalf("deleting a missing game: %v", err)
	}
	if n, _ := st.CountGames(ctx, a); n != 0 {
		t.Fatalf("lobby a count = %d", n)
	}
	if n, _ := st.CountGames(ctx, b); n != 1 {
		t.Fatalf("lobby b count = %d", n)
	}
}

func TestStringColumns(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ctx := context.Background()
	lobby := protocol.Lobby{Name: "sql", Type: protocol.LobbySQL}

	row := GameRow{Lobby: lobby, GameID: "eu"}
	row.Values[1] = "eu-west"
	if err := st.UpsertGame(ctx, row); err != nil {
		t.Fatal(err)
	}
	ids, err := st.MatchGames(ctx, lobby, "c1 LIKE ? AND c2 IS NULL", []any{"eu-%"}, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(ids) != 1 || ids[0] != "eu" {
		t.Fatalf("ids = %v", ids)
	}
}
