// Package store mirrors the listed rooms of SQL lobbies into SQLite so lobby
// filters can be evaluated as WHERE clauses.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"roomd/internal/protocol"
)

// Columns is the number of filterable property columns, c0 through c9.
const Columns = 10

// GameRow is the filterable state of one listed room.
type GameRow struct {
	Lobby       protocol.Lobby
	GameID      string
	IsOpen      bool
	MaxPlayers  int
	PlayerCount int
	// Values holds the listed properties C0..C9; nil for missing keys.
	Values [Columns]any
}

// Store keeps the games table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations. The
// special path ":memory:" keeps everything in process memory.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	cols := make([]string, Columns)
	for i := range cols {
		cols[i] = fmt.Sprintf("\tc%d,", i)
	}
	schema := `
DROP TABLE IF EXISTS games;
CREATE TABLE games (
	lobby_name TEXT NOT NULL,
	lobby_type INTEGER NOT NULL,
	game_id TEXT NOT NULL,
	is_open INTEGER NOT NULL,
	max_players INTEGER NOT NULL CHECK(max_players >= 0),
	player_count INTEGER NOT NULL CHECK(player_count >= 0),
` + strings.Join(cols, "\n") + `
	PRIMARY KEY (lobby_name, lobby_type, game_id)
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// UpsertGame inserts or updates one listed room. A room keeps its original
// insertion position across updates.
func (s *Store) UpsertGame(ctx context.Context, row GameRow) error {
	if strings.TrimSpace(row.GameID) == "" {
		return fmt.Errorf("game id is required")
	}

	names := make([]string, Columns)
	marks := make([]string, Columns)
	sets := make([]string, Columns)
	args := []any{row.Lobby.Name, row.Lobby.Type, row.GameID, row.IsOpen, row.MaxPlayers, row.PlayerCount}
	for i := 0; i < Columns; i++ {
		names[i] = fmt.Sprintf("c%d", i)
		marks[i] = "?"
		sets[i] = fmt.Sprintf("c%d = excluded.c%d", i, i)
		args = append(args, row.Values[i])
	}
	q := `INSERT INTO games (lobby_name, lobby_type, game_id, is_open, max_players, player_count, ` + strings.Join(names, ", ") + `)
VALUES (?, ?, ?, ?, ?, ?, ` + strings.Join(marks, ", ") + `)
ON CONFLICT (lobby_name, lobby_type, game_id) DO UPDATE SET
	is_open = excluded.is_open,
	max_players = excluded.max_players,
	player_count = excluded.player_count,
	` + strings.Join(sets, ",\n\t")

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("upsert game: %w", err)
	}
	return nil
}

// DeleteGame removes a room from the listing. Deleting a missing room is a
// no-op.
func (s *Store) DeleteGame(ctx context.Context, lobby protocol.Lobby, gameID string) error {
	const q = `DELETE FROM games WHERE lobby_name = ? AND lobby_type = ? AND game_id = ?`
	if _, err := s.db.ExecContext(ctx, q, lobby.Name, lobby.Type, gameID); err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	return nil
}

// MatchGames returns the ids of the lobby's rooms satisfying where, in
// insertion order. An empty where matches every room; limit <= 0 is
// unlimited. where must come from a validated filter.
func (s *Store) MatchGames(ctx context.Context, lobby protocol.Lobby, where string, args []any, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	q := `SELECT game_id FROM games WHERE lobby_name = ? AND lobby_type = ?`
	if strings.TrimSpace(where) != "" {
		q += ` AND (` + where + `)`
	}
	q += ` ORDER BY rowid LIMIT ?`

	all := make([]any, 0, len(args)+3)
	all = append(all, lobby.Name, lobby.Type)
	all = append(all, args...)
	all = append(all, limit)

	rows, err := s.db.QueryContext(ctx, q, all...)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountGames returns the number of rooms listed in a lobby.
func (s *Store) CountGames(ctx context.Context, lobby protocol.Lobby) (int, error) {
	const q = `SELECT COUNT(*) FROM games WHERE lobby_name = ? AND lobby_type = ?`
	var n int
	if err := s.db.QueryRowContext(ctx, q, lobby.Name, lobby.Type).Scan(&n); err != nil {
		return 0, fmt.Errorf("count games: %w", err)
	}
	return n, nil
}
