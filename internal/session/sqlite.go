package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite stores one identity row per profile, so two profiles on the same
// machine never see each other's identity.
type SQLite struct {
	db      *sql.DB
	profile string
}

func OpenSQLite(path, profile string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("session db path is empty")
	}
	if profile == "" {
		profile = "default"
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure session dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		profile     TEXT PRIMARY KEY,
		player_id   TEXT NOT NULL,
		player_name TEXT NOT NULL,
		room_code   TEXT NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}

	return &SQLite{db: db, profile: profile}, nil
}

func (s *SQLite) Load(ctx context.Context) (Identity, bool, error) {
	var id Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT player_id, player_name, room_code FROM sessions WHERE profile = ?`, s.profile,
	).Scan(&id.PlayerID, &id.PlayerName, &id.RoomCode)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, fmt.Errorf("load session: %w", err)
	}
	return id, true, nil
}

// Save writes all three fields in one statement.
func (s *SQLite) Save(ctx context.Context, id Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (profile, player_id, player_name, room_code, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			player_id = excluded.player_id,
			player_name = excluded.player_name,
			room_code = excluded.room_code,
			updated_at = excluded.updated_at`,
		s.profile, id.PlayerID, id.PlayerName, id.RoomCode, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE profile = ?`, s.profile); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
