package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// PlayerRow represents a player record in the database
type PlayerRow struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// MatchPlayerRow represents a player's participation in a match
type MatchPlayerRow struct {
	MatchID      int64  `json:"match_id"`
	UserID       string `json:"user_id"`
	Side         int    `json:"side"`
	Won          bool   `json:"won"`
	TowersLeft   int    `json:"towers_left"`
	Reason       string `json:"reason"`
	DurationSecs int    `json:"duration_secs"`
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_guest INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS player_cards (
		user_id TEXT NOT NULL REFERENCES players(id),
		slot INTEGER NOT NULL,
		card_id TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (user_id, slot)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		data BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		winner_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		ticks INTEGER NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS match_players (
		match_id INTEGER NOT NULL REFERENCES matches(id),
		user_id TEXT NOT NULL,
		side INTEGER NOT NULL DEFAULT 0,
		towers_left INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (match_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		user_id TEXT,
		session_id TEXT,
		data TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_match_players_user ON match_players(user_id);
	CREATE INDEX IF NOT EXISTS idx_analytics_type_time ON analytics_events(event_type, created_at);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// --- Session snapshots ---

// Create stores the first snapshot of a session at version 0
func (db *DB) Create(ctx context.Context, sessionID string, snapshot []byte) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO sessions (id, version, data) VALUES (?, 0, ?)",
		sessionID, snapshot,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return nil
}

// Load returns the stored snapshot of a session and its version
func (db *DB) Load(ctx context.Context, sessionID string) ([]byte, int64, error) {
	var (
		data    []byte
		version int64
	)
	err := db.conn.QueryRowContext(ctx,
		"SELECT data, version FROM sessions WHERE id = ?", sessionID,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return data, version, nil
}

// Save replaces the snapshot only if it is still at expectedVersion
func (db *DB) Save(ctx context.Context, sessionID string, snapshot []byte, expectedVersion int64) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET data = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND version = ?`,
		snapshot, sessionID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE id = ?", sessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	if exists == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return fmt.Errorf("session %s moved past version %d: %w", sessionID, expectedVersion, ErrVersionConflict)
}

// Delete drops a session snapshot
func (db *DB) Delete(ctx context.Context, sessionID string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID)
	return err
}

// SessionIDs lists the sessions that still have a stored snapshot
func (db *DB) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id FROM sessions ORDER BY updated_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Players and decks ---

// CreateGuest creates a guest player
func (db *DB) CreateGuest(id, name string) error {
	_, err := db.conn.Exec("INSERT INTO players (id, name, is_guest) VALUES (?, ?, 1)", id, name)
	return err
}

// GetPlayerByID returns a player by ID, or nil if unknown
func (db *DB) GetPlayerByID(id string) (*PlayerRow, error) {
	row := db.conn.QueryRow("SELECT id, name, created_at FROM players WHERE id = ?", id)
	p := &PlayerRow{}
	err := row.Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// GetPlayerDeck returns the saved deck of a player in slot order. An empty
// result means the player never saved one.
func (db *DB) GetPlayerDeck(ctx context.Context, userID string) ([]PlayerCard, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT card_id, level FROM player_cards WHERE user_id = ? ORDER BY slot", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deck []PlayerCard
	for rows.Next() {
		pc := PlayerCard{OwnerID: userID}
		if err := rows.Scan(&pc.CardID, &pc.Level); err != nil {
			return nil, err
		}
		deck = append(deck, pc)
	}
	return deck, rows.Err()
}

// SetPlayerDeck replaces the saved deck of a player
func (db *DB) SetPlayerDeck(ctx context.Context, userID string, deck []PlayerCard) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM player_cards WHERE user_id = ?", userID); err != nil {
		return err
	}
	for i, pc := range deck {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO player_cards (user_id, slot, card_id, level) VALUES (?, ?, ?, ?)",
			userID, i, pc.CardID, pc.Level,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- Match history ---

// RecordMatch stores the result of a finished session and both players'
// standing. A session is only recorded once.
func (db *DB) RecordMatch(ctx context.Context, g *Game, duration time.Duration) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO matches (session_id, winner_id, reason, ticks, duration) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		g.ID, g.WinnerID, g.EndReason, g.Tick, duration.Seconds(),
	)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, nil
	}
	matchID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, p := range g.Players {
		left := 0
		for _, t := range g.Arena.Towers[p.UserID] {
			if t.Alive() {
				left++
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO match_players (match_id, user_id, side, towers_left) VALUES (?, ?, ?, ?)",
			matchID, p.UserID, p.Side, left,
		); err != nil {
			return 0, err
		}
	}
	return matchID, tx.Commit()
}

// GetMatchHistory returns recent matches for a player
func (db *DB) GetMatchHistory(userID string, limit int) ([]MatchPlayerRow, error) {
	rows, err := db.conn.Query(`
		SELECT mp.match_id, mp.user_id, mp.side, m.winner_id = mp.user_id, mp.towers_left, m.reason, CAST(m.duration AS INTEGER)
		FROM match_players mp
		JOIN matches m ON m.id = mp.match_id
		WHERE mp.user_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []MatchPlayerRow
	for rows.Next() {
		var r MatchPlayerRow
		if err := rows.Scan(&r.MatchID, &r.UserID, &r.Side, &r.Won, &r.TowersLeft, &r.Reason, &r.DurationSecs); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- Settings ---

// GetSetting returns a stored setting, or "" when unset
func (db *DB) GetSetting(key string) string {
	var value string
	if err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value); err != nil {
		return ""
	}
	return value
}

// SetSetting stores a setting
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}
