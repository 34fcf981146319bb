// Package sqlite persists unread counts in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/internal/core"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS unread_counts (
  user_id TEXT NOT NULL,
  room_id TEXT NOT NULL,
  count INTEGER NOT NULL,
  PRIMARY KEY (user_id, room_id)
);
`

// Store keeps one row per user and room with a positive count.
type Store struct {
	db *sql.DB
}

var _ core.UnreadStore = (*Store)(nil)

// Open opens or creates the database at path and initializes the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open unread database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init unread schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadUnread(ctx context.Context, userID string) (map[chat.RoomID]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT room_id, count FROM unread_counts WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query unread counts for %q: %w", userID, err)
	}
	defer rows.Close()

	counts := make(map[chat.RoomID]int)
	for rows.Next() {
		var room string
		var n int
		if err := rows.Scan(&room, &n); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		counts[chat.RoomID(room)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read unread counts for %q: %w", userID, err)
	}
	return counts, nil
}

// SaveUnread replaces every stored count of userID with counts.
func (s *Store) SaveUnread(ctx context.Context, userID string, counts map[chat.RoomID]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := saveUnreadWith(ctx, tx, userID, counts); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save unread counts for %q: %w", userID, err)
	}
	return tx.Commit()
}

func saveUnreadWith(ctx context.Context, tx *sql.Tx, userID string, counts map[chat.RoomID]int) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM unread_counts WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for room, n := range counts {
		if n <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO unread_counts (user_id, room_id, count) VALUES (?, ?, ?)`,
			userID, string(room), n,
		); err != nil {
			return err
		}
	}
	return nil
}
