package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Store is the sqlite-backed persistence for conversations, task nodes and
// scheduled goals.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection avoids "database is locked"
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			meta TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, id);`,
		`CREATE TABLE IF NOT EXISTS task_nodes (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			parent_id TEXT,
			type TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			result TEXT,
			error TEXT,
			metadata TEXT,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_nodes_chat ON task_nodes (chat_id, updated_at);`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			goal TEXT NOT NULL,
			interval_seconds INTEGER NOT NULL,
			last_run INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active'
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate %s: %w", dbPath, err)
		}
	}

	return &Store{DB: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}
