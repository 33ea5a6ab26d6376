package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; one pooled connection avoids busy
	// errors under concurrent transactions and keeps :memory: databases
	// from splitting per connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'teacher',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tenants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		credentials TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quizzes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id INTEGER NOT NULL,
		image_path TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (tenant_id) REFERENCES tenants(id)
	);

	CREATE TABLE IF NOT EXISTS exam_configs (
		tenant_id INTEGER PRIMARY KEY,
		active BOOLEAN NOT NULL DEFAULT 1,
		question_count INTEGER NOT NULL,
		total_points INTEGER NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (tenant_id) REFERENCES tenants(id)
	);

	CREATE TABLE IF NOT EXISTS progress (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id INTEGER NOT NULL,
		subject_id INTEGER NOT NULL,
		subject_name TEXT NOT NULL DEFAULT '',
		answered_count INTEGER NOT NULL DEFAULT 0,
		total_score INTEGER NOT NULL DEFAULT 0,
		last_question_reached BOOLEAN NOT NULL DEFAULT 0,
		last_result_path TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL,
		UNIQUE (tenant_id, subject_id),
		FOREIGN KEY (tenant_id) REFERENCES tenants(id)
	);

	CREATE TABLE IF NOT EXISTS progress_scores (
		progress_id INTEGER NOT NULL,
		question_idx INTEGER NOT NULL,
		score INTEGER NOT NULL,
		PRIMARY KEY (progress_id, question_idx),
		FOREIGN KEY (progress_id) REFERENCES progress(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS grading_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id INTEGER NOT NULL,
		subject_id INTEGER NOT NULL,
		subject_name TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL,
		max_score INTEGER NOT NULL,
		graded_at DATETIME NOT NULL,
		FOREIGN KEY (tenant_id) REFERENCES tenants(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
