package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateProtocol is returned when an attendance protocol is already taken.
	ErrDuplicateProtocol = errors.New("storage: duplicate attendance protocol")
	// ErrOpenAttendanceExists is returned when (instance, phone) already has an open attendance.
	ErrOpenAttendanceExists = errors.New("storage: open attendance already exists")
)

type Store struct {
	DB *sql.DB
}

// Open opens/initializes SQLite database with WAL and foreign keys, then migrates schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// WAL is unavailable for in-memory databases; ignore.
	_, _ = db.Exec(`PRAGMA journal_mode=WAL;`)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close closes underlying DB.
func (s *Store) Close() error { return s.DB.Close() }

func migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			device_token TEXT,
			provider TEXT NOT NULL DEFAULT 'whatsapp',
			status TEXT NOT NULL DEFAULT 'disconnected',
			phase TEXT NOT NULL DEFAULT 'manual',
			current_day INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS warming_schedules (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			day_number INTEGER NOT NULL,
			max_conversations INTEGER NOT NULL,
			min_interval_minutes INTEGER NOT NULL,
			conversations_done INTEGER NOT NULL DEFAULT 0,
			messages_done INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(instance_id, day_number),
			FOREIGN KEY(instance_id) REFERENCES instances(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS warming_contacts (
			id TEXT PRIMARY KEY,
			phone TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_bot INTEGER NOT NULL DEFAULT 0,
			category TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			messages_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(instance_id) REFERENCES instances(id) ON DELETE CASCADE,
			FOREIGN KEY(contact_id) REFERENCES warming_contacts(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			content TEXT NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0,
			read_by_contact INTEGER NOT NULL DEFAULT 0,
			sent_at TIMESTAMP NOT NULL,
			FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			instance_id TEXT,
			system_prompt TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			temperature REAL NOT NULL DEFAULT 0.7,
			max_tokens INTEGER NOT NULL DEFAULT 500,
			active INTEGER NOT NULL DEFAULT 1,
			reply_delay INTEGER NOT NULL DEFAULT 0,
			context_messages INTEGER NOT NULL DEFAULT 5,
			reply_groups INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(instance_id) REFERENCES instances(id) ON DELETE SET NULL
		);`,
		`CREATE TABLE IF NOT EXISTS attendances (
			id TEXT PRIMARY KEY,
			protocol TEXT NOT NULL UNIQUE,
			instance_id TEXT NOT NULL,
			bot_id TEXT,
			phone TEXT NOT NULL,
			contact_name TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			context TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'waiting',
			attendant_name TEXT,
			closed_at TIMESTAMP,
			closed_by TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY(instance_id) REFERENCES instances(id) ON DELETE CASCADE,
			FOREIGN KEY(bot_id) REFERENCES bots(id) ON DELETE SET NULL
		);`,
		`CREATE TABLE IF NOT EXISTS attendance_messages (
			id TEXT PRIMARY KEY,
			attendance_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			content TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			sent_at TIMESTAMP NOT NULL,
			FOREIGN KEY(attendance_id) REFERENCES attendances(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS daily_metrics (
			instance_id TEXT NOT NULL,
			date TEXT NOT NULL,
			messages_sent INTEGER NOT NULL DEFAULT 0,
			messages_received INTEGER NOT NULL DEFAULT 0,
			responses_count INTEGER NOT NULL DEFAULT 0,
			blocks_count INTEGER NOT NULL DEFAULT 0,
			reports_count INTEGER NOT NULL DEFAULT 0,
			ignored_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (instance_id, date),
			FOREIGN KEY(instance_id) REFERENCES instances(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS attendants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sector TEXT NOT NULL,
			email TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_instances_device_token ON instances(device_token);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_instance_status ON conversations(instance_id, status, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at);`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_messages_attendance ON attendance_messages(attendance_id, sent_at);`,
		// At most one open attendance per (instance, phone).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_attendances_open ON attendances(instance_id, phone)
			WHERE status IN ('waiting','in_progress');`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func now() time.Time { return time.Now().UTC() }

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func isUniqueViolation(err error, target string) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return target == "" || strings.Contains(se.Error(), target)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
