package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"loadpilot/internal/types"
)

// SQLiteStore implements Persistence on a single SQLite file. Load records
// are stored as JSON documents keyed by id; offers and messages live in
// append-only tables so history is never rewritten.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS loads (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS offers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		load_id TEXT NOT NULL,
		amount REAL NOT NULL,
		offerer TEXT NOT NULL,
		offered_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offers_load ON offers(load_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		load_id TEXT,
		role TEXT NOT NULL,
		subject TEXT,
		body TEXT NOT NULL,
		sent_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, sent_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLoad(ctx context.Context, id string) (*types.LoadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLoad(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) getLoad(ctx context.Context, q querier, id string) (*types.LoadRecord, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT doc FROM loads WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrLoadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read load %s: %w", id, err)
	}

	var load types.LoadRecord
	if err := json.Unmarshal([]byte(doc), &load); err != nil {
		return nil, fmt.Errorf("corrupt load document %s: %w", id, err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT amount, offerer, offered_at FROM offers WHERE load_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read offers for %s: %w", id, err)
	}
	defer rows.Close()

	load.Offers = nil
	for rows.Next() {
		var offer types.BidOffer
		var offerer string
		if err := rows.Scan(&offer.Amount, &offerer, &offer.OfferedAt); err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offer.Offerer = types.Offerer(offerer)
		load.Offers = append(load.Offers, offer)
	}
	return &load, rows.Err()
}

func (s *SQLiteStore) PutLoad(ctx context.Context, load *types.LoadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := json.Marshal(load)
	if err != nil {
		return fmt.Errorf("failed to encode load: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loads (id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		load.ID, string(doc), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write load %s: %w", load.ID, err)
	}
	return nil
}

// ApplyFieldUpdates is all-or-nothing: the set is validated against the
// stored record inside a transaction, and one invalid update leaves the
// record untouched.
func (s *SQLiteStore) ApplyFieldUpdates(ctx context.Context, id string, updates *types.UpdateSet) (*types.LoadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	load, err := s.getLoad(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := updates.Apply(load); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(load)
	if err != nil {
		return nil, fmt.Errorf("failed to encode load: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE loads SET doc = ?, updated_at = ? WHERE id = ?`,
		string(doc), time.Now().UTC(), id); err != nil {
		return nil, fmt.Errorf("failed to write load %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return load, nil
}

func (s *SQLiteStore) AppendOffer(ctx context.Context, loadID string, offer types.BidOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	when := offer.OfferedAt
	if when.IsZero() {
		when = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO offers (load_id, amount, offerer, offered_at) VALUES (?, ?, ?, ?)`,
		loadID, offer.Amount, string(offer.Offerer), when)
	if err != nil {
		return fmt.Errorf("failed to append offer: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Conversation(ctx context.Context, threadID string) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, COALESCE(load_id, ''), role, COALESCE(subject, ''), body, sent_at
		FROM messages WHERE thread_id = ? ORDER BY sent_at, id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation %s: %w", threadID, err)
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var m types.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.LoadID, &role, &m.Subject, &m.Body, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = types.MessageRole(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, load_id, role, subject, body, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.LoadID, string(msg.Role), msg.Subject, msg.Body, msg.SentAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
