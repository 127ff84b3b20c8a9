package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stevegt/chatbook/client"
)

// SQLiteStore keeps sessions in a sqlite file: one row per session
// and one row per turn.
type SQLiteStore struct {
	DB *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_session_id ON history(session_id, id);
`

// OpenSQLite opens (or creates) a sqlite store at path, ensuring that
// the parent directory exists.  ":memory:" gives a throwaway store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store needs a path")
	}
	dsn := ":memory:"
	if path != dsn {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	// each :memory: connection is its own database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema at %s: %w", path, err)
	}
	return &SQLiteStore{DB: db}, nil
}

func (s *SQLiteStore) Load(id string) (*Record, error) {
	rec, err := s.session(id)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(
		"SELECT role, text FROM history WHERE session_id = ? ORDER BY id",
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var msg client.ChatMsg
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, err
		}
		rec.Turns = append(rec.Turns, msg)
	}
	return rec, rows.Err()
}

func (s *SQLiteStore) session(id string) (*Record, error) {
	var created, updated int64
	err := s.DB.QueryRow(
		"SELECT created_at, updated_at FROM sessions WHERE id = ?", id,
	).Scan(&created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:      id,
		Created: time.Unix(0, created).UTC(),
		Updated: time.Unix(0, updated).UTC(),
	}, nil
}

func (s *SQLiteStore) Append(id string, turns ...client.ChatMsg) (err error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	t := now().UnixNano()
	_, err = tx.Exec(
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		id, t, t,
	)
	if err != nil {
		return err
	}
	for _, turn := range turns {
		_, err = tx.Exec(
			"INSERT INTO history (session_id, role, text) VALUES (?, ?, ?)",
			id, turn.Role, turn.Content,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Clear(id string) error {
	res, err := s.DB.Exec("UPDATE sessions SET updated_at = ? WHERE id = ?", now().UnixNano(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = s.DB.Exec("DELETE FROM history WHERE session_id = ?", id)
	return err
}

func (s *SQLiteStore) Delete(id string) error {
	if _, err := s.DB.Exec("DELETE FROM history WHERE session_id = ?", id); err != nil {
		return err
	}
	_, err := s.DB.Exec("DELETE FROM sessions WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) List() (recs []*Record, err error) {
	rows, err := s.DB.Query("SELECT id FROM sessions")
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	for _, id := range ids {
		rec, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sortRecords(recs)
	return
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}
