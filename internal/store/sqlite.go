package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a Store backed by a single sqlite documents table. Paths map to
// rows; batches map to transactions.
type SQLite struct {
	db  *sql.DB
	hub *watchHub
}

// OpenSQLite opens (and initializes) a sqlite-backed store at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		doc  TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing sqlite store: %w", err)
	}

	return &SQLite{db: db, hub: newWatchHub()}, nil
}

func (s *SQLite) Get(ctx context.Context, path string, into any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM documents WHERE path = ?`, path).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), into)
}

func (s *SQLite) Put(ctx context.Context, path string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (path, doc) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET doc = excluded.doc`, path, string(raw))
	if err != nil {
		return err
	}
	s.hub.notify([]Event{{Path: path, Value: raw}})
	return nil
}

func (s *SQLite) Push(ctx context.Context, path string, doc any) (string, error) {
	id := uuid.NewString()
	if err := s.Put(ctx, path+"/"+id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLite) Delete(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.hub.notify([]Event{{Path: path, Deleted: true}})
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	// Direct children only: one more segment, no deeper nesting.
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, doc FROM documents WHERE path LIKE ? || '/%' AND path NOT LIKE ? || '/%/%'`,
		path, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var p, raw string
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, err
		}
		out[p[len(path)+1:]] = json.RawMessage(raw)
	}
	return out, rows.Err()
}

func (s *SQLite) Apply(ctx context.Context, ops []Op) error {
	staged, err := marshalOps(ops)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	events := make([]Event, 0, len(staged))
	for path, raw := range staged {
		if raw == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
				return err
			}
			events = append(events, Event{Path: path, Deleted: true})
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (path, doc) VALUES (?, ?)
			 ON CONFLICT(path) DO UPDATE SET doc = excluded.doc`, path, string(raw)); err != nil {
			return err
		}
		events = append(events, Event{Path: path, Value: raw})
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.hub.notify(events)
	return nil
}

func (s *SQLite) Watch(ctx context.Context, prefix string) <-chan Event {
	return s.hub.subscribe(ctx, prefix)
}

// Ping checks the underlying database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
