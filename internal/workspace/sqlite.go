package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite for persistence.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate creates the necessary tables if they don't exist. Times are unix
// milliseconds.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS todos (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS data_log (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_todos_done ON todos(done);
	CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at);
	CREATE INDEX IF NOT EXISTS idx_data_log_created_at ON data_log(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AddNote saves a note.
func (s *SQLiteStore) AddNote(ctx context.Context, content string) (*Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := &Note{ID: uuid.NewString(), Content: content, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, content, created_at) VALUES (?, ?, ?)`,
		n.ID, n.Content, n.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	return n, nil
}

// AddTodo appends an open item.
func (s *SQLiteStore) AddTodo(ctx context.Context, content string) (*Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Todo{ID: uuid.NewString(), Content: content, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (id, content, done, created_at) VALUES (?, ?, 0, ?)`,
		t.ID, t.Content, t.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert todo: %w", err)
	}
	return t, nil
}

// CompleteTodo prefers an exact case-insensitive match, then the oldest open
// item containing the text, then the oldest open item the text contains.
func (s *SQLiteStore) CompleteTodo(ctx context.Context, content string) (*Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open, err := s.listTodos(ctx, false)
	if err != nil {
		return nil, err
	}

	target := strings.ToLower(strings.TrimSpace(content))
	match := -1
	for i := range open {
		if strings.ToLower(open[i].Content) == target {
			match = i
			break
		}
	}
	if match < 0 && target != "" {
		for i := range open {
			c := strings.ToLower(open[i].Content)
			if strings.Contains(c, target) || strings.Contains(target, c) {
				match = i
				break
			}
		}
	}
	if match < 0 {
		return nil, ErrNotFound
	}

	t := open[match]
	now := s.now()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE todos SET done = 1, completed_at = ? WHERE id = ?`,
		now.UnixMilli(), t.ID); err != nil {
		return nil, fmt.Errorf("complete todo: %w", err)
	}
	t.Done = true
	t.CompletedAt = &now
	return &t, nil
}

// ClearTodos deletes every item, open or done.
func (s *SQLiteStore) ClearTodos(ctx context.Context) (int, error) {
	return s.deleteAll(ctx, "todos")
}

// ClearNotes deletes every note.
func (s *SQLiteStore) ClearNotes(ctx context.Context) (int, error) {
	return s.deleteAll(ctx, "notes")
}

func (s *SQLiteStore) deleteAll(ctx context.Context, table string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// LogData records a data point.
func (s *SQLiteStore) LogData(ctx context.Context, content string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &Entry{ID: uuid.NewString(), Content: content, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO data_log (id, content, created_at) VALUES (?, ?, ?)`,
		e.ID, e.Content, e.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

// ListTodos returns items oldest first.
func (s *SQLiteStore) ListTodos(ctx context.Context, includeDone bool) ([]Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTodos(ctx, includeDone)
}

func (s *SQLiteStore) listTodos(ctx context.Context, includeDone bool) ([]Todo, error) {
	q := `SELECT id, content, done, created_at, completed_at FROM todos`
	if !includeDone {
		q += ` WHERE done = 0`
	}
	q += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	var out []Todo
	for rows.Next() {
		var (
			t         Todo
			done      int
			created   int64
			completed sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.Content, &done, &created, &completed); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		t.Done = done != 0
		t.CreatedAt = time.UnixMilli(created)
		if completed.Valid {
			c := time.UnixMilli(completed.Int64)
			t.CompletedAt = &c
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListNotes returns the most recent notes, newest last. limit <= 0 means all.
func (s *SQLiteStore) ListNotes(ctx context.Context, limit int) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.recent(ctx, "notes", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		var created int64
		if err := rows.Scan(&n.ID, &n.Content, &created); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.CreatedAt = time.UnixMilli(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListEntries returns the most recent data points, newest last.
func (s *SQLiteStore) ListEntries(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.recent(ctx, "data_log", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.Content, &created); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// recent selects the newest limit rows and returns them oldest first.
func (s *SQLiteStore) recent(ctx context.Context, table string, limit int) (*sql.Rows, error) {
	if limit <= 0 {
		limit = -1
	}
	q := `SELECT id, content, created_at FROM (
		SELECT id, content, created_at, rowid AS r FROM ` + table + ` ORDER BY created_at DESC, rowid DESC LIMIT ?
	) ORDER BY created_at, r`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return rows, nil
}

// PruneCompleted deletes done items completed before the cutoff.
func (s *SQLiteStore) PruneCompleted(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM todos WHERE done = 1 AND completed_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune todos: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
