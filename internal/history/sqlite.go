package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"livepatch/internal/types"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps history in a SQLite database so undo survives restarts.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// NewSQLiteStore opens or creates the history database at path. ":memory:"
// gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database is per connection, and writes
	// are serialized by SQLite anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history_entries (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		seq INTEGER NOT NULL,
		content_before TEXT NOT NULL,
		content_after TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		generated_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE(path, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_history_path ON history_entries(path, seq);

	CREATE TABLE IF NOT EXISTS history_cursors (
		path TEXT PRIMARY KEY,
		cursor INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoint_files (
		checkpoint_id TEXT NOT NULL REFERENCES checkpoints(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		content TEXT NOT NULL,
		PRIMARY KEY (checkpoint_id, path)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) cursor(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, path string) (int, error) {
	var cur int
	err := q.QueryRowContext(ctx, `SELECT cursor FROM history_cursors WHERE path = ?`, path).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return cur, err
}

func (s *SQLiteStore) Push(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cur, err := s.cursor(ctx, tx, e.Path)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_entries WHERE path = ? AND seq >= ?`, e.Path, cur); err != nil {
		return fmt.Errorf("drop redo entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history_entries (id, path, seq, content_before, content_after, description, generated_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Path, cur, e.Before, e.After, e.Description, string(e.GeneratedBy), e.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history_cursors (path, cursor) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET cursor = excluded.cursor`,
		e.Path, cur+1,
	); err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Stack(ctx context.Context, path string) ([]Entry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, content_before, content_after, description, generated_by, created_at
		 FROM history_entries WHERE path = ? ORDER BY seq`, path)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			genBy   string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Path, &e.Before, &e.After, &e.Description, &genBy, &created); err != nil {
			return nil, 0, err
		}
		e.GeneratedBy = types.GeneratedBy(genBy)
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	cur, err := s.cursor(ctx, s.db, path)
	if err != nil {
		return nil, 0, err
	}
	return entries, cur, nil
}

func (s *SQLiteStore) SetCursor(ctx context.Context, path string, cursor int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_entries WHERE path = ?`, path).Scan(&n); err != nil {
		return err
	}
	if cursor < 0 || cursor > n {
		return errors.New("history cursor out of range")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_cursors (path, cursor) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET cursor = excluded.cursor`, path, cursor)
	return err
}

func (s *SQLiteStore) Paths(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT path FROM history_entries ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoint_files WHERE checkpoint_id IN (SELECT id FROM checkpoints WHERE name = ?)`, cp.Name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE name = ?`, cp.Name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (id, name, created_at) VALUES (?, ?, ?)`,
		cp.ID, cp.Name, cp.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	for path, content := range cp.Files {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoint_files (checkpoint_id, path, content) VALUES (?, ?, ?)`,
			cp.ID, path, content); err != nil {
			return fmt.Errorf("insert checkpoint file: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Checkpoint(ctx context.Context, name string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		cp      Checkpoint
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM checkpoints WHERE name = ?`, name).Scan(&cp.ID, &cp.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, err
	}
	cp.CreatedAt = time.Unix(0, created)

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content FROM checkpoint_files WHERE checkpoint_id = ?`, cp.ID)
	if err != nil {
		return Checkpoint{}, err
	}
	defer rows.Close()

	cp.Files = make(map[string]string)
	for rows.Next() {
		var p, c string
		if err := rows.Scan(&p, &c); err != nil {
			return Checkpoint{}, err
		}
		cp.Files[p] = c
	}
	return cp, rows.Err()
}
