package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"grimm.is/vpcctl/internal/clock"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore keeps VPC documents in a single SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	clock  clock.Clock
}

// Options configures the SQLite store.
type Options struct {
	Path    string      // Database file path (":memory:" for in-memory)
	WALMode bool        // Enable WAL mode
	Clock   clock.Clock // nil means clock.Real
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{
		Path:    path,
		WALMode: true,
	}
}

// NewSQLiteStore opens (or creates) the database and its schema.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.WALMode && opts.Path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	clk := clock.Or(opts.Clock)

	s := &SQLiteStore{db: db, clock: clk}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS vpcs (
			name TEXT PRIMARY KEY,
			doc BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`)
	return err
}

// Exists reports whether a record exists for name.
func (s *SQLiteStore) Exists(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(1) FROM vpcs WHERE name = ?", name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Load reads the record for name.
func (s *SQLiteStore) Load(name string) (*VPC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var doc []byte
	err := s.db.QueryRow("SELECT doc FROM vpcs WHERE name = ?", name).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	var v VPC
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", name, err)
	}
	v.normalize()
	return &v, nil
}

// Save overwrites the record for name.
func (s *SQLiteStore) Save(name string, v *VPC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	v.normalize()
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO vpcs (name, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
	`, name, doc, s.clock.Now().UTC())
	return err
}

// Delete removes the record. Deleting an absent record is not an error.
func (s *SQLiteStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.Exec("DELETE FROM vpcs WHERE name = ?", name)
	return err
}

// List returns recorded VPC names in sorted order.
func (s *SQLiteStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT name FROM vpcs ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
