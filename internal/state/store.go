// Package state persists VPC records.
//
// One document per VPC, keyed by name. Writes are total overwrites: callers
// load a record, mutate it in memory and save it back. Nothing guards
// against two processes doing that concurrently.
//
// Backends:
//   - FileStore: one JSON file per VPC (vpc_<name>.json), the default
//   - SQLiteStore: a single database file using modernc.org/sqlite
//   - PreviewStore: wraps another store and keeps writes in memory
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrNotFound    = errors.New("vpc not found")
	ErrStoreClosed = errors.New("store is closed")
)

// Store is the metadata store interface.
type Store interface {
	Exists(name string) (bool, error)
	Load(name string) (*VPC, error)
	Save(name string, v *VPC) error
	Delete(name string) error
	List() ([]string, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the store for backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(dir)
	case BackendSQLite:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state dir: %w", err)
		}
		return NewSQLiteStore(DefaultOptions(filepath.Join(dir, "vpcctl.db")))
	default:
		return nil, fmt.Errorf("unknown state backend %q (want %q or %q)", backend, BackendFile, BackendSQLite)
	}
}
