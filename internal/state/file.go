package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"grimm.is/vpcctl/internal/logging"
)

const (
	filePrefix = "vpc_"
	fileSuffix = ".json"
)

// FileStore keeps one indented JSON document per VPC in a directory.
type FileStore struct {
	dir    string
	logger *logging.Logger
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logging.WithComponent("state")}, nil
}

// Dir returns the state directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid vpc name for file store: %q", name)
	}
	return filepath.Join(s.dir, filePrefix+name+fileSuffix), nil
}

// Exists reports whether a record file exists for name.
func (s *FileStore) Exists(name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Load reads the record for name.
func (s *FileStore) Load(name string) (*VPC, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	var v VPC
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p, err)
	}
	v.normalize()
	if v.Name == "" {
		v.Name = name
	}
	return &v, nil
}

// Save overwrites the record for name. The file is replaced atomically.
func (s *FileStore) Save(name string, v *VPC) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	v.normalize()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, "."+filePrefix+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to replace %s: %w", p, err)
	}
	s.logger.Debug("saved record", "vpc", name, "path", p)
	return nil
}

// Delete removes the record file. Deleting an absent record is not an error.
func (s *FileStore) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// List returns recorded VPC names in sorted order.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, filePrefix) || !strings.HasSuffix(n, fileSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(n, filePrefix), fileSuffix))
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
