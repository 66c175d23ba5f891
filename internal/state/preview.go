package state

import (
	"sort"

	"grimm.is/vpcctl/internal/logging"
)

// PreviewStore serves reads from an underlying store but keeps writes in
// memory, so a preview run can walk a multi-step scenario (create, then add
// a subnet) without touching persisted state.
type PreviewStore struct {
	base    Store
	pending map[string]*VPC
	deleted map[string]bool
	logger  *logging.Logger
}

// NewPreviewStore wraps base.
func NewPreviewStore(base Store) *PreviewStore {
	return &PreviewStore{
		base:    base,
		pending: make(map[string]*VPC),
		deleted: make(map[string]bool),
		logger:  logging.WithComponent("state"),
	}
}

func (s *PreviewStore) Exists(name string) (bool, error) {
	if s.deleted[name] {
		return false, nil
	}
	if _, ok := s.pending[name]; ok {
		return true, nil
	}
	return s.base.Exists(name)
}

func (s *PreviewStore) Load(name string) (*VPC, error) {
	if s.deleted[name] {
		return nil, ErrNotFound
	}
	if v, ok := s.pending[name]; ok {
		return v.Clone(), nil
	}
	return s.base.Load(name)
}

func (s *PreviewStore) Save(name string, v *VPC) error {
	s.logger.Info("preview: record not written", "vpc", name)
	s.pending[name] = v.Clone()
	delete(s.deleted, name)
	return nil
}

func (s *PreviewStore) Delete(name string) error {
	s.logger.Info("preview: record not removed", "vpc", name)
	delete(s.pending, name)
	s.deleted[name] = true
	return nil
}

func (s *PreviewStore) List() ([]string, error) {
	names, err := s.base.List()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names)+len(s.pending))
	for _, n := range names {
		set[n] = true
	}
	for n := range s.pending {
		set[n] = true
	}
	out := make([]string, 0, len(set))
	for n := range set {
		if !s.deleted[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *PreviewStore) Close() error {
	return s.base.Close()
}
