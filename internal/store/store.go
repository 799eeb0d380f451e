// Package store keeps the live set of position monitors.
package store

import (
	"sort"
	"sync"

	"ladder_bot/internal/models"

	"github.com/pkg/errors"
)

var (
	ErrExists   = errors.New("monitor already exists")
	ErrNotFound = errors.New("monitor not found")
)

// Store is a mutex-guarded map of monitors keyed by MonitorKey. Values never
// leave the store by reference: every read returns a copy and every write
// stores one.
type Store struct {
	mu       sync.RWMutex
	monitors map[models.MonitorKey]*models.PositionMonitor
	version  uint64
}

func New() *Store {
	return &Store{monitors: make(map[models.MonitorKey]*models.PositionMonitor)}
}

func (s *Store) Get(key models.MonitorKey) (*models.PositionMonitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.monitors[key]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Snapshot returns copies of all monitors ordered by key.
func (s *Store) Snapshot() []*models.PositionMonitor {
	s.mu.RLock()
	out := make([]*models.PositionMonitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// Insert adds m if its key is valid and not yet present.
func (s *Store) Insert(m *models.PositionMonitor) error {
	key := m.Key()
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.monitors[key]; ok {
		return errors.Wrap(ErrExists, key.String())
	}
	s.monitors[key] = m.Clone()
	s.version++
	return nil
}

func (s *Store) Upsert(m *models.PositionMonitor) error {
	key := m.Key()
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.monitors[key] = m.Clone()
	s.version++
	s.mu.Unlock()
	return nil
}

// Replace overwrites an existing monitor. A monitor removed in the meantime
// stays removed.
func (s *Store) Replace(m *models.PositionMonitor) error {
	key := m.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.monitors[key]; !ok {
		return errors.Wrap(ErrNotFound, key.String())
	}
	s.monitors[key] = m.Clone()
	s.version++
	return nil
}

func (s *Store) Remove(key models.MonitorKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.monitors[key]; !ok {
		return false
	}
	delete(s.monitors, key)
	s.version++
	return true
}

// Merge adds loaded monitors that are not in memory; in-memory state wins on
// conflict. Returns how many were added.
func (s *Store) Merge(loaded []*models.PositionMonitor) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, m := range loaded {
		key := m.Key()
		if key.Validate() != nil {
			continue
		}
		if _, ok := s.monitors[key]; ok {
			continue
		}
		s.monitors[key] = m.Clone()
		added++
	}
	if added > 0 {
		s.version++
	}
	return added
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.monitors)
}

// Version grows on every mutation; persistence uses it as a dirty marker.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
