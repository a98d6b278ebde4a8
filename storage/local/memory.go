// Package local provides the device's durable key/value stores.
package local

import (
	"sync"

	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
)

// MemoryStore keeps values in memory. It is used in tests and when no durable storage is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ offline.AtomicStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Update(key string, fn offline.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.data[key]
	val, err := fn(old, ok)
	if err != nil {
		return err
	}
	s.data[key] = val
	return nil
}
