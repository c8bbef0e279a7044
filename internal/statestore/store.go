// Package statestore keeps the per-user conversation phase tag. The tag is
// advisory front-end state; losing it only resets a user to the main menu,
// so entries carry a TTL instead of explicit cleanup.
package statestore

import (
	"context"
	"sync"
	"time"
)

type Store interface {
	Get(ctx context.Context, userID int64) (string, error)
	Set(ctx context.Context, userID int64, phase string, ttl time.Duration) error
	Delete(ctx context.Context, userID int64) error
}

type InMemoryStore struct {
	mu    sync.RWMutex
	store map[int64]entry
}

type entry struct {
	phase     string
	expiresAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{store: make(map[int64]entry)}
}

func (s *InMemoryStore) Get(_ context.Context, userID int64) (string, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	e, ok := s.store[userID]
	s.mu.RUnlock()
	if !ok {
		return "", nil
	}
	if now.After(e.expiresAt) {
		s.mu.Lock()
		if e2, ok2 := s.store[userID]; ok2 && now.After(e2.expiresAt) {
			delete(s.store, userID)
		}
		s.mu.Unlock()
		return "", nil
	}
	return e.phase, nil
}

func (s *InMemoryStore) Set(_ context.Context, userID int64, phase string, ttl time.Duration) error {
	if ttl <= 0 || phase == "" {
		return s.Delete(context.Background(), userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[userID] = entry{phase: phase, expiresAt: time.Now().UTC().Add(ttl)}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, userID)
	return nil
}
