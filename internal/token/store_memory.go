package token

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the non-distributed Store used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byValue map[string]*Token
	byEntry map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byValue: make(map[string]*Token),
		byEntry: make(map[string]string),
	}
}

func (s *MemoryStore) Save(ctx context.Context, tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.byEntry[tok.EntryID]; prev != "" {
		if old := s.byValue[prev]; old != nil && old.UsedAt == nil {
			at := time.Now()
			old.UsedAt = &at
		}
	}

	cp := *tok
	s.byValue[tok.Value] = &cp
	s.byEntry[tok.EntryID] = tok.Value
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, value string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok := s.byValue[value]
	if tok == nil {
		return nil, nil
	}
	cp := *tok
	return &cp, nil
}

func (s *MemoryStore) MarkUsed(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok := s.byValue[value]
	if tok == nil || tok.UsedAt != nil {
		return nil
	}
	at := time.Now()
	tok.UsedAt = &at
	return nil
}

func (s *MemoryStore) CurrentValue(ctx context.Context, entryID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byEntry[entryID], nil
}
