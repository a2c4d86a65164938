package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the in-process event log for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) ListByList(ctx context.Context, listID string, filter Filter) ([]Event, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Event
	for _, e := range s.events {
		if e.ListID != listID {
			continue
		}
		if !matchesEventFilter(e, filter) {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	page, size := filter.Page, filter.PageSize
	if size <= 0 {
		size = 50
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * size
	if start >= total {
		return []Event{}, total, nil
	}
	end := min(start+size, total)
	return matched[start:end], total, nil
}

func (s *MemoryStore) DeleteByList(ctx context.Context, listID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, e := range s.events {
		if e.ListID != listID {
			kept = append(kept, e)
		}
	}
	s.events = kept
	return nil
}

func matchesEventFilter(e Event, filter Filter) bool {
	if filter.Action != "" && e.Action != filter.Action {
		return false
	}
	if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && e.Timestamp.After(filter.To) {
		return false
	}
	return true
}
