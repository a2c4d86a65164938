package entry

import (
	"context"
	"sort"
	"sync"
	"time"

	dErrors "idcollect/pkg/domain-errors"
)

// MemoryStore is the non-distributed Store used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	lists   map[string]*List
	entries map[string]*Entry
	// byList keeps entry ids in creation order per list.
	byList map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:   make(map[string]*List),
		entries: make(map[string]*Entry),
		byList:  make(map[string][]string),
	}
}

func (s *MemoryStore) CreateList(ctx context.Context, list *List, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lists[list.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "list already exists")
	}

	cp := *list
	cp.Columns = append([]string(nil), list.Columns...)
	s.lists[list.ID] = &cp

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		s.entries[e.ID] = e.Clone()
		ids = append(ids, e.ID)
	}
	s.byList[list.ID] = ids
	return nil
}

func (s *MemoryStore) GetList(ctx context.Context, listID string) (*List, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.lists[listID]
	if list == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "list not found")
	}
	cp := *list
	cp.Columns = append([]string(nil), list.Columns...)
	return &cp, nil
}

func (s *MemoryStore) Lists(ctx context.Context) ([]*List, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*List, 0, len(s.lists))
	for _, list := range s.lists {
		cp := *list
		cp.Columns = append([]string(nil), list.Columns...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteList(ctx context.Context, listID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lists[listID]; !exists {
		return dErrors.New(dErrors.CodeNotFound, "list not found")
	}
	for _, id := range s.byList[listID] {
		delete(s.entries, id)
	}
	delete(s.byList, listID)
	delete(s.lists, listID)
	return nil
}

func (s *MemoryStore) ListStats(ctx context.Context, listID string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.lists[listID]; !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "list not found")
	}

	stats := &Stats{}
	for _, id := range s.byList[listID] {
		e := s.entries[id]
		stats.Total++
		switch e.Status {
		case StatusPending:
			stats.Pending++
		case StatusLinkSent:
			stats.LinkSent++
		case StatusVerified:
			stats.Verified++
		case StatusVerificationFailed, StatusFailed, StatusEmailFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *MemoryStore) GetEntry(ctx context.Context, entryID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[entryID]
	if e == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "entry not found")
	}
	return e.Clone(), nil
}

func (s *MemoryStore) GetEntries(ctx context.Context, listID string, ids []string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.lists[listID]; !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "list not found")
	}

	if ids == nil {
		ids = s.byList[listID]
	}
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		e := s.entries[id]
		if e == nil || e.ListID != listID {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, listID string, filter Filter) ([]*Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.lists[listID]; !exists {
		return nil, 0, dErrors.New(dErrors.CodeNotFound, "list not found")
	}

	matched := make([]*Entry, 0)
	for _, id := range s.byList[listID] {
		e := s.entries[id]
		if matchesFilter(e, filter) {
			matched = append(matched, e)
		}
	}
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
		return []*Entry{}, total, nil
	}
	end := min(start+size, total)

	out := make([]*Entry, 0, end-start)
	for _, e := range matched[start:end] {
		out = append(out, e.Clone())
	}
	return out, total, nil
}

func (s *MemoryStore) UpdateEntry(ctx context.Context, entryID string, mutate func(*Entry) error) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.entries[entryID]
	if current == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "entry not found")
	}

	dataBefore := current.Clone().Data
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := checkDataPreserved(dataBefore, next.Data); err != nil {
		return nil, err
	}

	next.Version = current.Version + 1
	next.UpdatedAt = time.Now()
	s.entries[entryID] = next
	return next.Clone(), nil
}
