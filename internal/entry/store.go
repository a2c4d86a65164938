package entry

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	dErrors "idcollect/pkg/domain-errors"
)

// Filter narrows ListEntries results.
type Filter struct {
	Status   Status
	Search   string
	Page     int
	PageSize int
}

// Store persists lists and entries and serializes entry mutations. Both
// implementations enforce the data-preservation invariant inside
// UpdateEntry: a mutator that touches Data aborts the update.
type Store interface {
	CreateList(ctx context.Context, list *List, entries []*Entry) error
	GetList(ctx context.Context, listID string) (*List, error)
	Lists(ctx context.Context) ([]*List, error)

	// DeleteList removes the list and all of its entries.
	DeleteList(ctx context.Context, listID string) error

	// ListStats aggregates entry statuses for one list.
	ListStats(ctx context.Context, listID string) (*Stats, error)

	GetEntry(ctx context.Context, entryID string) (*Entry, error)

	// GetEntries returns entries by id, preserving the requested order.
	// A nil ids slice returns every entry in the list in creation order.
	GetEntries(ctx context.Context, listID string, ids []string) ([]*Entry, error)

	// ListEntries returns one page plus the total count before paging.
	ListEntries(ctx context.Context, listID string, filter Filter) ([]*Entry, int, error)

	// UpdateEntry applies mutate to the current entry under per-entry
	// serialization, bumps Version, and returns the committed entry.
	UpdateEntry(ctx context.Context, entryID string, mutate func(*Entry) error) (*Entry, error)
}

// checkDataPreserved compares the uploaded columns before and after a
// mutation. Any difference aborts the commit.
func checkDataPreserved(before, after map[string]any) error {
	if len(before) != len(after) {
		return dErrors.New(dErrors.CodeInternal, "entry data keys changed during update")
	}
	for k, v := range before {
		got, ok := after[k]
		if !ok {
			return dErrors.New(dErrors.CodeInternal, fmt.Sprintf("entry data key %q removed during update", k))
		}
		if !reflect.DeepEqual(v, got) {
			return dErrors.New(dErrors.CodeInternal, fmt.Sprintf("entry data value for %q changed during update", k))
		}
	}
	return nil
}

// matchesFilter applies status and search filtering shared by both stores.
func matchesFilter(e *Entry, filter Filter) bool {
	if filter.Status != "" && e.Status != filter.Status {
		return false
	}
	if filter.Search != "" {
		if !containsFold(e.Email, filter.Search) && !containsFold(e.DisplayName, filter.Search) {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
