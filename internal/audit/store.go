package audit

import "context"

// Store is the authoritative event log.
type Store interface {
	Append(ctx context.Context, event Event) error

	// ListByList returns one page of a list's events, newest first, plus
	// the total count before paging.
	ListByList(ctx context.Context, listID string, filter Filter) ([]Event, int, error)

	// DeleteByList removes a list's events. List deletion is the only
	// path that may delete audit records.
	DeleteByList(ctx context.Context, listID string) error
}

// Publisher mirrors events to an external stream, best effort.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
