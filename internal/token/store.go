package token

import "context"

// Store persists tokens keyed by value plus a per-entry pointer to the
// current token. Saving a new token for an entry supersedes the previous one,
// which then answers as used.
type Store interface {
	// Save persists tok and makes it the entry's current token. Any prior
	// current token for the same entry is marked used.
	Save(ctx context.Context, tok *Token) error

	// Get returns the token for a value, or nil when unknown.
	Get(ctx context.Context, value string) (*Token, error)

	// MarkUsed stamps the token as consumed. Idempotent.
	MarkUsed(ctx context.Context, value string) error

	// CurrentValue returns the entry's current token value, or empty.
	CurrentValue(ctx context.Context, entryID string) (string, error)
}
