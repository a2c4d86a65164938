package token

import "time"

// State is the tri-state answer for a presented token. Expired and used are
// distinct so the verification page can explain what happened.
type State string

const (
	StateValid    State = "valid"
	StateExpired  State = "expired"
	StateUsed     State = "used"
	StateNotFound State = "not_found"
)

// Token is a single-use verification link credential bound to one entry.
type Token struct {
	Value     string
	EntryID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Validation is the outcome of presenting a token value.
type Validation struct {
	State State
	Token *Token
}

// Expired reports whether the token is past its expiry at the given time.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
