// Package analysis implements the dry-run half of the analyze-then-confirm
// pattern: every bulk mutating action first computes a classification with
// an explicit id and TTL, and the confirming call consumes it exactly once.
package analysis

import (
	"time"

	"idcollect/internal/verifier"
)

// Kind separates the two bulk actions an analysis can precede.
type Kind string

const (
	KindBulkVerify Kind = "bulk_verify"
	KindSendLinks  Kind = "send_links"
)

// SkipReason explains why an entry was excluded from the action.
type SkipReason string

const (
	SkipAlreadyVerified SkipReason = "already_verified"
	SkipInvalidFormat   SkipReason = "invalid_format"
	SkipNoIdentityData  SkipReason = "no_identity_data"
	SkipInvalidEmail    SkipReason = "invalid_email"

	// SkipNotEligible covers terminal dispatch failures that must go
	// through a resend before they can be bulk verified.
	SkipNotEligible SkipReason = "not_eligible"
)

// Target snapshots one entry selected for processing. The version pins the
// entry state the classification was computed against.
type Target struct {
	EntryID      string                `json:"entryId"`
	Version      int64                 `json:"version"`
	IdentityType verifier.IdentityType `json:"identityType"`
}

// Analysis is a dry-run classification bound to an exact entry selection.
type Analysis struct {
	ID            string                        `json:"id"`
	Kind          Kind                          `json:"kind"`
	ListID        string                        `json:"listId"`
	TotalEntries  int                           `json:"totalEntries"`
	ToProcess     int                           `json:"toProcess"`
	ToSkip        int                           `json:"toSkip"`
	SkipReasons   map[SkipReason]int            `json:"skipReasons"`
	TypeBreakdown map[verifier.IdentityType]int `json:"typeBreakdown"`
	Targets       []Target                      `json:"targets"`
	CreatedAt     time.Time                     `json:"createdAt"`
	ExpiresAt     time.Time                     `json:"expiresAt"`
}

// Expired reports whether the analysis TTL has passed.
func (a *Analysis) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
