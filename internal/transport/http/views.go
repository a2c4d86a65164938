package httptransport

import (
	"time"

	"idcollect/internal/entry"
	"idcollect/internal/secrets"
	"idcollect/internal/verifier"
)

// entryView is the admin-facing entry shape. Encrypted identity numbers are
// replaced with the redaction marker; raw values never leave the service
// except in exports.
type entryView struct {
	ID               string                     `json:"id"`
	ListID           string                     `json:"listId"`
	Email            string                     `json:"email"`
	DisplayName      string                     `json:"displayName"`
	Data             map[string]any             `json:"data"`
	Status           entry.Status               `json:"status"`
	VerificationType verifier.IdentityType      `json:"verificationType"`
	IdentityNumber   string                     `json:"identityNumber,omitempty"`
	CompanyName      string                     `json:"companyName,omitempty"`
	Details          *entry.VerificationDetails `json:"details,omitempty"`
	ResendCount      int                        `json:"resendCount"`
	Attempts         int                        `json:"verificationAttempts"`
	LastAttemptError string                     `json:"lastAttemptError,omitempty"`
	LinkSentAt       *time.Time                 `json:"linkSentAt,omitempty"`
	VerifiedAt       *time.Time                 `json:"verifiedAt,omitempty"`
	Version          int64                      `json:"version"`
	CreatedAt        time.Time                  `json:"createdAt"`
	UpdatedAt        time.Time                  `json:"updatedAt"`
}

func toEntryView(e *entry.Entry) entryView {
	v := entryView{
		ID:               e.ID,
		ListID:           e.ListID,
		Email:            e.Email,
		DisplayName:      e.DisplayName,
		Data:             e.Data,
		Status:           e.Status,
		VerificationType: e.VerificationType,
		CompanyName:      e.CACCompanyName,
		Details:          e.Details,
		ResendCount:      e.ResendCount,
		Attempts:         e.VerificationAttempts,
		LastAttemptError: e.LastAttemptError,
		LinkSentAt:       e.LinkSentAt,
		VerifiedAt:       e.VerifiedAt,
		Version:          e.Version,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
	if e.HasStoredIdentity() {
		v.IdentityNumber = secrets.RedactedMarker
	}
	return v
}

func toEntryViews(entries []*entry.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryView(e))
	}
	return out
}

// listView pairs list metadata with its live status counters.
type listView struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Columns     []string       `json:"columns"`
	EmailColumn string         `json:"emailColumn,omitempty"`
	Type        entry.ListType `json:"type"`
	FileName    string         `json:"fileName,omitempty"`
	Stats       *statsView     `json:"stats,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type statsView struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	LinkSent int `json:"linkSent"`
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
	Progress int `json:"progress"`
}

func toListView(l *entry.List, stats *entry.Stats) listView {
	v := listView{
		ID:          l.ID,
		Name:        l.Name,
		Columns:     l.Columns,
		EmailColumn: l.EmailColumn,
		Type:        l.Type,
		FileName:    l.FileName,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
	if stats != nil {
		v.Stats = &statsView{
			Total:    stats.Total,
			Pending:  stats.Pending,
			LinkSent: stats.LinkSent,
			Verified: stats.Verified,
			Failed:   stats.Failed,
			Progress: stats.Progress(),
		}
	}
	return v
}
