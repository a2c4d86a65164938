// Package entry owns lists, entries, and the entry state machine. Every
// other component mutates entries only through the Store in this package.
package entry

import (
	"regexp"
	"strings"
	"time"

	"idcollect/internal/secrets"
	"idcollect/internal/verifier"
)

// Status is the entry state machine position.
type Status string

const (
	StatusPending            Status = "pending"
	StatusLinkSent           Status = "link_sent"
	StatusVerified           Status = "verified"
	StatusVerificationFailed Status = "verification_failed"

	// StatusFailed and StatusEmailFailed are terminal dispatch failures:
	// the link could not be prepared or the sender reported a failure.
	StatusFailed      Status = "failed"
	StatusEmailFailed Status = "email_failed"
)

// ListType classifies a list by the identity documents it collects.
type ListType string

const (
	ListTypeIndividual ListType = "individual"
	ListTypeCorporate  ListType = "corporate"
	ListTypeUnknown    ListType = "unknown"
)

// List is a named collection of entries created from one upload.
type List struct {
	ID          string
	Name        string
	Columns     []string
	EmailColumn string
	Type        ListType
	FileName    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Stats are per-list aggregate counters, computed from entry statuses.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	LinkSent int `json:"linkSent"`
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
}

// Progress is the verified share in whole percent.
func (s Stats) Progress() int {
	if s.Total == 0 {
		return 0
	}
	return s.Verified * 100 / s.Total
}

// VerificationDetails records the outcome of the most recent verification.
type VerificationDetails struct {
	Matched         bool      `json:"matched"`
	FieldsValidated []string  `json:"fieldsValidated,omitempty"`
	FailedFields    []string  `json:"failedFields,omitempty"`
	FailureReason   string    `json:"failureReason,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// Entry is one customer record within a list. Data holds the original
// uploaded columns verbatim and is never mutated after creation; every
// verification outcome lives in the dedicated fields beside it.
type Entry struct {
	ID          string
	ListID      string
	Email       string
	DisplayName string
	Data        map[string]any

	VerificationType verifier.IdentityType
	Status           Status
	NIN              *secrets.EncryptedValue
	CAC              *secrets.EncryptedValue
	CACCompanyName   string
	Details          *VerificationDetails

	ResendCount          int
	VerificationAttempts int
	LastAttemptError     string
	LinkSentAt           *time.Time
	LastAttemptAt        *time.Time
	VerifiedAt           *time.Time

	// Version increments on every committed mutation; analyses bind to it
	// for their staleness check.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone deep-copies the entry so callers can never alias store state.
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.Data != nil {
		cp.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			cp.Data[k] = v
		}
	}
	if e.NIN != nil {
		nin := *e.NIN
		cp.NIN = &nin
	}
	if e.CAC != nil {
		cac := *e.CAC
		cp.CAC = &cac
	}
	if e.Details != nil {
		details := *e.Details
		details.FieldsValidated = append([]string(nil), e.Details.FieldsValidated...)
		details.FailedFields = append([]string(nil), e.Details.FailedFields...)
		cp.Details = &details
	}
	cp.LinkSentAt = cloneTime(e.LinkSentAt)
	cp.LastAttemptAt = cloneTime(e.LastAttemptAt)
	cp.VerifiedAt = cloneTime(e.VerifiedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// HasStoredIdentity reports whether an encrypted identity number for the
// entry's verification type is already on record.
func (e *Entry) HasStoredIdentity() bool {
	switch e.VerificationType {
	case verifier.TypeCAC:
		return e.CAC != nil
	default:
		return e.NIN != nil
	}
}

var dataKeyPattern = regexp.MustCompile(`[^a-z0-9]`)

// canonicalKey reduces an uploaded column name to a comparable form:
// "First Name", "first_name" and "FIRSTNAME" all become "firstname".
func canonicalKey(k string) string {
	return dataKeyPattern.ReplaceAllString(strings.ToLower(k), "")
}

// DataValue returns the first non-empty value among the given canonical
// column aliases.
func (e *Entry) DataValue(aliases ...string) string {
	for _, alias := range aliases {
		for k, v := range e.Data {
			if canonicalKey(k) != alias {
				continue
			}
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// IdentityNumberFromData finds an identity number supplied in the uploaded
// columns, for the bulk path that skips customer submission.
func (e *Entry) IdentityNumberFromData() string {
	if e.VerificationType == verifier.TypeCAC {
		return e.DataValue("rcnumber", "rc", "cacnumber", "cac", "registrationnumber", "regno")
	}
	return e.DataValue("nin", "ninnumber", "nationalidentitynumber", "identitynumber")
}

// ExpectedIndividual assembles the expected personal details from the
// uploaded columns.
func (e *Entry) ExpectedIndividual() verifier.IndividualDetails {
	return verifier.IndividualDetails{
		FirstName:   e.DataValue("firstname", "givenname"),
		LastName:    e.DataValue("lastname", "surname", "familyname"),
		Gender:      e.DataValue("gender", "sex"),
		DateOfBirth: e.DataValue("dateofbirth", "dob", "birthdate"),
		Phone:       e.DataValue("phone", "phonenumber", "telephone", "mobile"),
	}
}

// ExpectedCorporate assembles the expected company details from the
// uploaded columns.
func (e *Entry) ExpectedCorporate() verifier.CorporateDetails {
	return verifier.CorporateDetails{
		CompanyName:      e.DataValue("companyname", "businessname", "company"),
		RCNumber:         e.DataValue("rcnumber", "rc", "cacnumber", "cac", "registrationnumber", "regno"),
		RegistrationDate: e.DataValue("registrationdate", "dateofregistration", "incorporationdate"),
	}
}
