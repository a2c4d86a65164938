package entry

import (
	"fmt"
	"net/mail"
	"time"

	dErrors "idcollect/pkg/domain-errors"
)

// Transition methods enforce the state machine guards. They are called
// inside Store.UpdateEntry mutators so every guard holds under the store's
// per-entry serialization.

// MarkLinkSent moves the entry to link_sent after a token was issued and
// the email handed to the sender. Requires a syntactically valid email.
func (e *Entry) MarkLinkSent(at time.Time) error {
	if e.Status == StatusVerified {
		return dErrors.New(dErrors.CodeConflict, "entry is already verified")
	}
	if err := ValidateEmail(e.Email); err != nil {
		return err
	}
	e.Status = StatusLinkSent
	e.LinkSentAt = &at
	return nil
}

// MarkResent records a resend: a fresh token replaced the outstanding one.
// Status ends at link_sent regardless of where it was (except verified).
func (e *Entry) MarkResent(at time.Time) error {
	if e.Status == StatusVerified {
		return dErrors.New(dErrors.CodeConflict, "cannot resend a link for a verified entry")
	}
	if err := ValidateEmail(e.Email); err != nil {
		return err
	}
	e.Status = StatusLinkSent
	e.ResendCount++
	e.LinkSentAt = &at
	return nil
}

// MarkVerified records a matched verification result.
func (e *Entry) MarkVerified(details VerificationDetails, at time.Time) error {
	if !details.Matched {
		return dErrors.New(dErrors.CodeInternal, "verified transition requires a matched result")
	}
	e.Status = StatusVerified
	e.Details = &details
	e.VerificationAttempts++
	e.VerifiedAt = &at
	e.LastAttemptAt = &at
	e.LastAttemptError = ""
	return nil
}

// MarkVerificationFailed records a mismatched result or an exhausted
// attempt budget. The entry stays retryable.
func (e *Entry) MarkVerificationFailed(details VerificationDetails, attemptError string, at time.Time) error {
	if e.Status == StatusVerified {
		return dErrors.New(dErrors.CodeConflict, "entry is already verified")
	}
	e.Status = StatusVerificationFailed
	e.Details = &details
	e.VerificationAttempts++
	e.LastAttemptAt = &at
	e.LastAttemptError = attemptError
	return nil
}

// MarkEmailFailed records that the email sender reported a failure.
func (e *Entry) MarkEmailFailed(reason string, at time.Time) error {
	if e.Status == StatusVerified {
		return dErrors.New(dErrors.CodeConflict, "entry is already verified")
	}
	e.Status = StatusEmailFailed
	e.LastAttemptError = reason
	e.LastAttemptAt = &at
	return nil
}

// MarkDispatchFailed records that the link could not be prepared at all.
func (e *Entry) MarkDispatchFailed(reason string, at time.Time) error {
	if e.Status == StatusVerified {
		return dErrors.New(dErrors.CodeConflict, "entry is already verified")
	}
	e.Status = StatusFailed
	e.LastAttemptError = reason
	e.LastAttemptAt = &at
	return nil
}

// ValidateEmail checks basic address syntax.
func ValidateEmail(email string) error {
	if email == "" {
		return dErrors.New(dErrors.CodeBadRequest, "entry has no email address")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, fmt.Sprintf("invalid email address %q", email))
	}
	return nil
}
