// Package email renders verification messages and defines the transport
// seam. Delivery itself happens in an external collaborator; this service
// only reports whether the handoff succeeded.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Message is a fully rendered email ready for the transport collaborator.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender hands a message to the delivery collaborator.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender logs instead of delivering. Used in development and as the
// default when no transport is wired.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	s.Logger.InfoContext(ctx, "email dispatch (log transport)",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}

// VerificationURL builds the public link a customer opens.
func VerificationURL(baseURL, tokenValue string) string {
	return fmt.Sprintf("%s/verify/%s", baseURL, tokenValue)
}

// VerificationData feeds the verification email template.
type VerificationData struct {
	RecipientName string
	IdentityLabel string
	URL           string
	ExpiresAt     time.Time
}
