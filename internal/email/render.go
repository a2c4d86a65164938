package email

import (
	"fmt"
	"html/template"
	"strings"

	"idcollect/internal/verifier"
)

var htmlTemplate = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <p>Dear {{.RecipientName}},</p>
  <p>We need to verify your {{.IdentityLabel}} to keep your insurance policy active.</p>
  <p>
    <a href="{{.URL}}" style="background:#1a56db;color:#fff;padding:10px 18px;border-radius:4px;text-decoration:none;">
      Verify my identity
    </a>
  </p>
  <p>This link is personal to you and expires on {{.ExpiresAt.Format "2 January 2006"}}.</p>
  <p>If you did not expect this email, you can ignore it.</p>
</body>
</html>`))

// Render produces the subject, HTML and plain-text bodies for a
// verification request.
func Render(data VerificationData) (Message, error) {
	var html strings.Builder
	if err := htmlTemplate.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render verification email: %w", err)
	}

	text := fmt.Sprintf(
		"Dear %s,\n\nWe need to verify your %s to keep your insurance policy active.\n\n"+
			"Open this link to complete verification:\n%s\n\n"+
			"The link expires on %s.\n\nIf you did not expect this email, you can ignore it.\n",
		data.RecipientName, data.IdentityLabel, data.URL,
		data.ExpiresAt.Format("2 January 2006"))

	return Message{
		Subject: fmt.Sprintf("Action required: verify your %s", data.IdentityLabel),
		HTML:    html.String(),
		Text:    text,
	}, nil
}

// IdentityLabel is the human wording for a verification type.
func IdentityLabel(typ verifier.IdentityType) string {
	if typ == verifier.TypeCAC {
		return "company registration (RC) number"
	}
	return "National Identification Number (NIN)"
}
