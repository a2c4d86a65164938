package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idcollect/internal/verifier"
)

func TestRenderVerificationEmail(t *testing.T) {
	msg, err := Render(VerificationData{
		RecipientName: "Ada Obi",
		IdentityLabel: IdentityLabel(verifier.TypeNIN),
		URL:           "https://verify.example.com/verify/abc123",
		ExpiresAt:     time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Contains(t, msg.Subject, "National Identification Number")
	assert.Contains(t, msg.HTML, "Ada Obi")
	assert.Contains(t, msg.HTML, "https://verify.example.com/verify/abc123")
	assert.Contains(t, msg.HTML, "8 March 2026")
	assert.Contains(t, msg.Text, "https://verify.example.com/verify/abc123")
}

func TestRenderEscapesHTMLInName(t *testing.T) {
	msg, err := Render(VerificationData{
		RecipientName: `<script>alert(1)</script>`,
		IdentityLabel: IdentityLabel(verifier.TypeCAC),
		URL:           "https://verify.example.com/verify/abc123",
		ExpiresAt:     time.Now(),
	})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestVerificationURL(t *testing.T) {
	assert.Equal(t,
		"https://verify.example.com/verify/tok",
		VerificationURL("https://verify.example.com", "tok"))
}

func TestDeriveNameFromEmail(t *testing.T) {
	assert.Equal(t, "Ada Obi", DeriveNameFromEmail("ada.obi@example.com"))
	assert.Equal(t, "John", DeriveNameFromEmail("john@example.com"))
	assert.Equal(t, "Jane Doe", DeriveNameFromEmail("jane_doe@example.com"))
	assert.Equal(t, "Customer", DeriveNameFromEmail("@example.com"))
}
