package secrets

import "strings"

// RedactedMarker is shown wherever an encrypted value exists but must not be
// revealed.
const RedactedMarker = "•••• encrypted"

// Mask keeps the first four characters of an identity number and stars the
// rest. Used for logs and audit details.
func Mask(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + strings.Repeat("*", len(value)-4)
}
