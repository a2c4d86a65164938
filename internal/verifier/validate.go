package verifier

import (
	"regexp"
	"strings"
)

// IdentityType selects which registry an identity number is checked against.
type IdentityType string

const (
	TypeNIN IdentityType = "NIN"
	TypeCAC IdentityType = "CAC"
)

var (
	ninPattern = regexp.MustCompile(`^\d{11}$`)
	rcPattern  = regexp.MustCompile(`^[A-Za-z0-9-]{5,}$`)
)

// ValidateFormat checks an identity number against the local format rules
// for its type before any registry call is made.
func ValidateFormat(typ IdentityType, number string) *ProviderError {
	switch typ {
	case TypeNIN:
		if !ninPattern.MatchString(number) {
			return NewProviderError(ErrorInvalidInput, "local", "NIN must be exactly 11 digits", nil)
		}
	case TypeCAC:
		// Length counts the number as supplied, prefix and hyphens
		// included; normalization is a matching concern, not a format one.
		if !rcPattern.MatchString(strings.TrimSpace(number)) {
			return NewProviderError(ErrorInvalidInput, "local", "RC number must be at least 5 alphanumeric characters", nil)
		}
	default:
		return NewProviderError(ErrorInvalidInput, "local", "unknown identity type", nil)
	}
	return nil
}
