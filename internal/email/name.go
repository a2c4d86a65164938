package email

import (
	"strings"
	"unicode"
)

// DeriveNameFromEmail guesses a greeting name from the address local part
// when the uploaded row has no usable name column.
func DeriveNameFromEmail(email string) string {
	localPart := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "Customer"
	}

	var words []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		words = append(words, capitalize(p))
	}
	if len(words) == 0 {
		return "Customer"
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
