package verifier

import (
	"regexp"
	"strings"
	"time"
)

// Record is the normalized field map a provider returns on a successful
// lookup. Keys are canonical: first_name, last_name, gender, date_of_birth,
// phone for individuals; company_name, rc_number, company_status,
// registration_date for companies.
type Record map[string]string

// IndividualDetails are the expected values supplied by the admin's list.
type IndividualDetails struct {
	FirstName   string
	LastName    string
	Gender      string
	DateOfBirth string
	Phone       string
}

// CorporateDetails are the expected values for a company verification.
type CorporateDetails struct {
	CompanyName      string
	RCNumber         string
	RegistrationDate string
}

// Result is the outcome of comparing a registry record against expectations.
type Result struct {
	Matched         bool
	FieldsValidated []string
	FailedFields    []string
	Provider        string
	Record          Record
	CheckedAt       time.Time
}

// statusesAccepted are the registry company statuses treated as in good
// standing.
var statusesAccepted = map[string]bool{
	"verified": true,
	"active":   true,
}

// MatchIndividual compares a registry record against the expected personal
// details. First name, last name, gender and date of birth are required;
// phone is compared only when both sides have one and never fails the match.
func MatchIndividual(record Record, expected IndividualDetails) *Result {
	res := &Result{Record: record}

	// Some registries return one combined name field instead of split names.
	if record["first_name"] == "" && record["last_name"] == "" && record["name"] != "" {
		got := normalizeString(record["name"])
		want := normalizeString(expected.FirstName + " " + expected.LastName)
		reversed := normalizeString(expected.LastName + " " + expected.FirstName)
		if expected.FirstName == "" || expected.LastName == "" {
			res.FailedFields = append(res.FailedFields, "name")
		} else if got == want || got == reversed {
			res.FieldsValidated = append(res.FieldsValidated, "name")
		} else {
			res.FailedFields = append(res.FailedFields, "name")
		}
	} else {
		compare(res, "first_name", normalizeString(record["first_name"]), normalizeString(expected.FirstName))
		compare(res, "last_name", normalizeString(record["last_name"]), normalizeString(expected.LastName))
	}
	compare(res, "gender", normalizeGender(record["gender"]), normalizeGender(expected.Gender))
	compareDates(res, "date_of_birth", record["date_of_birth"], expected.DateOfBirth)

	if record["phone"] != "" && expected.Phone != "" {
		if normalizePhone(record["phone"]) == normalizePhone(expected.Phone) {
			res.FieldsValidated = append(res.FieldsValidated, "phone")
		}
	}

	// At least one field must have been positively confirmed.
	res.Matched = len(res.FailedFields) == 0 && len(res.FieldsValidated) > 0
	return res
}

// MatchCorporate compares a registry record against the expected company
// details. The registry's company status must also be in good standing.
func MatchCorporate(record Record, expected CorporateDetails) *Result {
	res := &Result{Record: record}

	compare(res, "company_name", NormalizeCompanyName(record["company_name"]), NormalizeCompanyName(expected.CompanyName))
	compare(res, "rc_number", NormalizeRCNumber(record["rc_number"]), NormalizeRCNumber(expected.RCNumber))
	compareDates(res, "registration_date", record["registration_date"], expected.RegistrationDate)

	if statusesAccepted[normalizeString(record["company_status"])] {
		res.FieldsValidated = append(res.FieldsValidated, "company_status")
	} else {
		res.FailedFields = append(res.FailedFields, "company_status")
	}

	res.Matched = len(res.FailedFields) == 0
	return res
}

func compare(res *Result, field, got, want string) {
	if want == "" {
		// Nothing uploaded for this field. It only fails when the registry
		// holds a value the upload cannot confirm.
		if got != "" {
			res.FailedFields = append(res.FailedFields, field)
		}
		return
	}
	if got == want {
		res.FieldsValidated = append(res.FieldsValidated, field)
	} else {
		res.FailedFields = append(res.FailedFields, field)
	}
}

func compareDates(res *Result, field, got, want string) {
	gt, gok := parseDate(got)
	wt, wok := parseDate(want)
	if !gok && !wok {
		// Neither side has a usable date; the field is not compared.
		return
	}
	if gok && wok && gt.Year() == wt.Year() && gt.Month() == wt.Month() && gt.Day() == wt.Day() {
		res.FieldsValidated = append(res.FieldsValidated, field)
		return
	}
	res.FailedFields = append(res.FailedFields, field)
}

var spacesPattern = regexp.MustCompile(`\s+`)

// normalizeString lowercases, trims and collapses internal whitespace so
// registry formatting quirks do not fail a match.
func normalizeString(s string) string {
	return spacesPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

func normalizeGender(s string) string {
	switch s := normalizeString(s); {
	case strings.HasPrefix(s, "m"):
		return "m"
	case strings.HasPrefix(s, "f"):
		return "f"
	default:
		return s
	}
}

var nonDigitsPattern = regexp.MustCompile(`\D`)

// normalizePhone strips formatting and country prefixes down to the last 10
// digits.
func normalizePhone(s string) string {
	digits := nonDigitsPattern.ReplaceAllString(s, "")
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

var (
	rcPrefixPattern   = regexp.MustCompile(`(?i)^RC[\s\-/]*`)
	nonAlnumPattern   = regexp.MustCompile(`[^A-Za-z0-9]`)
	companySuffixOnce = strings.NewReplacer(
		" limited", " ltd",
		" incorporated", " inc",
		" public limited company", " plc",
	)
)

// NormalizeRCNumber strips the RC prefix and separators and uppercases, so
// "RC-123456", "rc 123456" and "123456" all compare equal.
func NormalizeRCNumber(s string) string {
	s = rcPrefixPattern.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.ToUpper(nonAlnumPattern.ReplaceAllString(s, ""))
}

// NormalizeCompanyName canonicalizes legal suffixes before a
// case-insensitive comparison.
func NormalizeCompanyName(s string) string {
	s = normalizeString(s)
	s = companySuffixOnce.Replace(s)
	s = strings.TrimSuffix(s, ".")
	return s
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	layouts := []string{
		"2006-01-02",
		"2006/01/02",
		"02/01/2006",
		"02-01-2006",
		"02-Jan-2006",
		"2 January 2006",
		time.RFC3339,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
