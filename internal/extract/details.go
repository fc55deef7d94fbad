package extract

import (
	"regexp"
	"strings"

	"github.com/zombor/bill-decoder/internal/bill"
)

var (
	datePattern      = regexp.MustCompile(`\b(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2})\b`)
	cptPattern       = regexp.MustCompile(`(?i)\bCPT\s*#?:?\s*(\d{4,5}[A-Z]?)\b`)
	codePattern      = regexp.MustCompile(`\b\d{5}\b`)
	decimalPattern   = regexp.MustCompile(`\d+\.\d{2}\b`)
	serviceDateHints = []string{"service date", "date of service", "dos", "visit date"}
	providerHints    = []string{"Center", "Clinic", "Hospital", "Medical", "Imaging", "Health", "Care", "Physicians", "Laboratory"}
	providerSkip     = []string{"Patient", "Insurance", "Billing", "Statement", "Account", "Invoice", "Guarantor"}
)

// headerLines is how far into the document the provider name is looked for
const headerLines = 12

// Details recovers the provider, service date and procedure code from bill
// text. Anything that cannot be found is left empty.
func Details(text string) bill.Details {
	lines := make([]string, 0)
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	return bill.Details{
		Provider:    provider(lines),
		ServiceDate: serviceDate(lines),
		Procedure:   procedure(text, lines),
	}
}

// provider picks the shortest header line that reads like a facility name
func provider(lines []string) string {
	var best string
	for i, l := range lines {
		if i >= headerLines {
			break
		}
		if containsAny(l, providerSkip) || !containsAny(l, providerHints) {
			continue
		}
		if best == "" || len(l) < len(best) {
			best = l
		}
	}
	return best
}

// serviceDate prefers a date on a line labelled as the date of service, and
// otherwise falls back to the first date in the document.
func serviceDate(lines []string) string {
	var fallback string
	for _, l := range lines {
		m := datePattern.FindString(l)
		if m == "" {
			continue
		}
		if hasWord(strings.ToLower(l), serviceDateHints) {
			return m
		}
		if fallback == "" {
			fallback = m
		}
	}
	return fallback
}

// procedure returns an explicit "CPT nnnnn" code, or a five digit code on the
// first line that also carries an amount.
func procedure(text string, lines []string) string {
	if m := cptPattern.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	for _, l := range lines {
		if !decimalPattern.MatchString(l) {
			continue
		}
		if code := codePattern.FindString(l); code != "" {
			return code
		}
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// hasWord matches hints on word boundaries so "dos" does not fire inside "doses"
func hasWord(lower string, hints []string) bool {
	padded := " " + strings.Join(strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}), " ") + " "
	for _, h := range hints {
		if strings.Contains(padded, " "+h+" ") {
			return true
		}
	}
	return false
}
