package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/zombor/bill-decoder/internal/bill"
)

// MaxContext caps the label window kept for each candidate
const MaxContext = 48

// maxAmount rejects account and reference numbers that happen to look like money
var maxAmount = decimal.NewFromInt(1_000_000)

// amountPattern matches an optional dollar sign, an integer part with or without
// comma thousands groups, and an optional two-digit fraction. OCR often turns the
// decimal point into a comma, so ",dd" is accepted as a fraction too.
var amountPattern = regexp.MustCompile(`(\$\s*)?(\d{1,3}(?:,\d{3})+|\d+)(?:([.,])(\d{2}))?`)

type line struct {
	start int
	text  string
}

// Candidates scans raw text for currency-like tokens in document order.
// The result depends only on the text, so repeated calls are identical.
func Candidates(text string) []bill.AmountCandidate {
	candidates := make([]bill.AmountCandidate, 0)
	lines := splitLines(text)

	for i, ln := range lines {
		prevEnd := 0
		for _, m := range amountPattern.FindAllStringSubmatchIndex(ln.text, -1) {
			start, end := m[0], m[1]
			hasSymbol := m[2] >= 0
			hasFraction := m[8] >= 0
			if !standsAlone(ln.text, start, end, hasFraction) {
				continue
			}
			if !hasSymbol && !hasFraction {
				// Bare integers are dates, codes and counts more often than money
				continue
			}

			whole := strings.ReplaceAll(ln.text[m[4]:m[5]], ",", "")
			if hasFraction {
				whole += "." + ln.text[m[8]:m[9]]
			}
			value, err := decimal.NewFromString(whole)
			if err != nil || value.GreaterThanOrEqual(maxAmount) {
				continue
			}

			label := labelWindow(ln.text, prevEnd, start)
			if !hasLetters(label) && i > 0 {
				label = headerAbove(lines, i, start, end)
			}
			prevEnd = end

			candidates = append(candidates, bill.AmountCandidate{
				Value:   value,
				Context: label,
				Offset:  ln.start + start,
				Line:    i,
				Raw:     ln.text[start:end],
			})
		}
	}

	return candidates
}

// splitLines splits text on newlines (and form feeds between pages) while
// remembering where each line starts in the original text.
func splitLines(text string) []line {
	lines := make([]line, 0, strings.Count(text, "\n")+1)
	start := 0
	for i, r := range text {
		if r == '\n' || r == '\f' {
			lines = append(lines, line{start: start, text: strings.TrimRight(text[start:i], "\r")})
			start = i + 1
		}
	}
	lines = append(lines, line{start: start, text: text[start:]})
	return lines
}

// standsAlone rejects matches glued to other digits, letters or decimal points,
// such as the middle of "A12345.67B" or "1.234.56". A comma after a complete
// amount is a list separator.
func standsAlone(s string, start, end int, hasFraction bool) bool {
	if start > 0 {
		prev := rune(s[start-1])
		if unicode.IsDigit(prev) || unicode.IsLetter(prev) || prev == '.' {
			return false
		}
	}
	if end < len(s) {
		next := rune(s[end])
		if unicode.IsDigit(next) || unicode.IsLetter(next) {
			return false
		}
		if end+1 < len(s) && unicode.IsDigit(rune(s[end+1])) {
			if next == '.' || (next == ',' && !hasFraction) {
				return false
			}
		}
	}
	return true
}

// labelWindow returns the text between the previous token on the line and
// this one, keeping at most MaxContext bytes closest to the token.
func labelWindow(s string, from, to int) string {
	if to-from > MaxContext {
		from = to - MaxContext
	}
	return s[from:to]
}

// headerAbove returns the text on the nearest non-blank line above at the
// columns spanned by the token, widened to whole words. This covers tables
// where the label sits over the value instead of before it.
func headerAbove(lines []line, idx, start, end int) string {
	for j := idx - 1; j >= 0; j-- {
		above := lines[j].text
		if strings.TrimSpace(above) == "" {
			continue
		}
		if start >= len(above) {
			return ""
		}
		if end > len(above) {
			end = len(above)
		}
		for start > 0 && above[start-1] != ' ' {
			start--
		}
		for end < len(above) && above[end] != ' ' {
			end++
		}
		// a single space separates words inside one header cell
		for end+1 < len(above) && above[end] == ' ' && above[end+1] != ' ' {
			end++
			for end < len(above) && above[end] != ' ' {
				end++
			}
		}
		for start > 1 && above[start-1] == ' ' && above[start-2] != ' ' {
			start--
			for start > 0 && above[start-1] != ' ' {
				start--
			}
		}
		return strings.TrimSpace(above[start:end])
	}
	return ""
}

func hasLetters(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
