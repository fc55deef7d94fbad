package classify

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/zombor/bill-decoder/internal/bill"
)

// Strength ranks how well a candidate's context matched a rule
type Strength int

const (
	NoMatch Strength = iota
	PartialMatch
	ExactMatch
)

// Rule maps a field to the labels that identify it. Exact phrases must appear
// as whole words in order; partial words are weaker single-word hints.
type Rule struct {
	Field   bill.Field
	Exact   []string
	Partial []string
}

// Rules is the label table, in priority order. When one candidate matches two
// fields equally well it goes to the field listed first.
var Rules = []Rule{
	{
		Field: bill.FieldPatientResponsibility,
		Exact: []string{
			"you owe", "amount you owe", "patient responsibility", "amount due",
			"balance due", "total due", "pay this amount", "your balance",
			"amount owed", "pay now", "patient balance", "your responsibility",
		},
		Partial: []string{"owe", "due", "responsibility", "balance"},
	},
	{
		Field: bill.FieldAllowed,
		Exact: []string{
			"allowed amount", "plan allowed", "amount allowed", "eligible amount",
			"allowed charges", "approved amount",
		},
		Partial: []string{"allowed", "eligible", "allowable"},
	},
	{
		Field: bill.FieldInsurerPaid,
		Exact: []string{
			"insurance paid", "plan paid", "benefit paid", "insurance payment",
			"insurer paid", "plan payment", "paid by insurance",
		},
		Partial: []string{"paid", "payment"},
	},
	{
		Field: bill.FieldBilled,
		Exact: []string{
			"total charges", "amount billed", "billed amount", "total billed",
			"total amount", "total lab charges", "total charge", "billed charges",
		},
		Partial: []string{"charges", "charge", "billed", "total"},
	},
}

// Classifier assigns candidate amounts to bill fields using a rule table
type Classifier struct {
	rules []Rule
}

// New returns a Classifier over the given rules, or the default table when
// none are given.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = Rules
	}
	return &Classifier{rules: rules}
}

// Classify assigns candidates to fields with the default rule table
func Classify(candidates []bill.AmountCandidate) bill.Fields {
	return New().Classify(candidates)
}

type choice struct {
	candidate bill.AmountCandidate
	strength  Strength
}

// Classify picks at most one candidate per field. Each candidate is offered
// only to the field it matches best, so no candidate fills two fields. Within
// a field an exact match beats a partial one and a later candidate beats an
// earlier one. Fields with no match stay unset.
func (c *Classifier) Classify(candidates []bill.AmountCandidate) bill.Fields {
	chosen := make(map[bill.Field]choice, len(c.rules))

	for _, cand := range candidates {
		words := normalize(cand.Context)
		field, strength := c.bestField(words)
		if strength == NoMatch {
			continue
		}
		current, ok := chosen[field]
		// candidates arrive in document order, so >= keeps the later one on ties
		if !ok || strength >= current.strength {
			chosen[field] = choice{candidate: cand, strength: strength}
		}
	}

	var fields bill.Fields
	set := func(field bill.Field) decimal.NullDecimal {
		ch, ok := chosen[field]
		if !ok {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(ch.candidate.Value)
	}
	fields.BilledAmount = set(bill.FieldBilled)
	fields.AllowedAmount = set(bill.FieldAllowed)
	fields.PatientResponsibility = set(bill.FieldPatientResponsibility)
	fields.InsurerPaid = set(bill.FieldInsurerPaid)
	fields.Warnings = consistencyWarnings(fields)

	slog.Debug("classified bill fields",
		"candidates", len(candidates),
		"billed", fields.BilledAmount.Valid,
		"allowed", fields.AllowedAmount.Valid,
		"patient_responsibility", fields.PatientResponsibility.Valid,
		"warnings", len(fields.Warnings),
	)

	return fields
}

// bestField returns the field a context matches most strongly, preferring
// earlier rules on equal strength.
func (c *Classifier) bestField(words string) (bill.Field, Strength) {
	var (
		bestField    bill.Field
		bestStrength = NoMatch
	)
	for _, rule := range c.rules {
		if s := Match(rule, words); s > bestStrength {
			bestField, bestStrength = rule.Field, s
		}
	}
	return bestField, bestStrength
}

// Match reports how strongly normalized context words match a rule
func Match(rule Rule, words string) Strength {
	for _, phrase := range rule.Exact {
		if strings.Contains(words, " "+phrase+" ") {
			return ExactMatch
		}
	}
	for _, word := range rule.Partial {
		if strings.Contains(words, " "+word+" ") {
			return PartialMatch
		}
	}
	return NoMatch
}

// normalize lowercases text and reduces it to space separated words padded
// with a leading and trailing space, so phrases can be matched on word
// boundaries with a plain substring search.
func normalize(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(words, " ") + " "
}

func consistencyWarnings(f bill.Fields) []string {
	var warnings []string
	if f.PatientResponsibility.Valid && f.BilledAmount.Valid &&
		f.PatientResponsibility.Decimal.GreaterThan(f.BilledAmount.Decimal) {
		warnings = append(warnings, "Patient responsibility is higher than the billed amount; the figures may have been misread.")
	}
	if f.AllowedAmount.Valid && f.BilledAmount.Valid &&
		f.AllowedAmount.Decimal.GreaterThan(f.BilledAmount.Decimal) {
		warnings = append(warnings, "Allowed amount is higher than the billed amount; the figures may have been misread.")
	}
	return warnings
}
