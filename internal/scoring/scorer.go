package scoring

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/zombor/bill-decoder/internal/bill"
)

// Default tuning. A ratio at or below LowRatio is not an overcharge, a ratio
// above HighRatio is a high overcharge, anything between is moderate.
const (
	DefaultLowRatio    = 1.2
	DefaultHighRatio   = 2.0
	DefaultCoinsurance = 0.20
)

// significantMarkup is the billed/allowed ratio above which an issue is raised
var significantMarkup = decimal.RequireFromString("1.5")

// Thresholds configures the severity bands and the coinsurance rate used to
// estimate what the patient should owe.
type Thresholds struct {
	LowRatio    decimal.Decimal
	HighRatio   decimal.Decimal
	Coinsurance decimal.Decimal
}

// DefaultThresholds returns the built-in thresholds
func DefaultThresholds() Thresholds {
	t, _ := NewThresholds(DefaultLowRatio, DefaultHighRatio, DefaultCoinsurance)
	return t
}

// NewThresholds validates and builds thresholds from plain numbers
func NewThresholds(lowRatio, highRatio, coinsurance float64) (Thresholds, error) {
	if lowRatio <= 0 || highRatio <= lowRatio {
		return Thresholds{}, fmt.Errorf("invalid ratio thresholds: low %v must be positive and below high %v", lowRatio, highRatio)
	}
	if coinsurance < 0 || coinsurance > 1 {
		return Thresholds{}, fmt.Errorf("invalid coinsurance %v: must be between 0 and 1", coinsurance)
	}
	return Thresholds{
		LowRatio:    decimal.NewFromFloat(lowRatio),
		HighRatio:   decimal.NewFromFloat(highRatio),
		Coinsurance: decimal.NewFromFloat(coinsurance),
	}, nil
}

// Severity grades a billed/reference ratio
func (t Thresholds) Severity(ratio decimal.Decimal) bill.Severity {
	switch {
	case ratio.LessThanOrEqual(t.LowRatio):
		return bill.SeverityNone
	case ratio.LessThanOrEqual(t.HighRatio):
		return bill.SeverityModerate
	default:
		return bill.SeverityHigh
	}
}

// Scorer compares billed amounts against a reference price
type Scorer struct {
	thresholds Thresholds
	references ReferenceLookup
}

// NewScorer creates a Scorer. A nil lookup uses the built-in reference table.
func NewScorer(thresholds Thresholds, references ReferenceLookup) *Scorer {
	if references == nil {
		references = DefaultReferences()
	}
	return &Scorer{
		thresholds: thresholds,
		references: references,
	}
}

// Score judges the fields against the default reference category
func (s *Scorer) Score(fields bill.Fields) bill.Verdict {
	return s.ScoreFor(fields, "")
}

// ScoreFor judges the fields. The allowed amount is the reference when the
// bill has one, otherwise the reference price for the procedure category.
// Without a billed amount, or without any reference, the verdict is degraded:
// severity none with no ratio.
func (s *Scorer) ScoreFor(fields bill.Fields, category string) bill.Verdict {
	var verdict bill.Verdict
	if !fields.BilledAmount.Valid {
		slog.Debug("skipping overcharge scoring without billed amount")
		return verdict
	}
	billed := fields.BilledAmount.Decimal

	var reference decimal.Decimal
	switch {
	case fields.AllowedAmount.Valid && fields.AllowedAmount.Decimal.IsPositive():
		reference = fields.AllowedAmount.Decimal
		verdict.Basis = bill.BasisAllowed
	default:
		price, ok := s.references.Lookup(category)
		if !ok || !price.IsPositive() {
			slog.Debug("no reference price for overcharge scoring", "category", category)
			return verdict
		}
		reference = price
		verdict.Basis = bill.BasisReference
	}

	ratio := billed.Div(reference)
	verdict.Ratio = decimal.NewNullDecimal(ratio)
	verdict.Reference = decimal.NewNullDecimal(reference)
	verdict.Severity = s.thresholds.Severity(ratio)
	verdict.IsOvercharged = verdict.Severity != bill.SeverityNone

	expected := reference.Mul(s.thresholds.Coinsurance).Round(2)
	verdict.ExpectedResponsibility = decimal.NewNullDecimal(expected)
	if fields.PatientResponsibility.Valid {
		over := decimal.Max(decimal.Zero, fields.PatientResponsibility.Decimal.Sub(expected))
		verdict.EstimatedOvercharge = decimal.NewNullDecimal(over)
	}

	verdict.Issues = s.issues(verdict, billed, reference)

	slog.Debug("scored bill",
		"ratio", ratio.StringFixed(2),
		"basis", verdict.Basis,
		"severity", verdict.Severity.String(),
	)

	return verdict
}

func (s *Scorer) issues(v bill.Verdict, billed, reference decimal.Decimal) []string {
	var issues []string
	switch {
	case v.Basis == bill.BasisAllowed && billed.GreaterThan(reference.Mul(significantMarkup)):
		issues = append(issues, "Billed amount appears significantly higher than the plan's allowed amount.")
	case v.Basis == bill.BasisReference && v.IsOvercharged:
		issues = append(issues, fmt.Sprintf("Billed amount is roughly %sx the typical price for this procedure.", v.Ratio.Decimal.StringFixed(1)))
	}
	if v.EstimatedOvercharge.Valid && v.EstimatedOvercharge.Decimal.IsPositive() {
		issues = append(issues, "Patient responsibility looks higher than expected for a typical coinsurance rate.")
	}
	return issues
}
