package bill

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnreadableDocument is returned when neither a PDF text layer nor OCR
	// produced any text for a document.
	ErrUnreadableDocument = errors.New("unreadable document")

	// ErrIncompleteData is returned when there is not enough classified data
	// to generate an action plan.
	ErrIncompleteData = errors.New("incomplete bill data")
)

// Media types accepted for uploaded documents
const (
	MediaTypePDF  = "application/pdf"
	MediaTypePNG  = "image/png"
	MediaTypeJPEG = "image/jpeg"
	MediaTypeGIF  = "image/gif"
	MediaTypeHEIC = "image/heic"
	MediaTypeHEIF = "image/heif"
)

// Document is an uploaded bill: raw bytes plus the declared media type
type Document struct {
	Name      string
	Data      []byte
	MediaType string
}

// IsPDF reports whether the document declares a PDF media type
func (d Document) IsPDF() bool {
	return strings.EqualFold(strings.TrimSpace(d.MediaType), MediaTypePDF)
}

// AmountCandidate is a currency-like token found in the raw text
type AmountCandidate struct {
	Value decimal.Decimal `json:"value"`
	// Context is the label text the token was found next to
	Context string `json:"context"`
	// Offset is the byte offset of the token within the raw text
	Offset int    `json:"offset"`
	Line   int    `json:"line"`
	Raw    string `json:"raw"`
}

// Field names a semantic slot a candidate amount can fill
type Field string

const (
	FieldBilled                Field = "billed"
	FieldAllowed               Field = "allowed"
	FieldPatientResponsibility Field = "patient_responsibility"
	FieldInsurerPaid           Field = "insurer_paid"
)

// Fields holds the classified bill amounts. An unset amount is "no data",
// never zero.
type Fields struct {
	BilledAmount          decimal.NullDecimal `json:"billed_amount"`
	AllowedAmount         decimal.NullDecimal `json:"allowed_amount"`
	PatientResponsibility decimal.NullDecimal `json:"patient_responsibility"`
	InsurerPaid           decimal.NullDecimal `json:"insurer_paid"`
	Warnings              []string            `json:"warnings,omitempty"`
}

// Get returns the amount held for a field
func (f Fields) Get(field Field) decimal.NullDecimal {
	switch field {
	case FieldBilled:
		return f.BilledAmount
	case FieldAllowed:
		return f.AllowedAmount
	case FieldPatientResponsibility:
		return f.PatientResponsibility
	case FieldInsurerPaid:
		return f.InsurerPaid
	}
	return decimal.NullDecimal{}
}

// IsEmpty reports whether no amount was classified at all
func (f Fields) IsEmpty() bool {
	return !f.BilledAmount.Valid && !f.AllowedAmount.Valid &&
		!f.PatientResponsibility.Valid && !f.InsurerPaid.Valid
}

// Details are header facts recovered from the bill text. Unknown values are
// left empty.
type Details struct {
	Provider    string `json:"provider,omitempty"`
	ServiceDate string `json:"service_date,omitempty"`
	Procedure   string `json:"procedure,omitempty"`
}

// Severity grades how far the billed amount exceeds its reference
type Severity int

const (
	SeverityNone Severity = iota
	SeverityModerate
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityModerate:
		return "moderate"
	case SeverityHigh:
		return "high"
	default:
		return "none"
	}
}

// MarshalText encodes the severity by name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*s = SeverityNone
	case "moderate":
		*s = SeverityModerate
	case "high":
		*s = SeverityHigh
	default:
		return fmt.Errorf("unknown severity %q", string(text))
	}
	return nil
}

// Basis records which figure the overcharge ratio was computed against
const (
	BasisAllowed   = "allowed"
	BasisReference = "reference"
)

// Verdict is the overcharge judgement derived from Fields
type Verdict struct {
	IsOvercharged          bool                `json:"is_overcharged"`
	Severity               Severity            `json:"severity"`
	Ratio                  decimal.NullDecimal `json:"ratio"`
	Reference              decimal.NullDecimal `json:"reference"`
	Basis                  string              `json:"basis,omitempty"`
	ExpectedResponsibility decimal.NullDecimal `json:"expected_responsibility"`
	EstimatedOvercharge    decimal.NullDecimal `json:"estimated_overcharge"`
	Issues                 []string            `json:"issues,omitempty"`
}

// ActionPlan holds the generated dispute material
type ActionPlan struct {
	PhoneScript   string   `json:"phone_script"`
	EmailTemplate string   `json:"email_template"`
	Checklist     []string `json:"checklist"`
}

// FormatAmount renders an amount as dollars, or the fallback when unset
func FormatAmount(v decimal.NullDecimal, fallback string) string {
	if !v.Valid {
		return fallback
	}
	return "$" + v.Decimal.StringFixed(2)
}
