package plan

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/zombor/bill-decoder/internal/bill"
)

// NotAvailable stands in for any amount the bill did not yield
const NotAvailable = "not available"

const phoneScript = `Hi, I'm calling about a bill{{if .Procedure}} for {{.Procedure}}{{end}}{{if .ServiceDate}} on {{.ServiceDate}}{{end}}{{if .Provider}} from {{.Provider}}{{end}}. ` +
	`The bill lists total charges of {{.Billed}} and says I owe {{.PatientResponsibility}}. ` +
	`The allowed amount I have on file is {{.Allowed}}. ` +
	`{{.SeverityWording}} ` +
	`Can you help me review the allowed amount and my cost share, and confirm whether an adjustment is possible?`

const emailTemplate = `Subject: Request to review {{if .Procedure}}{{.Procedure}} {{end}}bill for possible overcharge

Hello,

I am writing about a bill{{if .ServiceDate}} for services on {{.ServiceDate}}{{end}}{{if .Provider}} at {{.Provider}}{{end}}. The bill lists total charges of {{.Billed}} and {{.PatientResponsibility}} as my responsibility. The allowed amount is {{.Allowed}}{{if .Expected}}, and based on a typical coinsurance rate I would expect to owe about {{.Expected}}{{end}}.

{{.SeverityWording}}

Could you please review the allowed amount and my cost share, and let me know if an adjustment is possible? Please send me an itemized bill if one is available.

Thank you.`

var (
	phoneTmpl = template.Must(template.New("phone").Parse(phoneScript))
	emailTmpl = template.Must(template.New("email").Parse(emailTemplate))
)

// Checklist is the fixed list of steps attached to every plan
var Checklist = []string{
	"Download your Explanation of Benefits (EOB) for this service.",
	"Request an itemized bill from the provider.",
	"Write down the date, time, and name of anyone you speak with.",
	"Save any emails or letters you send or receive.",
}

// values are the named placeholders available to both templates
type values struct {
	Billed                string
	Allowed               string
	PatientResponsibility string
	Expected              string
	SeverityWording       string
	Provider              string
	ServiceDate           string
	Procedure             string
}

// Generate fills the phone script and email template from the fields and
// verdict. It fails with bill.ErrIncompleteData when neither the billed amount
// nor the patient responsibility is known.
func Generate(fields bill.Fields, verdict bill.Verdict) (bill.ActionPlan, error) {
	return GenerateFor(bill.Details{}, fields, verdict)
}

// GenerateFor is Generate with provider, date and procedure filled in where known
func GenerateFor(details bill.Details, fields bill.Fields, verdict bill.Verdict) (bill.ActionPlan, error) {
	if !fields.BilledAmount.Valid && !fields.PatientResponsibility.Valid {
		return bill.ActionPlan{}, fmt.Errorf("generating action plan: %w", bill.ErrIncompleteData)
	}

	v := values{
		Billed:                bill.FormatAmount(fields.BilledAmount, NotAvailable),
		Allowed:               bill.FormatAmount(fields.AllowedAmount, NotAvailable),
		PatientResponsibility: bill.FormatAmount(fields.PatientResponsibility, NotAvailable),
		Expected:              expectedShare(verdict),
		SeverityWording:       severityWording(verdict),
		Provider:              details.Provider,
		ServiceDate:           details.ServiceDate,
		Procedure:             procedureLabel(details.Procedure),
	}

	phone, err := render(phoneTmpl, v)
	if err != nil {
		return bill.ActionPlan{}, err
	}
	email, err := render(emailTmpl, v)
	if err != nil {
		return bill.ActionPlan{}, err
	}

	return bill.ActionPlan{
		PhoneScript:   phone,
		EmailTemplate: email,
		Checklist:     append([]string(nil), Checklist...),
	}, nil
}

// expectedShare is only quoted when it comes from the bill's own allowed
// amount. A share of an illustrative reference price is not a figure to
// put in writing.
func expectedShare(verdict bill.Verdict) string {
	if verdict.Basis != bill.BasisAllowed {
		return ""
	}
	return bill.FormatAmount(verdict.ExpectedResponsibility, "")
}

func render(t *template.Template, v values) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, v); err != nil {
		return "", fmt.Errorf("rendering %s template: %w", t.Name(), err)
	}
	return b.String(), nil
}

func severityWording(v bill.Verdict) string {
	against := "the expected price"
	if v.Basis == bill.BasisAllowed {
		against = "the allowed amount"
	}
	switch v.Severity {
	case bill.SeverityHigh:
		return fmt.Sprintf("The billed amount is far above %s, which looks like a significant overcharge.", against)
	case bill.SeverityModerate:
		return fmt.Sprintf("The billed amount is noticeably higher than %s, which may be an overcharge.", against)
	}
	if !v.Ratio.Valid {
		return "I was not able to compare the charges against a reference price, so I would like to confirm they are correct."
	}
	return fmt.Sprintf("The charges look close to %s, but I would like to confirm my share is correct.", against)
}

func procedureLabel(code string) string {
	if code == "" {
		return ""
	}
	return "CPT " + code
}
