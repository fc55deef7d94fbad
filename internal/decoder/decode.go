package decoder

import (
	"time"

	"github.com/zombor/bill-decoder/internal/bill"
)

// Decode is the audit record of one processed bill
type Decode struct {
	ID          string                 `json:"id"`
	Filename    string                 `json:"filename"`
	ContentType string                 `json:"content_type"`
	StoredFile  string                 `json:"stored_file,omitempty"` // set when uploads are kept
	Details     bill.Details           `json:"details"`
	Candidates  []bill.AmountCandidate `json:"candidates"`
	Fields      bill.Fields            `json:"fields"`
	Verdict     bill.Verdict           `json:"verdict"`
	Plan        *bill.ActionPlan       `json:"plan,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
