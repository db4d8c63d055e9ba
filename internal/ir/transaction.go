package ir

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus is the workflow state of a transaction header.
type TxStatus string

const (
	TxDraft     TxStatus = "DRAFT"
	TxSubmitted TxStatus = "SUBMITTED"
	TxApproved  TxStatus = "APPROVED"
	TxRejected  TxStatus = "REJECTED"
	TxPosted    TxStatus = "POSTED"
	TxReversed  TxStatus = "REVERSED"
)

// Side marks a ledger line as debit or credit. Empty for non-ledger lines.
type Side string

const (
	Debit  Side = "DR"
	Credit Side = "CR"
)

// Valid reports whether s is empty, DR or CR.
func (s Side) Valid() bool {
	return s == "" || s == Debit || s == Credit
}

// Opposite swaps DR and CR.
func (s Side) Opposite() Side {
	switch s {
	case Debit:
		return Credit
	case Credit:
		return Debit
	}
	return s
}

// TransactionTypeReversal is the type of engine-generated reversing
// transactions.
const TransactionTypeReversal = "REVERSAL"

// Reserved header metadata keys.
const (
	MetaStatusHistory = "status_history"
	MetaReversalOf    = "reversal_of"
	MetaReversedBy    = "reversed_by"
	MetaBundles       = "policy_bundles"
	MetaLinesDigest   = "derived_lines_digest"
)

// TransactionHeader is the append-only head of a transaction.
type TransactionHeader struct {
	ID              string          `json:"id"`
	OrganizationID  string          `json:"organization_id"`
	TransactionType string          `json:"transaction_type"`
	Code            string          `json:"code"`
	TaxonomyCode    string          `json:"taxonomy_code"`
	TransactionDate time.Time       `json:"transaction_date"`
	SourceEntityID  string          `json:"source_entity_id,omitempty"`
	TargetEntityID  string          `json:"target_entity_id,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency,omitempty"`
	Status          TxStatus        `json:"status"`

	// Payload is the business input posting rules compute from.
	Payload Object `json:"payload,omitempty"`

	// Metadata is merged on every transition, never replaced.
	Metadata Object `json:"metadata,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransactionLine is one line of a transaction. LineNumber is dense from 1.
type TransactionLine struct {
	TransactionID string          `json:"transaction_id"`
	LineNumber    int             `json:"line_number"`
	LineType      string          `json:"line_type"`
	EntityID      string          `json:"entity_id,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitAmount    decimal.Decimal `json:"unit_amount"`
	LineAmount    decimal.Decimal `json:"line_amount"`
	TaxonomyCode  string          `json:"taxonomy_code"`
	Side          Side            `json:"side,omitempty"`

	// Data carries caller idempotency keys and, for derived lines, the
	// originating posting rule.
	Data Object `json:"line_data,omitempty"`
}

// IsLedger reports whether any line carries a DR/CR side.
func IsLedger(lines []TransactionLine) bool {
	for _, l := range lines {
		if l.Side != "" {
			return true
		}
	}
	return false
}

// SideTotals sums LineAmount per side.
func SideTotals(lines []TransactionLine) (dr, cr decimal.Decimal) {
	dr, cr = decimal.Zero, decimal.Zero
	for _, l := range lines {
		switch l.Side {
		case Debit:
			dr = dr.Add(l.LineAmount)
		case Credit:
			cr = cr.Add(l.LineAmount)
		}
	}
	return dr, cr
}

// Balanced reports whether DR and CR totals agree at the given decimal
// precision.
func Balanced(lines []TransactionLine, precision int32) bool {
	dr, cr := SideTotals(lines)
	return dr.Round(precision).Equal(cr.Round(precision))
}
