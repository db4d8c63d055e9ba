package ir

import "github.com/shopspring/decimal"

// Bundle status values.
const (
	BundleActive   = "active"
	BundleInactive = "inactive"
)

// MatchAny is the wildcard accepted in any BundleMatch list.
const MatchAny = "*"

// PolicyBundle is a versioned, data-described set of validation, tax and
// posting rules matched to a transaction context. Expressions are strings
// interpreted by the policy package; nothing here executes.
type PolicyBundle struct {
	ID              string           `json:"bundle_id"`
	Version         int              `json:"version"`
	Priority        int              `json:"priority"`
	Status          string           `json:"status"`
	Description     string           `json:"description,omitempty"`
	Match           BundleMatch      `json:"match"`
	RequiredFields  []string         `json:"required_fields,omitempty"`
	Validations     []ValidationRule `json:"validations,omitempty"`
	TaxRules        []TaxRule        `json:"tax_rules,omitempty"`
	PostingRules    []PostingRule    `json:"posting_rules,omitempty"`
	SuspenseAccount string           `json:"suspense_account,omitempty"`
}

// IsActive reports whether the bundle participates in resolution.
func (b PolicyBundle) IsActive() bool {
	return b.Status == "" || b.Status == BundleActive
}

// BundleMatch selects the transactions a bundle applies to. An empty list
// or one containing "*" matches anything.
type BundleMatch struct {
	TransactionTypes []string `json:"transaction_types,omitempty"`
	Industries       []string `json:"industries,omitempty"`
	Organizations    []string `json:"organizations,omitempty"`
}

// ValidationRule is a boolean expression that must hold for the
// transaction to be accepted.
type ValidationRule struct {
	ID      string `json:"id"`
	Expr    string `json:"expr"`
	Message string `json:"message,omitempty"`
}

// TaxRule splits Basis into net and tax at Rate. Inclusive means Basis
// already contains the tax.
type TaxRule struct {
	Code      string          `json:"code"`
	Rate      decimal.Decimal `json:"rate"`
	Basis     string          `json:"basis"`
	Inclusive bool            `json:"inclusive"`
}

// PostingRule emits Lines when the When predicate holds. An empty When
// always holds.
type PostingRule struct {
	ID    string            `json:"id"`
	When  string            `json:"when,omitempty"`
	Lines []PostingLineSpec `json:"lines"`
}

// PostingLineSpec is the template of one derived ledger line.
type PostingLineSpec struct {
	Account      string `json:"account"`
	Side         Side   `json:"side"`
	Amount       string `json:"amount"`
	LineType     string `json:"line_type,omitempty"`
	TaxonomyCode string `json:"taxonomy_code"`
}
