// Package placement decides where a proposed attribute belongs: in an
// entity's dynamic fields, in a restricted metadata bucket, or nowhere
// because it is lifecycle state in disguise.
//
// Rules are evaluated in order and the first match wins:
//  1. status / lifecycle names are rejected everywhere; model them as a
//     has_status relationship or a transaction
//  2. business-fact names (price, cost, fee, ...) must be dynamic fields
//  3. a metadata payload is accepted only with an allow-listed category
//  4. everything else is a dynamic field
//
// The same Policy backs run-time enforcement in the engine and the offline
// `hera lint` review.
package placement

import (
	"fmt"
	"strings"
	"unicode"
)

// Placement is where an attribute may be stored.
type Placement string

const (
	DynamicField Placement = "dynamic_field"
	Metadata     Placement = "metadata"
	Rejected     Placement = "rejected"
)

// Stable rule codes carried by every Decision.
const (
	RuleLifecycleState   = "PLACEMENT_LIFECYCLE_STATE"
	RuleBusinessFact     = "PLACEMENT_BUSINESS_FACT"
	RuleMetadataAllowed  = "PLACEMENT_METADATA_ALLOWED"
	RuleMetadataCategory = "PLACEMENT_METADATA_CATEGORY"
	RuleDefault          = "PLACEMENT_DEFAULT"
)

// CategoryKey is the metadata payload key naming the bucket.
const CategoryKey = "category"

// Metadata categories accepted by the default policy.
const (
	CategorySystemAI            = "system_ai"
	CategorySystemObservability = "system_observability"
	CategorySystemAudit         = "system_audit"
)

// Decision is the outcome of a placement proposal.
type Decision struct {
	Field       string    `json:"field" yaml:"field"`
	Placement   Placement `json:"placement" yaml:"placement"`
	Rule        string    `json:"rule" yaml:"rule"`
	Category    string    `json:"category,omitempty" yaml:"category,omitempty"`
	Reason      string    `json:"reason" yaml:"reason"`
	Remediation string    `json:"remediation,omitempty" yaml:"remediation,omitempty"`
}

// Allowed reports whether the attribute may be stored at all.
func (d Decision) Allowed() bool {
	return d.Placement != Rejected
}

// Policy holds the name patterns and the metadata category allow-list.
// Name tokens are matched against the snake_case words of a field name, so
// "unit_price" and "unitPrice" both contain the token "price" while
// "estate_value" does not contain "state".
type Policy struct {
	LifecycleTokens    map[string]bool
	LifecycleNames     map[string]bool
	BusinessFactTokens map[string]bool
	Categories         map[string]bool
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	return &Policy{
		LifecycleTokens: set(
			"status", "state", "lifecycle", "stage", "phase", "workflow",
		),
		LifecycleNames: set(
			"is_active", "is_inactive", "is_deleted", "is_archived", "is_approved",
			"is_cancelled", "is_canceled", "is_completed", "is_closed", "is_open",
		),
		BusinessFactTokens: set(
			"price", "cost", "fee", "duration", "category", "commission", "tax",
			"description", "amount", "rate", "quantity", "qty", "discount", "margin",
			"currency", "weight", "length", "width", "height", "sku", "color",
			"size", "notes", "rating", "salary", "budget", "deposit",
		),
		Categories: set(CategorySystemAI, CategorySystemObservability, CategorySystemAudit),
	}
}

var defaultPolicy = DefaultPolicy()

// Propose evaluates name against the default policy.
// A nil meta means "dynamic field requested"; a non-nil (even empty) meta
// means "store in metadata".
func Propose(name string, meta map[string]any) Decision {
	return defaultPolicy.Propose(name, meta)
}

// Propose evaluates a proposed attribute.
func (p *Policy) Propose(name string, meta map[string]any) Decision {
	field := normalizeName(name)
	tokens := strings.Split(field, "_")

	if p.LifecycleNames[field] || p.anyToken(tokens, p.LifecycleTokens) {
		return Decision{
			Field:     field,
			Placement: Rejected,
			Rule:      RuleLifecycleState,
			Reason:    fmt.Sprintf("%q is lifecycle state, which is never stored as an attribute", name),
			Remediation: "model it as a has_status relationship to a STATUS entity " +
				"(TransitionStatus) or record the change as a transaction",
		}
	}

	if p.anyToken(tokens, p.BusinessFactTokens) {
		return Decision{
			Field:       field,
			Placement:   DynamicField,
			Rule:        RuleBusinessFact,
			Reason:      fmt.Sprintf("%q is a business fact", name),
			Remediation: "store it as a typed dynamic field, never in metadata",
		}
	}

	if meta != nil {
		category, _ := meta[CategoryKey].(string)
		if p.Categories[category] {
			return Decision{
				Field:     field,
				Placement: Metadata,
				Rule:      RuleMetadataAllowed,
				Category:  category,
				Reason:    fmt.Sprintf("metadata category %q is allow-listed", category),
			}
		}
		reason := "metadata payload declares no category"
		if category != "" {
			reason = fmt.Sprintf("metadata category %q is not allow-listed", category)
		}
		return Decision{
			Field:       field,
			Placement:   Rejected,
			Rule:        RuleMetadataCategory,
			Reason:      reason,
			Remediation: fmt.Sprintf("declare %s as one of %s, or store the value as a dynamic field", CategoryKey, p.categoryList()),
		}
	}

	return Decision{
		Field:     field,
		Placement: DynamicField,
		Rule:      RuleDefault,
		Reason:    fmt.Sprintf("%q defaults to a dynamic field", name),
	}
}

func (p *Policy) anyToken(tokens []string, want map[string]bool) bool {
	for _, t := range tokens {
		if want[t] {
			return true
		}
	}
	return false
}

func (p *Policy) categoryList() string {
	// fixed display order
	known := []string{CategorySystemAI, CategorySystemObservability, CategorySystemAudit}
	var out []string
	for _, c := range known {
		if p.Categories[c] {
			out = append(out, c)
		}
	}
	return strings.Join(out, ", ")
}

// normalizeName converts camelCase, kebab-case and spaces to snake_case.
func normalizeName(name string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return b.String()
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
