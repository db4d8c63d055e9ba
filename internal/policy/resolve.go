package policy

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/taxonomy"
)

// Registry holds every known version of every bundle.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	bundles map[string][]ir.PolicyBundle // bundle_id -> versions
}

// NewRegistry returns a registry holding bundles.
func NewRegistry(bundles ...ir.PolicyBundle) (*Registry, error) {
	r := &Registry{bundles: make(map[string][]ir.PolicyBundle)}
	for _, b := range bundles {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds one bundle version. Registering the same (bundle_id,
// version) twice is an error; bundles are immutable once published.
// Bundles with negative tax rates or malformed posting line taxonomy
// codes are refused.
func (r *Registry) Register(b ir.PolicyBundle) error {
	if b.ID == "" {
		return fmt.Errorf("register bundle: empty bundle_id")
	}
	if err := checkBundle(b); err != nil {
		return fmt.Errorf("register bundle %s: %w", b.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.bundles[b.ID] {
		if existing.Version == b.Version {
			return fmt.Errorf("register bundle %s: version %d already registered", b.ID, b.Version)
		}
	}
	r.bundles[b.ID] = append(r.bundles[b.ID], b)
	return nil
}

// checkBundle rejects what would fail every transaction the bundle
// applies to. Full validation lives in the compiler.
func checkBundle(b ir.PolicyBundle) error {
	for _, t := range b.TaxRules {
		if t.Rate.IsNegative() {
			return fmt.Errorf("tax rule %s: rate %s is negative", t.Code, t.Rate)
		}
	}
	for _, rule := range b.PostingRules {
		for i, l := range rule.Lines {
			if _, err := taxonomy.Validate(l.TaxonomyCode); err != nil {
				return fmt.Errorf("posting rule %s line %d: %w", rule.ID, i+1, err)
			}
		}
	}
	return nil
}

// Bundles returns every registered version ordered by (bundle_id, version).
func (r *Registry) Bundles() []ir.PolicyBundle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []ir.PolicyBundle{}
	for _, versions := range r.bundles {
		out = append(out, versions...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Resolve returns the bundles that apply to a transaction context, in
// application order.
//
// Matching bundles are merged, not chosen between:
//  1. per bundle_id only the highest active version participates
//  2. it participates when its match lists accept the transaction type,
//     industry and organization
//  3. the survivors are ordered by priority descending, then bundle_id
//     ascending
//
// Merge turns the ordered set into one Plan.
func (r *Registry) Resolve(transactionType, industry, organizationID string) []ir.PolicyBundle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []ir.PolicyBundle{}
	for _, versions := range r.bundles {
		latest, ok := latestActive(versions)
		if !ok {
			continue
		}
		m := latest.Match
		if matches(m.TransactionTypes, transactionType) &&
			matches(m.Industries, industry) &&
			matches(m.Organizations, organizationID) {
			out = append(out, latest)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func latestActive(versions []ir.PolicyBundle) (ir.PolicyBundle, bool) {
	var (
		best  ir.PolicyBundle
		found bool
	)
	for _, v := range versions {
		if !v.IsActive() {
			continue
		}
		if !found || v.Version > best.Version {
			best, found = v, true
		}
	}
	return best, found
}

func matches(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	return slices.Contains(list, ir.MatchAny) || slices.Contains(list, value)
}

// BundleRef identifies one applied bundle.
type BundleRef struct {
	ID      string `json:"bundle_id"`
	Version int    `json:"version"`
}

// SourcedValidation is a validation rule with the bundle it came from.
type SourcedValidation struct {
	Bundle string
	Rule   ir.ValidationRule
}

// SourcedPosting is a posting rule with the bundle it came from.
type SourcedPosting struct {
	Bundle string
	Rule   ir.PostingRule
}

// Plan is the merged view of an ordered bundle set.
type Plan struct {
	Bundles         []BundleRef
	RequiredFields  []string
	Validations     []SourcedValidation
	TaxRules        []ir.TaxRule
	PostingRules    []SourcedPosting
	SuspenseAccount string
}

// Merge folds resolved bundles (in Resolve order) into a Plan:
// validations and posting rules concatenate, required fields union in
// first-seen order, tax rules merge by code with the first bundle winning,
// and the suspense account comes from the first bundle that names one.
func Merge(bundles []ir.PolicyBundle) Plan {
	plan := Plan{Bundles: []BundleRef{}}
	seenField := make(map[string]bool)
	seenTax := make(map[string]bool)

	for _, b := range bundles {
		plan.Bundles = append(plan.Bundles, BundleRef{ID: b.ID, Version: b.Version})
		for _, f := range b.RequiredFields {
			if !seenField[f] {
				seenField[f] = true
				plan.RequiredFields = append(plan.RequiredFields, f)
			}
		}
		for _, v := range b.Validations {
			plan.Validations = append(plan.Validations, SourcedValidation{Bundle: b.ID, Rule: v})
		}
		for _, t := range b.TaxRules {
			if !seenTax[t.Code] {
				seenTax[t.Code] = true
				plan.TaxRules = append(plan.TaxRules, t)
			}
		}
		for _, p := range b.PostingRules {
			plan.PostingRules = append(plan.PostingRules, SourcedPosting{Bundle: b.ID, Rule: p})
		}
		if plan.SuspenseAccount == "" && b.SuspenseAccount != "" {
			plan.SuspenseAccount = b.SuspenseAccount
		}
	}
	return plan
}
