// Package report derives read-only views from the ledger and the entity
// graph: trial balances, per-entity activity and hierarchy rollups.
//
// Reports never write. They go through the engine's read operations, so
// organization scoping is the same as for any other caller.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/hera/internal/engine"
	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
)

// Reader is the subset of the engine reports depend on.
type Reader interface {
	ListTransactions(ctx context.Context, c engine.Caller, f engine.TransactionFilter) ([]ir.TransactionHeader, error)
	ListLines(ctx context.Context, c engine.Caller, where queryir.Predicate) ([]ir.TransactionLine, error)
	ReadEntities(ctx context.Context, c engine.Caller, f engine.EntityFilter) ([]ir.Entity, error)
	BuildHierarchy(ctx context.Context, c engine.Caller, root queryir.Predicate) ([]*engine.HierarchyNode, error)
	Precision() int32
}

// Unassigned labels ledger lines that reference no entity.
const Unassigned = "(unassigned)"

// postedStatuses are the statuses whose lines affect balances. A
// REVERSED transaction was posted; its REVERSAL offsets it.
var postedStatuses = []ir.TxStatus{ir.TxPosted, ir.TxReversed}

// BalanceRow is the ledger position of one entity.
type BalanceRow struct {
	EntityID   string          `json:"entity_id" yaml:"entity_id"`
	EntityCode string          `json:"entity_code" yaml:"entity_code"`
	EntityName string          `json:"entity_name" yaml:"entity_name"`
	Debit      decimal.Decimal `json:"debit" yaml:"debit"`
	Credit     decimal.Decimal `json:"credit" yaml:"credit"`
}

// Balance is Debit minus Credit.
func (r BalanceRow) Balance() decimal.Decimal {
	return r.Debit.Sub(r.Credit)
}

// TrialBalance sums posted ledger lines per entity.
type TrialBalance struct {
	OrganizationID string          `json:"organization_id" yaml:"organization_id"`
	AsOf           *time.Time      `json:"as_of,omitempty" yaml:"as_of,omitempty"`
	Rows           []BalanceRow    `json:"rows" yaml:"rows"`
	Debit          decimal.Decimal `json:"debit" yaml:"debit"`
	Credit         decimal.Decimal `json:"credit" yaml:"credit"`
	Precision      int32           `json:"-" yaml:"-"`
}

// Balanced reports whether total debits equal total credits at the
// report precision.
func (tb TrialBalance) Balanced() bool {
	return tb.Debit.Round(tb.Precision).Equal(tb.Credit.Round(tb.Precision))
}

// Balances maps entity id to Balance, for HierarchyRollup.
func (tb TrialBalance) Balances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(tb.Rows))
	for _, r := range tb.Rows {
		out[r.EntityID] = r.Balance()
	}
	return out
}

// TrialBalanceOptions narrows a trial balance.
type TrialBalanceOptions struct {
	// AsOf excludes transactions dated after it. Zero means no cutoff.
	AsOf time.Time
}

// BuildTrialBalance totals the caller organization's posted ledger lines
// per entity. Rows are ordered by entity code, unassigned lines last.
func BuildTrialBalance(ctx context.Context, r Reader, c engine.Caller, opts TrialBalanceOptions) (TrialBalance, error) {
	tb := TrialBalance{OrganizationID: c.OrganizationID, Rows: []BalanceRow{}, Precision: r.Precision()}
	if !opts.AsOf.IsZero() {
		asOf := opts.AsOf.UTC()
		tb.AsOf = &asOf
	}

	var ids []string
	for _, st := range postedStatuses {
		hs, err := r.ListTransactions(ctx, c, engine.TransactionFilter{Status: st})
		if err != nil {
			return TrialBalance{}, fmt.Errorf("trial balance: %w", err)
		}
		for _, h := range hs {
			if tb.AsOf != nil && h.TransactionDate.After(*tb.AsOf) {
				continue
			}
			ids = append(ids, h.ID)
		}
	}
	if len(ids) == 0 {
		return tb, nil
	}

	lines, err := r.ListLines(ctx, c, queryir.In{Field: "transaction_id", Values: queryir.Strings(ids...)})
	if err != nil {
		return TrialBalance{}, fmt.Errorf("trial balance: %w", err)
	}

	rows := make(map[string]*BalanceRow)
	for _, l := range lines {
		if l.Side == "" {
			continue
		}
		row := rows[l.EntityID]
		if row == nil {
			row = &BalanceRow{EntityID: l.EntityID, EntityCode: Unassigned, EntityName: Unassigned}
			rows[l.EntityID] = row
		}
		switch l.Side {
		case ir.Debit:
			row.Debit = row.Debit.Add(l.LineAmount)
			tb.Debit = tb.Debit.Add(l.LineAmount)
		case ir.Credit:
			row.Credit = row.Credit.Add(l.LineAmount)
			tb.Credit = tb.Credit.Add(l.LineAmount)
		}
	}

	if err := label(ctx, r, c, rows); err != nil {
		return TrialBalance{}, err
	}
	for _, row := range rows {
		tb.Rows = append(tb.Rows, *row)
	}
	sort.Slice(tb.Rows, func(i, j int) bool {
		a, b := tb.Rows[i], tb.Rows[j]
		if (a.EntityID == "") != (b.EntityID == "") {
			return b.EntityID == ""
		}
		if a.EntityCode != b.EntityCode {
			return a.EntityCode < b.EntityCode
		}
		return a.EntityID < b.EntityID
	})
	return tb, nil
}

// label fills code and name for every row that references an entity.
func label(ctx context.Context, r Reader, c engine.Caller, rows map[string]*BalanceRow) error {
	ids := make([]string, 0, len(rows))
	for id := range rows {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	ents, err := r.ReadEntities(ctx, c, engine.EntityFilter{IDs: ids, IncludePlatform: true})
	if err != nil {
		return fmt.Errorf("label rows: %w", err)
	}
	for _, ent := range ents {
		if row := rows[ent.ID]; row != nil {
			row.EntityCode = ent.Code
			row.EntityName = ent.Name
		}
	}
	return nil
}
