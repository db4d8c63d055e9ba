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

// ActivityRow is one transaction line that touches an entity.
type ActivityRow struct {
	TransactionID   string          `json:"transaction_id" yaml:"transaction_id"`
	TransactionCode string          `json:"transaction_code" yaml:"transaction_code"`
	TransactionType string          `json:"transaction_type" yaml:"transaction_type"`
	TransactionDate time.Time       `json:"transaction_date" yaml:"transaction_date"`
	Status          ir.TxStatus     `json:"status" yaml:"status"`
	LineNumber      int             `json:"line_number" yaml:"line_number"`
	LineType        string          `json:"line_type" yaml:"line_type"`
	Side            ir.Side         `json:"side,omitempty" yaml:"side,omitempty"`
	Amount          decimal.Decimal `json:"amount" yaml:"amount"`
}

// EntityActivity lists every line of the caller's transactions that
// references an entity.
type EntityActivity struct {
	EntityID string        `json:"entity_id" yaml:"entity_id"`
	Rows     []ActivityRow `json:"rows" yaml:"rows"`

	// Net is posted debits minus posted credits.
	Net decimal.Decimal `json:"net" yaml:"net"`
}

// BuildEntityActivity returns the lines referencing entityID in any
// status, ordered by transaction date, code and line number. Net counts
// posted lines only.
func BuildEntityActivity(ctx context.Context, r Reader, c engine.Caller, entityID string) (EntityActivity, error) {
	act := EntityActivity{EntityID: entityID, Rows: []ActivityRow{}}

	lines, err := r.ListLines(ctx, c, queryir.Equals{Field: "entity_id", Value: ir.String(entityID)})
	if err != nil {
		return EntityActivity{}, fmt.Errorf("entity activity: %w", err)
	}
	if len(lines) == 0 {
		return act, nil
	}

	seen := make(map[string]bool)
	var ids []string
	for _, l := range lines {
		if !seen[l.TransactionID] {
			seen[l.TransactionID] = true
			ids = append(ids, l.TransactionID)
		}
	}
	hs, err := r.ListTransactions(ctx, c, engine.TransactionFilter{IDs: ids})
	if err != nil {
		return EntityActivity{}, fmt.Errorf("entity activity: %w", err)
	}
	headers := make(map[string]ir.TransactionHeader, len(hs))
	for _, h := range hs {
		headers[h.ID] = h
	}

	for _, l := range lines {
		h, ok := headers[l.TransactionID]
		if !ok {
			continue
		}
		act.Rows = append(act.Rows, ActivityRow{
			TransactionID:   h.ID,
			TransactionCode: h.Code,
			TransactionType: h.TransactionType,
			TransactionDate: h.TransactionDate,
			Status:          h.Status,
			LineNumber:      l.LineNumber,
			LineType:        l.LineType,
			Side:            l.Side,
			Amount:          l.LineAmount,
		})
		if h.Status != ir.TxPosted && h.Status != ir.TxReversed {
			continue
		}
		switch l.Side {
		case ir.Debit:
			act.Net = act.Net.Add(l.LineAmount)
		case ir.Credit:
			act.Net = act.Net.Sub(l.LineAmount)
		}
	}

	sort.Slice(act.Rows, func(i, j int) bool {
		a, b := act.Rows[i], act.Rows[j]
		if !a.TransactionDate.Equal(b.TransactionDate) {
			return a.TransactionDate.Before(b.TransactionDate)
		}
		if a.TransactionCode != b.TransactionCode {
			return a.TransactionCode < b.TransactionCode
		}
		return a.LineNumber < b.LineNumber
	})
	return act, nil
}
