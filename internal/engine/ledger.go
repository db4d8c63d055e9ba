package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/policy"
	"github.com/roach88/hera/internal/queryir"
	"github.com/roach88/hera/internal/store"
)

// LineInput is one transaction line. When Quantity and UnitAmount are
// both zero the line is one unit of LineAmount; when LineAmount is zero
// it is Quantity * UnitAmount.
type LineInput struct {
	LineType     string          `json:"line_type" yaml:"line_type" validate:"required"`
	EntityID     string          `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	Quantity     decimal.Decimal `json:"quantity" yaml:"quantity"`
	UnitAmount   decimal.Decimal `json:"unit_amount" yaml:"unit_amount"`
	LineAmount   decimal.Decimal `json:"line_amount" yaml:"line_amount"`
	TaxonomyCode string          `json:"taxonomy_code" yaml:"taxonomy_code" validate:"required"`
	Side         ir.Side         `json:"side,omitempty" yaml:"side,omitempty"`
	Data         ir.Object       `json:"line_data,omitempty" yaml:"line_data,omitempty"`
}

// TransactionInput describes a new transaction. It always starts in
// DRAFT.
type TransactionInput struct {
	ID              string          `json:"id,omitempty" yaml:"id,omitempty"`
	TransactionType string          `json:"transaction_type" yaml:"transaction_type" validate:"required"`
	Code            string          `json:"code" yaml:"code" validate:"required"`
	TaxonomyCode    string          `json:"taxonomy_code" yaml:"taxonomy_code" validate:"required"`
	TransactionDate time.Time       `json:"transaction_date" yaml:"transaction_date"`
	SourceEntityID  string          `json:"source_entity_id,omitempty" yaml:"source_entity_id,omitempty"`
	TargetEntityID  string          `json:"target_entity_id,omitempty" yaml:"target_entity_id,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount" yaml:"total_amount"`
	Currency        string          `json:"currency,omitempty" yaml:"currency,omitempty"`
	Payload         ir.Object       `json:"payload,omitempty" yaml:"payload,omitempty"`
	Metadata        ir.Object       `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Lines           []LineInput     `json:"lines,omitempty" yaml:"lines,omitempty" validate:"dive"`
}

// TransitionInput moves a transaction along the workflow. Metadata is
// merged into the header's metadata.
type TransitionInput struct {
	ID       string      `json:"id" yaml:"id" validate:"required"`
	To       ir.TxStatus `json:"to" yaml:"to" validate:"required"`
	Reason   string      `json:"reason,omitempty" yaml:"reason,omitempty"`
	Metadata ir.Object   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ReverseInput describes the reversing transaction. Code defaults to the
// original code with a "-REV" suffix and TransactionDate to today.
type ReverseInput struct {
	Code            string    `json:"code,omitempty" yaml:"code,omitempty"`
	TransactionDate time.Time `json:"transaction_date" yaml:"transaction_date"`
	Reason          string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// TransactionRecord is a header with its lines in line-number order.
type TransactionRecord struct {
	Header ir.TransactionHeader `json:"header"`
	Lines  []ir.TransactionLine `json:"lines"`
}

// TransactionFilter selects transaction headers.
type TransactionFilter struct {
	IDs             []string    `json:"ids,omitempty" yaml:"ids,omitempty"`
	Type            string      `json:"transaction_type,omitempty" yaml:"transaction_type,omitempty"`
	Status          ir.TxStatus `json:"status,omitempty" yaml:"status,omitempty"`
	CodePrefix      string      `json:"code_prefix,omitempty" yaml:"code_prefix,omitempty"`
	DatePrefix      string      `json:"date_prefix,omitempty" yaml:"date_prefix,omitempty"`
	IncludePlatform bool        `json:"include_platform,omitempty" yaml:"include_platform,omitempty"`
	Limit           int         `json:"limit,omitempty" yaml:"limit,omitempty"`
}

func (f TransactionFilter) predicate() queryir.Predicate {
	var preds []queryir.Predicate
	if len(f.IDs) > 0 {
		preds = append(preds, queryir.In{Field: "id", Values: queryir.Strings(f.IDs...)})
	}
	if f.Type != "" {
		preds = append(preds, queryir.Equals{Field: "transaction_type", Value: ir.String(f.Type)})
	}
	if f.Status != "" {
		preds = append(preds, queryir.Equals{Field: "transaction_status", Value: ir.String(f.Status)})
	}
	if f.CodePrefix != "" {
		preds = append(preds, queryir.Prefix{Field: "transaction_code", Value: f.CodePrefix})
	}
	if f.DatePrefix != "" {
		preds = append(preds, queryir.Prefix{Field: "transaction_date", Value: f.DatePrefix})
	}
	return queryir.AndOf(preds...)
}

// legalTransitions is the workflow graph. REVERSED is reachable only
// through ReverseTransaction.
var legalTransitions = map[ir.TxStatus][]ir.TxStatus{
	ir.TxDraft:     {ir.TxSubmitted},
	ir.TxSubmitted: {ir.TxApproved, ir.TxRejected},
	ir.TxApproved:  {ir.TxPosted},
}

// reservedMeta are header metadata keys only the engine writes.
var reservedMeta = []string{
	ir.MetaStatusHistory,
	ir.MetaReversalOf,
	ir.MetaReversedBy,
	ir.MetaBundles,
	ir.MetaLinesDigest,
}

// CreateTransaction writes a DRAFT transaction. The resolved policy
// bundles run first and may reject it or derive extra lines. A
// transaction whose lines carry a side must balance at the configured
// precision. Nothing is written unless every check passes.
func (e *Engine) CreateTransaction(ctx context.Context, c Caller, in TransactionInput) (TransactionRecord, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return TransactionRecord{}, err
	}
	if err := e.checkStruct(in); err != nil {
		return TransactionRecord{}, err
	}
	if in.TransactionDate.IsZero() {
		return TransactionRecord{}, validationError(CodeInvalidRequest, "transaction_date is required")
	}
	if err := checkReserved(in.Metadata); err != nil {
		return TransactionRecord{}, err
	}
	taxCode, err := checkTaxonomy("transaction", in.TaxonomyCode)
	if err != nil {
		return TransactionRecord{}, err
	}
	lines := make([]ir.TransactionLine, 0, len(in.Lines))
	for i, li := range in.Lines {
		l, err := buildLine(i+1, li)
		if err != nil {
			return TransactionRecord{}, err
		}
		lines = append(lines, l)
	}

	now := e.clock.Now()
	h := ir.TransactionHeader{
		ID:              in.ID,
		OrganizationID:  c.OrganizationID,
		TransactionType: in.TransactionType,
		Code:            in.Code,
		TaxonomyCode:    taxCode,
		TransactionDate: in.TransactionDate.UTC(),
		SourceEntityID:  in.SourceEntityID,
		TargetEntityID:  in.TargetEntityID,
		TotalAmount:     in.TotalAmount,
		Currency:        in.Currency,
		Status:          ir.TxDraft,
		Payload:         in.Payload.Clone(),
		CreatedBy:       c.ActorID,
		CreatedAt:       now,
		UpdatedBy:       c.ActorID,
		UpdatedAt:       now,
	}
	if h.ID == "" {
		h.ID = e.ids.Generate()
	}
	if h.Payload == nil {
		h.Payload = ir.Object{}
	}

	var rec TransactionRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		q := tx.Queries
		if err := refsReadable(ctx, q, sc, h.SourceEntityID, h.TargetEntityID); err != nil {
			return err
		}
		for _, l := range lines {
			if err := refsReadable(ctx, q, sc, l.EntityID); err != nil {
				return err
			}
		}

		industry, err := industryOf(ctx, q, c.OrganizationID)
		if err != nil {
			return err
		}
		plan := policy.Merge(e.policies.Resolve(h.TransactionType, industry, c.OrganizationID))
		res, err := policy.Evaluator{Precision: e.precision}.Apply(ctx, plan,
			policy.Input{Header: h, Lines: lines},
			accountResolver{q: q, sc: sc},
		)
		if err != nil {
			return ruleError(err)
		}

		all := append(lines, res.Derived...)
		for i := range all {
			all[i].TransactionID = h.ID
			all[i].LineNumber = i + 1
		}
		if err := checkBalance(all, e.precision); err != nil {
			return err
		}
		if h.TotalAmount.IsZero() {
			h.TotalAmount = totalOf(all)
		}

		h.Metadata = in.Metadata.Merge(ir.Object{
			ir.MetaBundles:       bundleRefs(plan.Bundles),
			ir.MetaLinesDigest:   ir.String(res.Digest),
			ir.MetaStatusHistory: ir.Array{historyEntry(ir.TxDraft, c.ActorID, now, "")},
		})

		if err := q.InsertHeader(ctx, h); err != nil {
			return storeError("create transaction", err)
		}
		for _, l := range all {
			if err := q.InsertLine(ctx, h.OrganizationID, l, now); err != nil {
				return storeError("create transaction: line", err)
			}
		}
		rec = TransactionRecord{Header: h, Lines: all}
		e.logger.Debug("policy applied",
			"transaction_id", h.ID,
			"bundles", len(plan.Bundles),
			"derived_lines", len(res.Derived),
		)
		return nil
	})
	if err != nil {
		return TransactionRecord{}, err
	}

	e.logger.Info("transaction created",
		"organization_id", h.OrganizationID,
		"transaction_id", h.ID,
		"transaction_type", h.TransactionType,
		"lines", len(rec.Lines),
	)
	return rec, nil
}

// AppendLine adds a line to a DRAFT transaction and returns it with its
// allocated number. Allocation is serialized per transaction, so
// concurrent appends receive dense, distinct numbers.
func (e *Engine) AppendLine(ctx context.Context, c Caller, transactionID string, in LineInput) (ir.TransactionLine, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.TransactionLine{}, err
	}
	if err := e.checkStruct(in); err != nil {
		return ir.TransactionLine{}, err
	}
	l, err := buildLine(0, in)
	if err != nil {
		return ir.TransactionLine{}, err
	}
	l.TransactionID = transactionID

	defer e.locks.Lock("lines:" + transactionID)()

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		h, err := writableHeader(ctx, tx.Queries, sc, transactionID)
		if err != nil {
			return err
		}
		if h.Status != ir.TxDraft {
			return stateError(CodeNotDraft, "transaction %s is %s; lines can only be added in DRAFT", h.ID, h.Status).
				remedy("create a new transaction").
				With("status", string(h.Status))
		}
		if err := refsReadable(ctx, tx.Queries, sc, l.EntityID); err != nil {
			return err
		}
		n, err := tx.AppendLine(ctx, h.OrganizationID, l, e.clock.Now())
		if err != nil {
			return storeError("append line", err)
		}
		l.LineNumber = n
		return nil
	})
	if err != nil {
		return ir.TransactionLine{}, err
	}
	return l, nil
}

// TransitionTransaction moves a transaction along a legal edge, merges
// in.Metadata and appends to the status history. Entering SUBMITTED
// requires a ledger transaction to balance.
func (e *Engine) TransitionTransaction(ctx context.Context, c Caller, in TransitionInput) (ir.TransactionHeader, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.TransactionHeader{}, err
	}
	if err := e.checkStruct(in); err != nil {
		return ir.TransactionHeader{}, err
	}
	if err := checkReserved(in.Metadata); err != nil {
		return ir.TransactionHeader{}, err
	}

	var out ir.TransactionHeader
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		h, err := writableHeader(ctx, tx.Queries, sc, in.ID)
		if err != nil {
			return err
		}
		if !legal(h.Status, in.To) {
			ee := stateError(CodeIllegalTransition, "transaction %s cannot move from %s to %s", h.ID, h.Status, in.To).
				With("from", string(h.Status)).
				With("to", string(in.To))
			if in.To == ir.TxReversed {
				ee = ee.remedy("reverse a POSTED transaction with ReverseTransaction")
			}
			return ee
		}
		if in.To == ir.TxSubmitted {
			lines, err := tx.ListLines(ctx, h.ID)
			if err != nil {
				return fmt.Errorf("list lines: %w", err)
			}
			if err := checkBalance(lines, e.precision); err != nil {
				return err
			}
		}

		now := e.clock.Now()
		meta := withHistory(h.Metadata.Merge(in.Metadata), historyEntry(in.To, c.ActorID, now, in.Reason))
		if err := tx.UpdateHeaderStatus(ctx, h.ID, h.Status, in.To, meta, c.ActorID, now); err != nil {
			return storeError("transition transaction", err)
		}
		h.Status = in.To
		h.Metadata = meta
		h.UpdatedBy = c.ActorID
		h.UpdatedAt = now
		out = h
		return nil
	})
	if err != nil {
		return ir.TransactionHeader{}, err
	}
	e.logger.Info("transaction transitioned", "transaction_id", out.ID, "status", out.Status)
	return out, nil
}

// ReverseTransaction posts a REVERSAL transaction that mirrors a POSTED
// one with sides swapped and marks the original REVERSED, in one unit.
func (e *Engine) ReverseTransaction(ctx context.Context, c Caller, id string, in ReverseInput) (TransactionRecord, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return TransactionRecord{}, err
	}

	var rec TransactionRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		orig, err := writableHeader(ctx, tx.Queries, sc, id)
		if err != nil {
			return err
		}
		if orig.Status != ir.TxPosted {
			return stateError(CodeIllegalTransition, "only POSTED transactions can be reversed, %s is %s", orig.ID, orig.Status).
				With("from", string(orig.Status)).
				With("to", string(ir.TxReversed))
		}
		lines, err := tx.ListLines(ctx, orig.ID)
		if err != nil {
			return fmt.Errorf("list lines: %w", err)
		}

		now := e.clock.Now()
		rev := ir.TransactionHeader{
			ID:              e.ids.Generate(),
			OrganizationID:  orig.OrganizationID,
			TransactionType: ir.TransactionTypeReversal,
			Code:            in.Code,
			TaxonomyCode:    orig.TaxonomyCode,
			TransactionDate: in.TransactionDate.UTC(),
			SourceEntityID:  orig.SourceEntityID,
			TargetEntityID:  orig.TargetEntityID,
			TotalAmount:     orig.TotalAmount,
			Currency:        orig.Currency,
			Status:          ir.TxPosted,
			Payload:         ir.Object{},
			CreatedBy:       c.ActorID,
			CreatedAt:       now,
			UpdatedBy:       c.ActorID,
			UpdatedAt:       now,
		}
		if rev.Code == "" {
			rev.Code = orig.Code + "-REV"
		}
		if in.TransactionDate.IsZero() {
			y, m, d := now.UTC().Date()
			rev.TransactionDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}

		revLines := make([]ir.TransactionLine, len(lines))
		for i, l := range lines {
			l.TransactionID = rev.ID
			l.Side = l.Side.Opposite()
			l.Data = l.Data.Merge(ir.Object{"reverses_line": ir.Int(l.LineNumber)})
			revLines[i] = l
		}
		digest, err := ir.LinesDigest(revLines)
		if err != nil {
			return err
		}
		rev.Metadata = ir.Object{
			ir.MetaReversalOf:    ir.String(orig.ID),
			ir.MetaLinesDigest:   ir.String(digest),
			ir.MetaStatusHistory: ir.Array{historyEntry(ir.TxPosted, c.ActorID, now, in.Reason)},
		}

		if err := tx.InsertHeader(ctx, rev); err != nil {
			return storeError("reverse transaction", err)
		}
		for _, l := range revLines {
			if err := tx.InsertLine(ctx, rev.OrganizationID, l, now); err != nil {
				return storeError("reverse transaction: line", err)
			}
		}

		meta := withHistory(orig.Metadata.Merge(ir.Object{ir.MetaReversedBy: ir.String(rev.ID)}),
			historyEntry(ir.TxReversed, c.ActorID, now, in.Reason))
		if err := tx.UpdateHeaderStatus(ctx, orig.ID, ir.TxPosted, ir.TxReversed, meta, c.ActorID, now); err != nil {
			return storeError("reverse transaction", err)
		}
		rec = TransactionRecord{Header: rev, Lines: revLines}
		return nil
	})
	if err != nil {
		return TransactionRecord{}, err
	}
	e.logger.Info("transaction reversed", "transaction_id", id, "reversal_id", rec.Header.ID)
	return rec, nil
}

// ReadTransaction returns a header and its lines.
func (e *Engine) ReadTransaction(ctx context.Context, c Caller, id string) (TransactionRecord, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return TransactionRecord{}, err
	}
	h, err := readableHeader(ctx, e.store.Queries, sc, id)
	if err != nil {
		return TransactionRecord{}, err
	}
	lines, err := e.store.ListLines(ctx, h.ID)
	if err != nil {
		return TransactionRecord{}, fmt.Errorf("list lines: %w", err)
	}
	return TransactionRecord{Header: h, Lines: lines}, nil
}

// ListTransactions returns headers matching f, oldest date first.
func (e *Engine) ListTransactions(ctx context.Context, c Caller, f TransactionFilter) ([]ir.TransactionHeader, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	hs, err := e.store.QueryHeaders(ctx, queryir.Select{
		Filter:  queryir.AndOf(sc.filter(f.IncludePlatform), f.predicate()),
		OrderBy: []queryir.Order{{Field: "transaction_date"}, {Field: "transaction_code"}},
		Limit:   f.Limit,
	})
	if err != nil {
		return nil, validationError(CodeInvalidRequest, "list transactions: %v", err)
	}
	return hs, nil
}

// ListLines returns lines across the caller's transactions matching
// where, a predicate over universal_transaction_lines columns.
func (e *Engine) ListLines(ctx context.Context, c Caller, where queryir.Predicate) ([]ir.TransactionLine, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	lines, err := e.store.QueryLines(ctx, queryir.Select{Filter: queryir.AndOf(sc.filter(false), where)})
	if err != nil {
		return nil, validationError(CodeInvalidRequest, "list lines: %v", err)
	}
	return lines, nil
}

func buildLine(n int, in LineInput) (ir.TransactionLine, error) {
	code, err := checkTaxonomy(fmt.Sprintf("line %d", n), in.TaxonomyCode)
	if err != nil {
		return ir.TransactionLine{}, err
	}
	if !in.Side.Valid() {
		return ir.TransactionLine{}, validationError(CodeInvalidSide, "line %d side %q must be DR, CR or empty", n, in.Side).
			With("line_number", fmt.Sprint(n))
	}
	l := ir.TransactionLine{
		LineNumber:   n,
		LineType:     in.LineType,
		EntityID:     in.EntityID,
		Quantity:     in.Quantity,
		UnitAmount:   in.UnitAmount,
		LineAmount:   in.LineAmount,
		TaxonomyCode: code,
		Side:         in.Side,
		Data:         in.Data.Clone(),
	}
	switch {
	case l.Quantity.IsZero() && l.UnitAmount.IsZero():
		l.Quantity = decimal.NewFromInt(1)
		l.UnitAmount = l.LineAmount
	case l.LineAmount.IsZero():
		l.LineAmount = l.Quantity.Mul(l.UnitAmount)
	}
	if l.Side != "" && l.LineAmount.IsNegative() {
		return ir.TransactionLine{}, validationError(CodeInvalidSide, "line %d: ledger amounts are never negative", n).
			remedy("post to the opposite side instead").
			With("line_number", fmt.Sprint(n))
	}
	if l.Data == nil {
		l.Data = ir.Object{}
	}
	return l, nil
}

func checkBalance(lines []ir.TransactionLine, precision int32) error {
	if !ir.IsLedger(lines) || ir.Balanced(lines, precision) {
		return nil
	}
	dr, cr := ir.SideTotals(lines)
	return validationError(CodeUnbalancedPosting, "debits %s do not equal credits %s",
		dr.StringFixed(precision), cr.StringFixed(precision)).
		remedy("add or correct lines so that sum(DR) == sum(CR)").
		With("debit", dr.StringFixed(precision)).
		With("credit", cr.StringFixed(precision))
}

// totalOf is the debit total for ledger lines and the plain line sum
// otherwise.
func totalOf(lines []ir.TransactionLine) decimal.Decimal {
	if ir.IsLedger(lines) {
		dr, _ := ir.SideTotals(lines)
		return dr
	}
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.LineAmount)
	}
	return sum
}

func checkReserved(meta ir.Object) error {
	for _, k := range reservedMeta {
		if _, ok := meta[k]; ok {
			return validationError(CodeInvalidRequest, "metadata key %q is maintained by the engine", k).With("key", k)
		}
	}
	return nil
}

func legal(from, to ir.TxStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func historyEntry(status ir.TxStatus, actor string, at time.Time, reason string) ir.Object {
	entry := ir.Object{
		"status": ir.String(status),
		"actor":  ir.String(actor),
		"at":     ir.String(at.UTC().Format(time.RFC3339Nano)),
	}
	if reason != "" {
		entry["reason"] = ir.String(reason)
	}
	return entry
}

func withHistory(meta ir.Object, entry ir.Object) ir.Object {
	hist, _ := meta[ir.MetaStatusHistory].(ir.Array)
	next := make(ir.Array, 0, len(hist)+1)
	next = append(next, hist...)
	meta[ir.MetaStatusHistory] = append(next, entry)
	return meta
}

func bundleRefs(refs []policy.BundleRef) ir.Array {
	out := make(ir.Array, len(refs))
	for i, r := range refs {
		out[i] = ir.Object{"bundle_id": ir.String(r.ID), "version": ir.Int(r.Version)}
	}
	return out
}

// refsReadable checks that every non-empty entity id is visible.
func refsReadable(ctx context.Context, q store.Queries, sc scope, ids ...string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := readableEntity(ctx, q, sc, id); err != nil {
			return err
		}
	}
	return nil
}

func readableHeader(ctx context.Context, q store.Queries, sc scope, id string) (ir.TransactionHeader, error) {
	h, err := q.GetHeader(ctx, id)
	if store.IsNotFound(err) || (err == nil && !sc.readable(h.OrganizationID)) {
		return ir.TransactionHeader{}, notFound("transaction", id)
	}
	if err != nil {
		return ir.TransactionHeader{}, fmt.Errorf("get transaction: %w", err)
	}
	return h, nil
}

func writableHeader(ctx context.Context, q store.Queries, sc scope, id string) (ir.TransactionHeader, error) {
	h, err := readableHeader(ctx, q, sc, id)
	if err != nil {
		return ir.TransactionHeader{}, err
	}
	if !sc.writable(h.OrganizationID) {
		return ir.TransactionHeader{}, crossOrg("transaction", id)
	}
	return h, nil
}
