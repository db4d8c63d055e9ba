package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/policy"
	"github.com/roach88/hera/internal/queryir"
)

func TestLedger_BalancedCreate(t *testing.T) {
	f := newTestEngine(t)
	rec, err := f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1",
		glLine(ir.Debit, "100.00"),
		glLine(ir.Credit, "60.00"),
		glLine(ir.Credit, "40.00"),
	))
	require.NoError(t, err)

	assert.Equal(t, ir.TxDraft, rec.Header.Status)
	assert.Equal(t, "100", rec.Header.TotalAmount.String())
	require.Len(t, rec.Lines, 3)
	for i, l := range rec.Lines {
		assert.Equal(t, i+1, l.LineNumber)
		assert.Equal(t, rec.Header.ID, l.TransactionID)
		assert.Equal(t, "1", l.Quantity.String())
	}

	got, err := f.e.ReadTransaction(f.ctx, callerA, rec.Header.ID)
	require.NoError(t, err)
	assert.Len(t, got.Lines, 3)
	assert.Equal(t, rec.Header.Code, got.Header.Code)

	hist, ok := got.Header.Metadata[ir.MetaStatusHistory].(ir.Array)
	require.True(t, ok)
	require.Len(t, hist, 1)
	assert.Equal(t, ir.String("DRAFT"), hist[0].(ir.Object)["status"])
	assert.Equal(t, ir.String("actor-a"), hist[0].(ir.Object)["actor"])
}

func TestLedger_UnbalancedWritesNothing(t *testing.T) {
	f := newTestEngine(t)
	_, err := f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1",
		glLine(ir.Debit, "100.00"),
		glLine(ir.Credit, "99.99"),
	))
	requireKind(t, err, KindValidation, CodeUnbalancedPosting)

	var ee *Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "100.00", ee.Details["debit"])
	assert.Equal(t, "99.99", ee.Details["credit"])
	assert.NotEmpty(t, ee.Remediation)

	hs, err := f.e.ListTransactions(f.ctx, callerA, TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, hs)

	lines, err := f.e.ListLines(f.ctx, callerA, nil)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestLedger_PrecisionAbsorbsSubCentDifference(t *testing.T) {
	f := newTestEngine(t)
	_, err := f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1",
		glLine(ir.Debit, "100.001"),
		glLine(ir.Credit, "100.00"),
	))
	assert.NoError(t, err)
}

func TestLedger_NonLedgerSkipsBalance(t *testing.T) {
	f := newTestEngine(t)
	in := journalInput("SO-1",
		LineInput{LineType: "ITEM", Quantity: dec("2"), UnitAmount: dec("12.50"), TaxonomyCode: "HERA.SALES.ORDER.LINE.ITEM.V1"},
		LineInput{LineType: "ITEM", LineAmount: dec("5"), TaxonomyCode: "HERA.SALES.ORDER.LINE.ITEM.V1"},
	)
	in.TransactionType = "SALES_ORDER"
	rec, err := f.e.CreateTransaction(f.ctx, callerA, in)
	require.NoError(t, err)
	assert.Equal(t, "25", rec.Lines[0].LineAmount.String())
	assert.Equal(t, "30", rec.Header.TotalAmount.String())
}

func TestLedger_InputChecks(t *testing.T) {
	f := newTestEngine(t)

	_, err := f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1", glLine(ir.Debit, "-5"), glLine(ir.Credit, "-5")))
	requireKind(t, err, KindValidation, CodeInvalidSide)

	_, err = f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1", LineInput{
		LineType: "GL", LineAmount: dec("5"), Side: "XX", TaxonomyCode: "HERA.FIN.GL.LINE.DR.V1",
	}))
	requireKind(t, err, KindValidation, CodeInvalidSide)

	in := journalInput("JE-1")
	in.TransactionDate = time.Time{}
	_, err = f.e.CreateTransaction(f.ctx, callerA, in)
	requireKind(t, err, KindValidation, CodeInvalidRequest)

	in = journalInput("JE-1")
	in.Metadata = ir.Object{ir.MetaReversedBy: ir.String("x")}
	_, err = f.e.CreateTransaction(f.ctx, callerA, in)
	requireKind(t, err, KindValidation, CodeInvalidRequest)

	in = journalInput("JE-1")
	in.TaxonomyCode = "FIN.JOURNAL"
	_, err = f.e.CreateTransaction(f.ctx, callerA, in)
	requireKind(t, err, KindValidation, CodeInvalidTaxonomy)

	in = journalInput("JE-1", glLine(ir.Debit, "5"), glLine(ir.Credit, "5"))
	in.Lines[0].EntityID = "missing"
	_, err = f.e.CreateTransaction(f.ctx, callerA, in)
	requireKind(t, err, KindNotFound, CodeNotFound)
}

func TestLedger_DuplicateCode(t *testing.T) {
	f := newTestEngine(t)
	_, err := f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1"))
	require.NoError(t, err)

	_, err = f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1"))
	requireKind(t, err, KindConflict, CodeDuplicateCode)

	// codes are unique per organization only
	_, err = f.e.CreateTransaction(f.ctx, callerB, journalInput("JE-1"))
	assert.NoError(t, err)
}

func TestLedger_ConcurrentAppendLine(t *testing.T) {
	f := newTestEngine(t)
	rec, err := f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1"))
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	numbers := make(chan int, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := f.e.AppendLine(f.ctx, callerA, rec.Header.ID, glLine(ir.Debit, "1"))
			if err != nil {
				errs <- err
				return
			}
			numbers <- l.LineNumber
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	seen := map[int]bool{}
	for num := range numbers {
		assert.False(t, seen[num], "line %d allocated twice", num)
		seen[num] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[i], "line %d missing", i)
	}

	got, err := f.e.ReadTransaction(f.ctx, callerA, rec.Header.ID)
	require.NoError(t, err)
	assert.Len(t, got.Lines, n)
}

func TestLedger_AppendLineNotDraft(t *testing.T) {
	f := newTestEngine(t)
	rec, err := f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1", glLine(ir.Debit, "5"), glLine(ir.Credit, "5")))
	require.NoError(t, err)
	_, err = f.e.TransitionTransaction(f.ctx, callerA, TransitionInput{ID: rec.Header.ID, To: ir.TxSubmitted})
	require.NoError(t, err)

	_, err = f.e.AppendLine(f.ctx, callerA, rec.Header.ID, glLine(ir.Debit, "1"))
	requireKind(t, err, KindState, CodeNotDraft)

	_, err = f.e.AppendLine(f.ctx, callerB, rec.Header.ID, glLine(ir.Debit, "1"))
	requireKind(t, err, KindNotFound, CodeNotFound)
}

// post walks a balanced journal from DRAFT to POSTED.
func post(f *fixture, code string) TransactionRecord {
	f.t.Helper()
	rec, err := f.e.CreateTransaction(f.ctx, callerA, journalInput(code,
		glLine(ir.Debit, "250.00"),
		glLine(ir.Credit, "250.00"),
	))
	require.NoError(f.t, err)
	for _, to := range []ir.TxStatus{ir.TxSubmitted, ir.TxApproved, ir.TxPosted} {
		_, err := f.e.TransitionTransaction(f.ctx, callerA, TransitionInput{ID: rec.Header.ID, To: to})
		require.NoError(f.t, err)
	}
	return rec
}

func TestLedger_Workflow(t *testing.T) {
	f := newTestEngine(t)
	rec := post(f, "JE-1")

	got, err := f.e.ReadTransaction(f.ctx, callerA, rec.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.TxPosted, got.Header.Status)

	hist := got.Header.Metadata[ir.MetaStatusHistory].(ir.Array)
	var statuses []string
	for _, h := range hist {
		statuses = append(statuses, string(h.(ir.Object)["status"].(ir.String)))
	}
	assert.Equal(t, []string{"DRAFT", "SUBMITTED", "APPROVED", "POSTED"}, statuses)

	_, err = f.e.TransitionTransaction(f.ctx, callerA, TransitionInput{ID: rec.Header.ID, To: ir.TxDraft})
	requireKind(t, err, KindState, CodeIllegalTransition)
}

func TestLedger_IllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []ir.TxStatus
		to   ir.TxStatus
	}{
		{"draft to posted", nil, ir.TxPosted},
		{"draft to approved", nil, ir.TxApproved},
		{"draft to reversed", nil, ir.TxReversed},
		{"submitted to posted", []ir.TxStatus{ir.TxSubmitted}, ir.TxPosted},
		{"rejected to approved", []ir.TxStatus{ir.TxSubmitted, ir.TxRejected}, ir.TxApproved},
		{"approved to reversed", []ir.TxStatus{ir.TxSubmitted, ir.TxApproved}, ir.TxReversed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestEngine(t)
			rec, err := f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1", glLine(ir.Debit, "5"), glLine(ir.Credit, "5")))
			require.NoError(t, err)
			for _, s := range tt.path {
				_, err := f.e.TransitionTransaction(f.ctx, callerA, TransitionInput{ID: rec.Header.ID, To: s})
				require.NoError(t, err)
			}
			_, err = f.e.TransitionTransaction(f.ctx, callerA, TransitionInput{ID: rec.Header.ID, To: tt.to})
			requireKind(t, err, KindState, CodeIllegalTransition)
		})
	}
}

func TestLedger_SubmitRequiresBalance(t *testing.T) {
	f := newTestEngine(t)
	rec, err := f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1", glLine(ir.Debit, "5"), glLine(ir.Credit, "5")))
	require.NoError(t, err)
	_, err = f.e.AppendLine(f.ctx, callerA, rec.Header.ID, glLine(ir.Debit, "1"))
	require.NoError(t, err)

	_, err = f.e.TransitionTransaction(f.ctx, callerA, TransitionInput{ID: rec.Header.ID, To: ir.TxSubmitted})
	requireKind(t, err, KindValidation, CodeUnbalancedPosting)

	_, err = f.e.AppendLine(f.ctx, callerA, rec.Header.ID, glLine(ir.Credit, "1"))
	require.NoError(t, err)
	h, err := f.e.TransitionTransaction(f.ctx, callerA, TransitionInput{
		ID:       rec.Header.ID,
		To:       ir.TxSubmitted,
		Reason:   "month end",
		Metadata: ir.Object{"batch": ir.String("B-7")},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.String("B-7"), h.Metadata["batch"])
	hist := h.Metadata[ir.MetaStatusHistory].(ir.Array)
	assert.Equal(t, ir.String("month end"), hist[len(hist)-1].(ir.Object)["reason"])
}

func TestLedger_Reverse(t *testing.T) {
	f := newTestEngine(t)
	orig := post(f, "JE-1")

	rev, err := f.e.ReverseTransaction(f.ctx, callerA, orig.Header.ID, ReverseInput{Reason: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, ir.TransactionTypeReversal, rev.Header.TransactionType)
	assert.Equal(t, "JE-1-REV", rev.Header.Code)
	assert.Equal(t, ir.TxPosted, rev.Header.Status)
	assert.Equal(t, ir.String(orig.Header.ID), rev.Header.Metadata[ir.MetaReversalOf])
	require.Len(t, rev.Lines, 2)
	assert.Equal(t, ir.Credit, rev.Lines[0].Side)
	assert.Equal(t, ir.Debit, rev.Lines[1].Side)
	assert.Equal(t, ir.Int(1), rev.Lines[0].Data["reverses_line"])

	y, m, d := rev.Header.TransactionDate.Date()
	assert.Equal(t, 0, rev.Header.TransactionDate.Hour())
	assert.Equal(t, time.Date(y, m, d, 0, 0, 0, 0, time.UTC), rev.Header.TransactionDate)

	got, err := f.e.ReadTransaction(f.ctx, callerA, orig.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.TxReversed, got.Header.Status)
	assert.Equal(t, ir.String(rev.Header.ID), got.Header.Metadata[ir.MetaReversedBy])

	_, err = f.e.ReverseTransaction(f.ctx, callerA, orig.Header.ID, ReverseInput{})
	requireKind(t, err, KindState, CodeIllegalTransition)

	report, err := f.e.CheckIntegrity(f.ctx, callerA)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "%v", report.Findings)
}

func TestLedger_ReverseRequiresPosted(t *testing.T) {
	f := newTestEngine(t)
	rec, err := f.e.CreateTransaction(f.ctx, callerA, journalInput("JE-1"))
	require.NoError(t, err)

	_, err = f.e.ReverseTransaction(f.ctx, callerA, rec.Header.ID, ReverseInput{})
	requireKind(t, err, KindState, CodeIllegalTransition)
}

func TestLedger_ListTransactions(t *testing.T) {
	f := newTestEngine(t)
	for i, day := range []int{3, 1, 2} {
		in := journalInput(fmt.Sprintf("JE-%d", i+1))
		in.TransactionDate = time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC)
		_, err := f.e.CreateTransaction(f.ctx, callerA, in)
		require.NoError(t, err)
	}
	post(f, "PJ-1")

	all, err := f.e.ListTransactions(f.ctx, callerA, TransactionFilter{CodePrefix: "JE-"})
	require.NoError(t, err)
	var codes []string
	for _, h := range all {
		codes = append(codes, h.Code)
	}
	assert.Equal(t, []string{"JE-2", "JE-3", "JE-1"}, codes)

	posted, err := f.e.ListTransactions(f.ctx, callerA, TransactionFilter{Status: ir.TxPosted})
	require.NoError(t, err)
	require.Len(t, posted, 1)
	assert.Equal(t, "PJ-1", posted[0].Code)

	other, err := f.e.ListTransactions(f.ctx, callerB, TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func retailSale() ir.PolicyBundle {
	return ir.PolicyBundle{
		ID:             "retail-sale",
		Version:        1,
		Priority:       100,
		Match:          ir.BundleMatch{TransactionTypes: []string{"SALE"}, Industries: []string{"retail"}},
		RequiredFields: []string{"gross"},
		Validations:    []ir.ValidationRule{{ID: "positive", Expr: "payload.gross > 0", Message: "gross must be positive"}},
		TaxRules:       []ir.TaxRule{{Code: "VAT", Rate: dec("0.15"), Basis: "payload.gross", Inclusive: true}},
		PostingRules: []ir.PostingRule{{
			ID: "sale",
			Lines: []ir.PostingLineSpec{
				{Account: "1100", Side: ir.Debit, Amount: "tax.VAT.gross", TaxonomyCode: "HERA.FIN.GL.LINE.DR.V1"},
				{Account: "4000", Side: ir.Credit, Amount: "tax.VAT.net", TaxonomyCode: "HERA.FIN.GL.LINE.CR.V1"},
				{Account: "2200", Side: ir.Credit, Amount: "tax.VAT.tax", TaxonomyCode: "HERA.FIN.GL.LINE.CR.V1"},
			},
		}},
	}
}

func saleInput(code, gross string) TransactionInput {
	in := TransactionInput{
		TransactionType: "SALE",
		Code:            code,
		TaxonomyCode:    "HERA.RETAIL.POS.SALE.V1",
		TransactionDate: testTime,
		Currency:        "USD",
		Payload:         ir.Object{},
	}
	if gross != "" {
		in.Payload["gross"] = ir.String(gross)
	}
	return in
}

func policyEngine(t *testing.T) *fixture {
	t.Helper()
	reg, err := policy.NewRegistry(retailSale())
	require.NoError(t, err)
	f := newTestEngine(t, WithPolicies(reg))
	for _, code := range []string{"1100", "4000", "2200"} {
		f.entity(callerA, AccountEntityType, code)
	}
	return f
}

func TestLedger_PolicyDerivedLines(t *testing.T) {
	f := policyEngine(t)
	rec, err := f.e.CreateTransaction(f.ctx, callerA, saleInput("SALE-1", "115.00"))
	require.NoError(t, err)

	require.Len(t, rec.Lines, 3)
	var amounts []string
	for i, l := range rec.Lines {
		assert.Equal(t, i+1, l.LineNumber)
		assert.Equal(t, ir.String("retail-sale"), l.Data["bundle_id"])
		amounts = append(amounts, string(l.Side)+" "+l.LineAmount.String())
	}
	assert.Equal(t, []string{"DR 115", "CR 100", "CR 15"}, amounts)
	assert.Equal(t, "115", rec.Header.TotalAmount.String())

	refs := rec.Header.Metadata[ir.MetaBundles].(ir.Array)
	require.Len(t, refs, 1)
	assert.Equal(t, ir.String("retail-sale"), refs[0].(ir.Object)["bundle_id"])
	assert.Equal(t, ir.Int(1), refs[0].(ir.Object)["version"])

	cash, err := f.e.ListLines(f.ctx, callerA, queryir.Equals{Field: "line_number", Value: ir.Int(1)})
	require.NoError(t, err)
	require.Len(t, cash, 1)
	assert.Equal(t, ir.String("1100"), cash[0].Data["account"])
}

func TestLedger_DerivedLineTaxonomyNormalized(t *testing.T) {
	bundle := retailSale()
	bundle.PostingRules[0].Lines[1].TaxonomyCode = "hera.fin.gl.line.cr.v1"
	reg, err := policy.NewRegistry(bundle)
	require.NoError(t, err)
	f := newTestEngine(t, WithPolicies(reg))
	for _, code := range []string{"1100", "4000", "2200"} {
		f.entity(callerA, AccountEntityType, code)
	}

	rec, err := f.e.CreateTransaction(f.ctx, callerA, saleInput("SALE-1", "115.00"))
	require.NoError(t, err)

	stored, err := f.e.ReadTransaction(f.ctx, callerA, rec.Header.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 3)
	assert.Equal(t, "HERA.FIN.GL.LINE.CR.V1", stored.Lines[1].TaxonomyCode)
}

func TestLedger_PolicyWithUnsafeBundleRefused(t *testing.T) {
	badCode := retailSale()
	badCode.PostingRules[0].Lines[0].TaxonomyCode = "not-a-code"
	_, err := policy.NewRegistry(badCode)
	require.Error(t, err)

	negative := retailSale()
	negative.TaxRules[0].Rate = dec("-1")
	_, err = policy.NewRegistry(negative)
	require.Error(t, err)
}

func TestLedger_PolicyDigestDeterministic(t *testing.T) {
	f := policyEngine(t)
	a, err := f.e.CreateTransaction(f.ctx, callerA, saleInput("SALE-1", "115.00"))
	require.NoError(t, err)
	b, err := f.e.CreateTransaction(f.ctx, callerA, saleInput("SALE-2", "115.00"))
	require.NoError(t, err)
	c, err := f.e.CreateTransaction(f.ctx, callerA, saleInput("SALE-3", "230.00"))
	require.NoError(t, err)

	assert.Equal(t, a.Header.Metadata[ir.MetaLinesDigest], b.Header.Metadata[ir.MetaLinesDigest])
	assert.NotEqual(t, a.Header.Metadata[ir.MetaLinesDigest], c.Header.Metadata[ir.MetaLinesDigest])
}

func TestLedger_PolicyRejections(t *testing.T) {
	f := policyEngine(t)

	_, err := f.e.CreateTransaction(f.ctx, callerA, saleInput("SALE-1", ""))
	requireKind(t, err, KindValidation, policy.CodeRequiredField)

	_, err = f.e.CreateTransaction(f.ctx, callerA, saleInput("SALE-1", "-5"))
	requireKind(t, err, KindValidation, policy.CodeValidationFailed)

	hs, err := f.e.ListTransactions(f.ctx, callerA, TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, hs)

	// other industries do not match the bundle
	rec, err := f.e.CreateTransaction(f.ctx, callerB, saleInput("SALE-1", ""))
	require.NoError(t, err)
	assert.Empty(t, rec.Lines)
}

func TestLedger_PolicyUnknownAccount(t *testing.T) {
	reg, err := policy.NewRegistry(retailSale())
	require.NoError(t, err)
	f := newTestEngine(t, WithPolicies(reg))
	f.entity(callerA, AccountEntityType, "1100")

	_, err = f.e.CreateTransaction(f.ctx, callerA, saleInput("SALE-1", "115.00"))
	requireKind(t, err, KindValidation, policy.CodeUnknownAccount)
}

func TestLedger_PolicyPlatformAccounts(t *testing.T) {
	reg, err := policy.NewRegistry(retailSale())
	require.NoError(t, err)
	f := newTestEngine(t, WithPolicies(reg))
	for _, code := range []string{"1100", "4000", "2200"} {
		f.entity(callerPlatform, AccountEntityType, code)
	}
	local := f.entity(callerA, AccountEntityType, "1100")

	rec, err := f.e.CreateTransaction(f.ctx, callerA, saleInput("SALE-1", "115.00"))
	require.NoError(t, err)
	assert.Equal(t, local.ID, rec.Lines[0].EntityID)
}
