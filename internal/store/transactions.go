package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
	"github.com/roach88/hera/internal/querysql"
)

// InsertHeader writes a transaction header. A duplicate code within the
// organization fails with ErrUniqueViolation.
func (q Queries) InsertHeader(ctx context.Context, h ir.TransactionHeader) error {
	payload, err := marshalObject(h.Payload)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	meta, err := marshalObject(h.Metadata)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		INSERT INTO universal_transactions
		(id, organization_id, transaction_type, transaction_code, taxonomy_code,
		 transaction_date, source_entity_id, target_entity_id, total_amount, currency,
		 transaction_status, payload, metadata, created_by, created_at, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		h.ID,
		h.OrganizationID,
		h.TransactionType,
		h.Code,
		h.TaxonomyCode,
		formatTime(h.TransactionDate),
		nullString(h.SourceEntityID),
		nullString(h.TargetEntityID),
		h.TotalAmount.String(),
		h.Currency,
		string(h.Status),
		payload,
		meta,
		h.CreatedBy,
		formatTime(h.CreatedAt),
		h.UpdatedBy,
		formatTime(h.UpdatedAt),
	)
	return classify("insert transaction", err)
}

// UpdateHeaderStatus moves a header from one status to another and
// replaces its metadata with the already-merged meta. The write is
// conditional on the current status, so a concurrent transition makes it
// fail with ErrStale instead of silently overwriting.
func (q Queries) UpdateHeaderStatus(ctx context.Context, id string, from, to ir.TxStatus, meta ir.Object, by string, at time.Time) error {
	js, err := marshalObject(meta)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE universal_transactions
		SET transaction_status = ?, metadata = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND transaction_status = ?
	`, string(to), js, by, formatTime(at), id, string(from))
	if err != nil {
		return classify("update transaction status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction status: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update transaction %s status %s->%s: %w", id, from, to, ErrStale)
	}
	return nil
}

// GetHeader reads one transaction header by id.
func (q Queries) GetHeader(ctx context.Context, id string) (ir.TransactionHeader, error) {
	h, err := queryOne(ctx, q, querysql.TableTransactions, eq("id", id), scanHeader)
	if err != nil {
		return ir.TransactionHeader{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return h, nil
}

// FindHeaderByCode reads a header by its per-organization code.
func (q Queries) FindHeaderByCode(ctx context.Context, orgID, code string) (ir.TransactionHeader, error) {
	filter := queryir.AndOf(eq("organization_id", orgID), eq("transaction_code", code))
	h, err := queryOne(ctx, q, querysql.TableTransactions, filter, scanHeader)
	if err != nil {
		return ir.TransactionHeader{}, fmt.Errorf("find transaction %q: %w", code, err)
	}
	return h, nil
}

// QueryHeaders runs a filtered read over universal_transactions.
func (q Queries) QueryHeaders(ctx context.Context, sel queryir.Select) ([]ir.TransactionHeader, error) {
	return queryAll(ctx, q, querysql.TableTransactions, sel, scanHeader)
}

// InsertLine writes a line with a caller-chosen line number. Used when a
// whole transaction is created in one unit and numbers are assigned up
// front.
func (q Queries) InsertLine(ctx context.Context, orgID string, l ir.TransactionLine, at time.Time) error {
	data, err := marshalObject(l.Data)
	if err != nil {
		return fmt.Errorf("insert line: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO universal_transaction_lines
		(transaction_id, organization_id, line_number, line_type, entity_id, quantity,
		 unit_amount, line_amount, taxonomy_code, side, line_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.TransactionID,
		orgID,
		l.LineNumber,
		l.LineType,
		nullString(l.EntityID),
		l.Quantity.String(),
		l.UnitAmount.String(),
		l.LineAmount.String(),
		l.TaxonomyCode,
		string(l.Side),
		data,
		formatTime(at),
	)
	return classify("insert line", err)
}

// AppendLine writes a line numbered one past the current maximum for the
// transaction and returns the allocated number. Allocation and insert are
// one statement; the (transaction_id, line_number) key rejects a racing
// duplicate.
func (q Queries) AppendLine(ctx context.Context, orgID string, l ir.TransactionLine, at time.Time) (int, error) {
	data, err := marshalObject(l.Data)
	if err != nil {
		return 0, fmt.Errorf("append line: %w", err)
	}

	var n int
	err = q.q.QueryRowContext(ctx, `
		INSERT INTO universal_transaction_lines
		(transaction_id, organization_id, line_number, line_type, entity_id, quantity,
		 unit_amount, line_amount, taxonomy_code, side, line_data, created_at)
		SELECT ?, ?, COALESCE(MAX(line_number), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ?, ?
		FROM universal_transaction_lines
		WHERE transaction_id = ?
		RETURNING line_number
	`,
		l.TransactionID,
		orgID,
		l.LineType,
		nullString(l.EntityID),
		l.Quantity.String(),
		l.UnitAmount.String(),
		l.LineAmount.String(),
		l.TaxonomyCode,
		string(l.Side),
		data,
		formatTime(at),
		l.TransactionID,
	).Scan(&n)
	if err != nil {
		return 0, classify("append line", err)
	}
	return n, nil
}

// ListLines returns a transaction's lines ordered by line number.
func (q Queries) ListLines(ctx context.Context, transactionID string) ([]ir.TransactionLine, error) {
	return q.QueryLines(ctx, queryir.Select{Filter: eq("transaction_id", transactionID)})
}

// QueryLines runs a filtered read over universal_transaction_lines.
func (q Queries) QueryLines(ctx context.Context, sel queryir.Select) ([]ir.TransactionLine, error) {
	return queryAll(ctx, q, querysql.TableTransactionLines, sel, scanLine)
}

func scanHeader(row scanner) (ir.TransactionHeader, error) {
	var (
		h              ir.TransactionHeader
		date           string
		source, target sql.NullString
		total          string
		status         string
		payload, meta  string
		createdAt      string
		updatedAt      string
	)
	if err := row.Scan(
		&h.ID,
		&h.OrganizationID,
		&h.TransactionType,
		&h.Code,
		&h.TaxonomyCode,
		&date,
		&source,
		&target,
		&total,
		&h.Currency,
		&status,
		&payload,
		&meta,
		&h.CreatedBy,
		&createdAt,
		&h.UpdatedBy,
		&updatedAt,
	); err != nil {
		return ir.TransactionHeader{}, err
	}
	h.SourceEntityID = source.String
	h.TargetEntityID = target.String
	h.Status = ir.TxStatus(status)

	var err error
	if h.TransactionDate, err = parseTime(date); err != nil {
		return ir.TransactionHeader{}, err
	}
	if h.TotalAmount, err = parseDecimal(total); err != nil {
		return ir.TransactionHeader{}, err
	}
	if h.Payload, err = unmarshalObject(payload); err != nil {
		return ir.TransactionHeader{}, err
	}
	if h.Metadata, err = unmarshalObject(meta); err != nil {
		return ir.TransactionHeader{}, err
	}
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.TransactionHeader{}, err
	}
	if h.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ir.TransactionHeader{}, err
	}
	return h, nil
}

func scanLine(row scanner) (ir.TransactionLine, error) {
	var (
		l                      ir.TransactionLine
		orgID                  string
		entityID               sql.NullString
		quantity, unit, amount string
		side                   string
		data                   string
		createdAt              string
	)
	if err := row.Scan(
		&l.TransactionID,
		&orgID,
		&l.LineNumber,
		&l.LineType,
		&entityID,
		&quantity,
		&unit,
		&amount,
		&l.TaxonomyCode,
		&side,
		&data,
		&createdAt,
	); err != nil {
		return ir.TransactionLine{}, err
	}
	l.EntityID = entityID.String
	l.Side = ir.Side(side)

	var err error
	if l.Quantity, err = parseDecimal(quantity); err != nil {
		return ir.TransactionLine{}, err
	}
	if l.UnitAmount, err = parseDecimal(unit); err != nil {
		return ir.TransactionLine{}, err
	}
	if l.LineAmount, err = parseDecimal(amount); err != nil {
		return ir.TransactionLine{}, err
	}
	if l.Data, err = unmarshalObject(data); err != nil {
		return ir.TransactionLine{}, err
	}
	return l, nil
}
