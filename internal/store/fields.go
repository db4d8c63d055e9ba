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

// fieldSlots holds the six typed columns of core_dynamic_data.
type fieldSlots struct {
	text, number, boolean, date, datetime, json any
}

func encodeField(v ir.FieldValue) (fieldSlots, error) {
	if err := v.Validate(); err != nil {
		return fieldSlots{}, err
	}
	var s fieldSlots
	switch v.Type {
	case ir.FieldText:
		s.text = *v.Text
	case ir.FieldNumber:
		s.number = v.Number.String()
	case ir.FieldBoolean:
		if *v.Boolean {
			s.boolean = int64(1)
		} else {
			s.boolean = int64(0)
		}
	case ir.FieldDate:
		s.date = v.Date.Format(ir.DateLayout)
	case ir.FieldDateTime:
		s.datetime = formatTime(*v.DateTime)
	case ir.FieldStructured:
		js, err := marshalObject(v.Structured)
		if err != nil {
			return fieldSlots{}, err
		}
		s.json = js
	}
	return s, nil
}

// UpsertField inserts or updates one dynamic field. Updating a field with a
// different field_type than the stored one fails with ErrFieldTypeMismatch.
func (q Queries) UpsertField(ctx context.Context, f ir.DynamicField) error {
	slots, err := encodeField(f.Value)
	if err != nil {
		return fmt.Errorf("upsert field %s: %w", f.FieldName, err)
	}

	// the WHERE on DO UPDATE turns a type change into a zero-row write
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO core_dynamic_data
		(organization_id, entity_id, field_name, field_type,
		 field_value_text, field_value_number, field_value_boolean,
		 field_value_date, field_value_datetime, field_value_json,
		 taxonomy_code, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, entity_id, field_name) DO UPDATE SET
		  field_value_text = excluded.field_value_text,
		  field_value_number = excluded.field_value_number,
		  field_value_boolean = excluded.field_value_boolean,
		  field_value_date = excluded.field_value_date,
		  field_value_datetime = excluded.field_value_datetime,
		  field_value_json = excluded.field_value_json,
		  taxonomy_code = excluded.taxonomy_code,
		  updated_by = excluded.updated_by,
		  updated_at = excluded.updated_at
		WHERE core_dynamic_data.field_type = excluded.field_type
	`,
		f.OrganizationID,
		f.EntityID,
		f.FieldName,
		string(f.Value.Type),
		slots.text,
		slots.number,
		slots.boolean,
		slots.date,
		slots.datetime,
		slots.json,
		f.TaxonomyCode,
		f.UpdatedBy,
		formatTime(f.UpdatedAt),
	)
	if err != nil {
		return classify("upsert field "+f.FieldName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert field %s: rows affected: %w", f.FieldName, err)
	}
	if n == 0 {
		return fmt.Errorf("upsert field %s: %w", f.FieldName, ErrFieldTypeMismatch)
	}
	return nil
}

// GetField reads one dynamic field.
func (q Queries) GetField(ctx context.Context, orgID, entityID, name string) (ir.DynamicField, error) {
	filter := queryir.AndOf(
		eq("organization_id", orgID),
		eq("entity_id", entityID),
		eq("field_name", name),
	)
	f, err := queryOne(ctx, q, querysql.TableDynamicData, filter, scanField)
	if err != nil {
		return ir.DynamicField{}, fmt.Errorf("get field %s: %w", name, err)
	}
	return f, nil
}

// ListFields returns an entity's dynamic fields ordered by name.
func (q Queries) ListFields(ctx context.Context, orgID, entityID string) ([]ir.DynamicField, error) {
	return queryAll(ctx, q, querysql.TableDynamicData, queryir.Select{
		Filter: queryir.AndOf(eq("organization_id", orgID), eq("entity_id", entityID)),
	}, scanField)
}

func scanField(row scanner) (ir.DynamicField, error) {
	var (
		f                                       ir.DynamicField
		fieldType                               string
		text, number, date, datetime, jsonValue sql.NullString
		boolean                                 sql.NullInt64
		updatedAt                               string
	)
	if err := row.Scan(
		&f.OrganizationID,
		&f.EntityID,
		&f.FieldName,
		&fieldType,
		&text,
		&number,
		&boolean,
		&date,
		&datetime,
		&jsonValue,
		&f.TaxonomyCode,
		&f.UpdatedBy,
		&updatedAt,
	); err != nil {
		return ir.DynamicField{}, err
	}

	var err error
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ir.DynamicField{}, err
	}

	switch ir.FieldType(fieldType) {
	case ir.FieldText:
		f.Value = ir.TextValue(text.String)
	case ir.FieldNumber:
		d, err := parseDecimal(number.String)
		if err != nil {
			return ir.DynamicField{}, err
		}
		f.Value = ir.NumberValue(d)
	case ir.FieldBoolean:
		f.Value = ir.BoolValue(boolean.Int64 == 1)
	case ir.FieldDate:
		t, err := time.Parse(ir.DateLayout, date.String)
		if err != nil {
			return ir.DynamicField{}, fmt.Errorf("parse date %q: %w", date.String, err)
		}
		f.Value = ir.DateValue(t)
	case ir.FieldDateTime:
		t, err := parseTime(datetime.String)
		if err != nil {
			return ir.DynamicField{}, err
		}
		f.Value = ir.DateTimeValue(t)
	case ir.FieldStructured:
		obj, err := unmarshalObject(jsonValue.String)
		if err != nil {
			return ir.DynamicField{}, err
		}
		f.Value = ir.StructuredValue(obj)
	default:
		return ir.DynamicField{}, fmt.Errorf("unknown field type %q", fieldType)
	}
	return f, nil
}
