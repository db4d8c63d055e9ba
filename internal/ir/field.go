package ir

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType selects which slot of a FieldValue is populated.
// Once a field is created its type never changes.
type FieldType string

const (
	FieldText       FieldType = "text"
	FieldNumber     FieldType = "number"
	FieldBoolean    FieldType = "boolean"
	FieldDate       FieldType = "date"
	FieldDateTime   FieldType = "datetime"
	FieldStructured FieldType = "structured"
)

// ValidFieldTypes lists the accepted field types.
var ValidFieldTypes = map[FieldType]bool{
	FieldText:       true,
	FieldNumber:     true,
	FieldBoolean:    true,
	FieldDate:       true,
	FieldDateTime:   true,
	FieldStructured: true,
}

// DateLayout is the storage layout for date-typed fields.
const DateLayout = "2006-01-02"

// FieldValue is a tagged variant: Type names the single populated slot.
// Use the constructors below; Validate rejects hand-built values that
// populate zero or several slots.
type FieldValue struct {
	Type       FieldType        `json:"type"`
	Text       *string          `json:"text,omitempty"`
	Number     *decimal.Decimal `json:"number,omitempty"`
	Boolean    *bool            `json:"boolean,omitempty"`
	Date       *time.Time       `json:"date,omitempty"`
	DateTime   *time.Time       `json:"datetime,omitempty"`
	Structured Object           `json:"structured,omitempty"`
}

// TextValue builds a text field value.
func TextValue(s string) FieldValue {
	return FieldValue{Type: FieldText, Text: &s}
}

// NumberValue builds a number field value.
func NumberValue(d decimal.Decimal) FieldValue {
	return FieldValue{Type: FieldNumber, Number: &d}
}

// BoolValue builds a boolean field value.
func BoolValue(b bool) FieldValue {
	return FieldValue{Type: FieldBoolean, Boolean: &b}
}

// DateValue builds a date field value truncated to the UTC day.
func DateValue(t time.Time) FieldValue {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return FieldValue{Type: FieldDate, Date: &d}
}

// DateTimeValue builds a datetime field value in UTC.
func DateTimeValue(t time.Time) FieldValue {
	u := t.UTC()
	return FieldValue{Type: FieldDateTime, DateTime: &u}
}

// StructuredValue builds a structured (JSON object) field value.
func StructuredValue(o Object) FieldValue {
	if o == nil {
		o = Object{}
	}
	return FieldValue{Type: FieldStructured, Structured: o}
}

// Validate checks that exactly the slot named by Type is populated.
func (v FieldValue) Validate() error {
	if !ValidFieldTypes[v.Type] {
		return fmt.Errorf("invalid field type %q", v.Type)
	}
	populated := map[FieldType]bool{
		FieldText:       v.Text != nil,
		FieldNumber:     v.Number != nil,
		FieldBoolean:    v.Boolean != nil,
		FieldDate:       v.Date != nil,
		FieldDateTime:   v.DateTime != nil,
		FieldStructured: v.Structured != nil,
	}
	for t, set := range populated {
		if t == v.Type && !set {
			return fmt.Errorf("field type %q has no value", v.Type)
		}
		if t != v.Type && set {
			return fmt.Errorf("field type %q also populates %q slot", v.Type, t)
		}
	}
	return nil
}

// String renders the populated slot for text output.
func (v FieldValue) String() string {
	switch v.Type {
	case FieldText:
		if v.Text != nil {
			return *v.Text
		}
	case FieldNumber:
		if v.Number != nil {
			return v.Number.String()
		}
	case FieldBoolean:
		if v.Boolean != nil {
			return fmt.Sprintf("%t", *v.Boolean)
		}
	case FieldDate:
		if v.Date != nil {
			return v.Date.Format(DateLayout)
		}
	case FieldDateTime:
		if v.DateTime != nil {
			return v.DateTime.Format(time.RFC3339Nano)
		}
	case FieldStructured:
		b, err := v.Structured.MarshalJSON()
		if err == nil {
			return string(b)
		}
	}
	return ""
}

// DynamicField is one typed attribute of an entity. Unique on
// (OrganizationID, EntityID, FieldName).
type DynamicField struct {
	OrganizationID string     `json:"organization_id"`
	EntityID       string     `json:"entity_id"`
	FieldName      string     `json:"field_name"`
	Value          FieldValue `json:"value"`
	TaxonomyCode   string     `json:"taxonomy_code"`
	UpdatedBy      string     `json:"updated_by"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FieldType returns the type of the populated slot.
func (f DynamicField) FieldType() FieldType {
	return f.Value.Type
}
