package querysql

// Table describes one readable table: its columns in schema order, which
// of them hold JSON, which are integers, and the stable key appended to
// every ORDER BY.
type Table struct {
	Name    string
	Columns []string
	JSON    map[string]bool
	Integer map[string]bool
	Key     []string
}

func (t Table) hasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Table names of the six fixed tables.
const (
	TableOrganizations    = "core_organizations"
	TableEntities         = "core_entities"
	TableDynamicData      = "core_dynamic_data"
	TableRelationships    = "core_relationships"
	TableTransactions     = "universal_transactions"
	TableTransactionLines = "universal_transaction_lines"
)

// DefaultTables mirrors store/schema.sql. Column order here is the scan
// order used by the store.
func DefaultTables() map[string]Table {
	tables := []Table{
		{
			Name: TableOrganizations,
			Columns: []string{
				"id", "organization_name", "organization_code", "industry",
				"taxonomy_code", "status", "created_at",
			},
			Key: []string{"id"},
		},
		{
			Name: TableEntities,
			Columns: []string{
				"id", "organization_id", "entity_type", "entity_name", "entity_code",
				"taxonomy_code", "status", "metadata",
				"created_by", "created_at", "updated_by", "updated_at",
			},
			JSON: set("metadata"),
			Key:  []string{"id"},
		},
		{
			Name: TableDynamicData,
			Columns: []string{
				"organization_id", "entity_id", "field_name", "field_type",
				"field_value_text", "field_value_number", "field_value_boolean",
				"field_value_date", "field_value_datetime", "field_value_json",
				"taxonomy_code", "updated_by", "updated_at",
			},
			JSON:    set("field_value_json"),
			Integer: set("field_value_boolean"),
			Key:     []string{"organization_id", "entity_id", "field_name"},
		},
		{
			Name: TableRelationships,
			Columns: []string{
				"id", "organization_id", "from_entity_id", "to_entity_id",
				"relationship_type", "relationship_data", "taxonomy_code",
				"is_active", "expiration",
				"created_by", "created_at", "updated_by", "updated_at",
			},
			JSON:    set("relationship_data"),
			Integer: set("is_active"),
			Key:     []string{"id"},
		},
		{
			Name: TableTransactions,
			Columns: []string{
				"id", "organization_id", "transaction_type", "transaction_code",
				"taxonomy_code", "transaction_date", "source_entity_id",
				"target_entity_id", "total_amount", "currency", "transaction_status",
				"payload", "metadata",
				"created_by", "created_at", "updated_by", "updated_at",
			},
			JSON: set("payload", "metadata"),
			Key:  []string{"id"},
		},
		{
			Name: TableTransactionLines,
			Columns: []string{
				"transaction_id", "organization_id", "line_number", "line_type",
				"entity_id", "quantity", "unit_amount", "line_amount",
				"taxonomy_code", "side", "line_data", "created_at",
			},
			JSON:    set("line_data"),
			Integer: set("line_number"),
			Key:     []string{"transaction_id", "line_number"},
		},
	}

	out := make(map[string]Table, len(tables))
	for _, t := range tables {
		out[t.Name] = t
	}
	return out
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
