// Package queryir is the storage-independent description of entity,
// relationship and transaction reads.
//
// Callers describe what they want (a table, a filter tree, an order) and
// the querysql package turns it into parameterized SQL. Values are ir.Value
// so floats cannot reach a filter, and no caller string is ever spliced
// into SQL text: field names are checked against a per-table allow-list at
// compile time.
//
// Query types:
//   - Select: single-table read with an optional filter
//
// Predicate types:
//   - Equals, In, Prefix, IsNull: leaf comparisons
//   - And, Or, Not: composition
//
// A field may address a key inside a JSON column with a dot path, e.g.
// "relationship_data.status_dimension".
package queryir
