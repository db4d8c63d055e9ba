// Package ir provides the canonical record types shared by every HERA package.
//
// This package contains type definitions and their serialization only. All
// other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - money and quantities are decimal.Decimal,
//     free-form values are Value (string, int, bool, array, object)
//   - Every record carries an OrganizationID
//   - Lifecycle state is never a field on Entity; it is a has_status
//     Relationship or a TransactionHeader
//   - All JSON tags use snake_case
package ir
