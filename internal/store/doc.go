// Package store persists the six HERA tables in SQLite.
//
// The store only writes and reads rows. It backs the
// invariants that must survive concurrent writers with unique and partial
// unique indexes (entity code per type, transaction code per organization,
// dense line numbers, one active status edge per dimension, one active
// parent per child, one active edge per (from, to, type)). Everything
// semantic (scope, taxonomy, placement, policy, workflow) lives in the
// engine.
//
// All reads go through queryir/querysql so every result set is ordered by
// a stable key.
package store
