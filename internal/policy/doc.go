// Package policy resolves policy bundles for a transaction and applies
// them: required fields, boolean validations, tax splits and posting rules
// that derive ledger lines.
//
// Bundles are data. The only code that runs is the small expression
// language in expr.go, which can do decimal arithmetic, comparisons,
// boolean logic and read the transaction being evaluated. It has no clock,
// no I/O and no way to call out, so identical input and an identical
// bundle set always produce byte-identical derived lines.
//
// Resolution merges every matching bundle; see Registry.Resolve.
package policy
