// Package engine implements the governed HERA operations over the six
// fixed tables.
//
// Every operation follows the same path:
//  1. organization scope is re-validated against the IdentityProvider
//  2. taxonomy codes and kinds are validated
//  3. attribute writes are routed through the placement policy
//  4. the write executes in one store transaction
//  5. transactions additionally run the resolved policy bundles, which may
//     reject the write or derive ledger lines
//
// Nothing partially commits. Rejections are *Error values with a Kind
// that tells the caller how to recover.
//
// Serialization hotspots:
//   - line-number allocation is serialized per transaction id
//   - status transitions are serialized per (entity, dimension)
//
// Both are also backed by unique indexes in the store, so a second
// process racing the same key gets a CONFLICT instead of corrupt data.
package engine
