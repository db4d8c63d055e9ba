// Package harness runs HERA conformance scenarios against a real engine.
//
// A scenario boots a fresh in-memory store, registers organizations and
// memberships, optionally loads CUE policy bundles, then drives the engine
// through its request envelopes and checks the outcome.
//
// # Scenario Format
//
//	name: retail_sale
//	description: "Policy-derived posting for a retail sale"
//	bundles:
//	  - ../bundles/retail.cue
//	organizations:
//	  - {id: org-a, name: Tenant A, code: TENANT-A, industry: retail,
//	     taxonomy_code: HERA.PLATFORM.ORG.TENANT.V1}
//	members:
//	  actor-a: [org-a]
//	caller: {organization_id: org-a, actor_id: actor-a}
//	setup:
//	  - op: entity
//	    save: cash
//	    request:
//	      action: CREATE
//	      entity: {entity_type: ACCOUNT, name: Cash, code: "1100",
//	               taxonomy_code: HERA.FIN.GL.ACCOUNT.V1}
//	flow:
//	  - name: sale
//	    op: transaction
//	    request: {action: CREATE, transaction: {...}}
//	    expect: {case: Success}
//	assertions:
//	  - type: trial_balance
//	    balanced: true
//	    balances: {"1100": "115"}
//
// Requests are the engine's own envelopes (EntityRequest,
// RelationshipRequest, TransactionRequest). A string value "$name" is
// replaced by the id saved under name by an earlier step. organization_id
// and actor_id default to the step's "as" caller, then the scenario caller.
//
// # Step Ops
//
//   - entity, relationship, transaction: dispatch the matching envelope
//   - integrity: run CheckIntegrity for the caller's organization
//   - trial_balance: build the caller's trial balance
//
// # Assertion Types
//
//   - entity_count: active entities of a type
//   - current_status: the active status entity of a saved entity
//   - transaction_status: the lifecycle status of a saved transaction
//   - trial_balance: balance flag and per-code balances
//   - integrity_clean: no integrity findings
//   - trace_count: steps matching op, action and case
//
// # Determinism
//
// Ids come from engine.SequenceGenerator and timestamps from
// engine.StepClock, so two runs of a scenario produce identical traces and
// RunWithGolden can compare them byte for byte.
package harness
