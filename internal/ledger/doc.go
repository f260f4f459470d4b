// Package ledger holds the shared account state and its batch-scoped views.
//
// The Arena is the only long-lived mutable state in the engine. Everything
// else - snapshots, working overlays, per-transaction views - is created for
// one batch and discarded when the batch resolves.
//
// Ownership model:
//
//   - Arena: process-wide, guarded by an internal lock. Mutated only by the
//     commit manager, under the arena commit lock, in a single apply step.
//   - Snapshot: immutable capture of account values at batch start. The
//     rollback target.
//   - Working: batch-private overlay on a Snapshot. Parallel layers merge
//     their writes into it in one finalization step per layer.
//   - View: per-transaction read surface restricted to the accounts the
//     transaction declared. Reading an undeclared account is an error, not
//     a silent zero.
//
// Balances are exact decimals (cockroachdb/apd). Missing accounts read as
// zero; writing a missing account creates it.
package ledger
