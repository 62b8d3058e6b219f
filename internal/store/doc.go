// Package store provides SQLite-backed durable storage for space action logs.
//
// The store implements, per space:
//   - Actions: an append-only log keyed by (space_id, server_action_id)
//   - Counter: the last assigned server_action_id
//   - Snapshot: at most one compaction checkpoint, overwritten on write
//
// # Invariants
//
// Contiguous IDs:
//   - AppendActions reads the counter, inserts the batch and advances the
//     counter in one transaction
//   - A failed append rolls back: no ID is consumed and no row is visible
//
// Deterministic reads:
//   - Every log query orders by server_action_id ASC
//   - Payloads and states are stored as canonical JSON
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - one pooled connection: SQLite has a single writer
package store
