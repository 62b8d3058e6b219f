// Package core implements the client-side reconciliation of optimistic
// actions against the server-ordered log of a space.
//
// A Core holds three things:
//   - confirmed state: the reduction of the initial state (or last merged
//     snapshot) through every confirmed action known so far
//   - confirmed history: the confirmed actions applied since the last
//     snapshot merge, used to extend a lagging snapshot
//   - unconfirmed actions: locally dispatched actions in dispatch order
//
// The effective state is the confirmed state reduced through the
// unconfirmed actions. It is recomputed on every read.
//
// Confirmed actions are only applied when they continue the known log
// exactly. A batch that skips ids stops at the gap with a *GapError; ids
// at or below the tail are treated as duplicate delivery and skipped.
//
// All mutations run in one critical section. Observers are notified after
// the section ends, one at a time, and never receive an older state after
// a newer one.
package core
