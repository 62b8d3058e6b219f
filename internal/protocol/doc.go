// Package protocol defines the wire and storage types shared by the sync
// server and its clients.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import protocol; protocol imports nothing internal.
//
// Key design constraints:
//   - Action payloads and reduced states are opaque JSON (json.RawMessage).
//     Only reducers and tests know their schema.
//   - serverActionId is assigned by the server, starts at 1 within a space,
//     and is contiguous. clientActionId is only used for reconciliation.
//   - JSON field names use the camelCase names of the HTTP contract.
//   - Empty action lists encode as [] and never as null.
package protocol
