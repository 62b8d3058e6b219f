// Package space coordinates reads and writes of per-space action logs.
//
// A Coordinator sits between the sync server and the log store. It
// validates requests, serializes appends within a space so that server
// action ids are assigned contiguously, and classifies storage failures as
// retryable so the transport can tell clients to try again.
//
// Different spaces never contend with each other: the lock table holds one
// mutex per space, created on first use and released when idle.
package space
