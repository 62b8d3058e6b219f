// Package server exposes the space operations over HTTP.
//
// Server methods take and return protocol types and hold no HTTP state, so
// in-process transports can call them directly. Handler wires them to the
// JSON-over-POST endpoints, the WebSocket poke stream, Prometheus metrics
// and a health check.
//
// Endpoints:
//
//	POST /pull               PullRequest           -> PullResponse
//	POST /push               PushRequest           -> PushResponse
//	POST /getLatestSnapshot  SnapshotRequest       -> SnapshotResponse
//	POST /createSnapshot     CreateSnapshotRequest -> CreateSnapshotResponse
//	GET  /poke/{spaceId}     WebSocket stream of PokeMessage
//	GET  /metrics            Prometheus exposition
//	GET  /healthz            store reachability
//
// Any other request is answered with 400 {"error":"Invalid request"}.
package server
