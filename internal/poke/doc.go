// Package poke broadcasts newly confirmed actions to the clients of a space.
//
// Pokes are a best-effort latency optimization. A poke may be dropped,
// delayed or delivered twice; clients recover missing actions by pulling.
// The Hub fans out in-process, and the WebSocket bridge (ServeWS and Dial)
// carries pokes between processes.
package poke
