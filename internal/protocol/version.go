package protocol

// Version is the synced reducer release version reported by the CLI and the
// server health endpoint.
const Version = "0.1.0"
