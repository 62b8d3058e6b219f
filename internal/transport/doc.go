// Package transport provides the network capability a sync client is built
// on: pull, push, snapshot fetch and creation, and a poke subscription.
//
// HTTP talks to a remote server. Local binds directly to an in-process
// server and poke hub and can drop or delay pokes, which tests use to
// exercise gap recovery.
package transport
