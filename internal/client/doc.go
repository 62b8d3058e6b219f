// Package client keeps a reducer's state in sync with a space on a sync
// server.
//
// A Client applies dispatched actions optimistically, pushes them in
// throttled batches, and folds confirmed actions back in as pokes and
// pulls arrive. Pokes, pull results and snapshots are handled by one event
// loop goroutine; network calls run on throttles and report back to it.
//
// Lifecycle:
//
//	c, err := client.New(ctx, client.Options[State, Action]{...})
//	defer c.Close()
//	if err := c.WaitReady(ctx); err != nil {
//	    // offline: Dispatch still works, state is optimistic only
//	}
//	c.Dispatch(Action{Type: "increment"})
package client
