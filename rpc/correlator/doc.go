// Package correlator matches responses to the requests waiting for them.
//
// A request registers a Future under (connection id, request id) before its
// bytes are written. When the response arrives, Resolve finds and removes the
// entry in one step and fulfils the Future. Each connection has its own
// state, so request ids only have to be unique per connection and closing a
// connection fails exactly its own requests:
//
//	f, err := c.CreatePendingWithTimeout(connID, id, 5*time.Second)
//	// ... write the request
//	resp, err := c.Await(ctx, connID, id, f)
//
// Responses nobody waits for are stale: logged and counted, never an error.
// Deadlines are kept in a heap per connection and enforced by Expire, which
// Run drives from a ticker of the configured clock.
package correlator
