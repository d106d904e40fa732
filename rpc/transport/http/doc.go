// Package http tunnels the envelope protocol through HTTP, for clients that
// can only reach a server through an HTTP proxy or firewall.
//
// A client POSTs the frames of one request (Content-Type
// application/x-hdl-message) and the server answers with the frames of the
// response in the reply body. Each POST is treated as a short lived
// connection: it gets its own connection id and pipeline, so a reply without
// a matching response fails exactly that request.
//
// Key Components:
//
//   - httpClientTransport: Implements IRPCClientTransport with round-robin
//     selection across endpoints and retries when an exchange fails.
//
//   - httpServerTransport: Implements IRPCServerTransport on a net/http server
//     with an optional request logging middleware (log level debug).
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently. It uses
//	atomic operations for the round-robin counter.
package http
