// Package base provides the stream transport shared by the tcp and unix
// packages. It knows nothing about addresses or socket options; those come
// from an IClientConnector or IServerConnector.
//
// Every socket is wrapped in a link holding:
//
//   - the socket itself
//   - a pipeline.Pipeline with a connection id of its own
//   - an MPSC outbound queue drained by one writer goroutine
//
// Writers push the header and fragment buffers of a whole message as one
// queue item, and the writer hands them to the socket in a single vectored
// write (net.Buffers). Fragments of different messages therefore never
// interleave on the wire, even with many concurrent senders.
//
// Key Components:
//
//   - clientTransport: Manages N connections per endpoint with round-robin
//     selection. A reader goroutine per connection feeds the pipeline, which
//     resolves waiting requests. A lost socket fails every request still
//     pending on it, then the connection is re-dialed with exponential backoff
//     under a fresh connection id. Requests that failed because their socket
//     was lost are retried up to RetryCount times.
//
//   - serverTransport: Accepts connections, decodes requests with one pipeline
//     per connection and runs the handler in at most WorkersPerConn goroutines
//     per connection. On EOF it waits for running handlers and flushes their
//     responses before closing.
//
// Reassembly buffers and the request correlator are shared by all connections
// of one transport.
//
// Thread Safety:
//
//	All public methods are thread-safe.
package base
