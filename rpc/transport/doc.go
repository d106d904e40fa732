// Package transport defines the connection layer around the protocol pipeline.
// A transport owns sockets: it writes the frames the pipeline produces and
// feeds it the bytes it reads, and it reports a lost connection by closing
// the connection's pipeline, which fails every request still waiting on it.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transports that manage
//     connections and send requests, returning the correlated response.
//
//   - IRPCServerTransport: Interface for server-side transports that accept
//     connections, decode requests and write back the handler's responses.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
// Implementations live in the sub packages: base holds the stream logic
// shared by tcp and unix, http tunnels envelopes through POST bodies.
package transport
