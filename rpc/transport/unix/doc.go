// Package unix implements the transport over Unix domain sockets, for a
// client and a server on the same machine.
//
// This package extends the base transport layer with Unix socket-specific connectors
// while inheriting connection pooling, per connection pipelines and reconnects
// from the base package.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners, replacing a stale socket file
//
// The default read buffer is 64 KB, one full fragment at the default fragment size.
package unix
