// Package rpc provides the transport core of the handle resolution protocol
// and the client and server built on it.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message model, typed protocol errors, configuration
//     structures and logging.
//
//   - envelope: Encoding and validation of the fixed 24 byte header that
//     precedes every message or message fragment.
//
//   - reassembly: Rebuilds fragmented message bodies in a bounded LRU store.
//
//   - correlator: Matches responses to the futures of pending requests, per
//     connection, with deadlines and connection loss fan-out.
//
//   - pipeline: Connects codec, reassembly, serializer and correlator into the
//     protocol state of one connection.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP tunnel).
//
//   - serializer: Message body serialization with multiple format options
//     (Binary, JSON, GOB).
//
//   - client: Typed client sending resolution and site info requests.
//
//   - server: Routes decoded requests to adapters by op code.
package rpc
