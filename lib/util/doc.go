// Package util provides small concurrency and scheduling building blocks used
// by the transport layer and the correlator.
//
// The package contains:
//   - mpsc: A lock-free Multi-Producer Single-Consumer queue. The client and
//     server transports use one per connection as the outbound frame queue.
//   - deadline: A heap of request ids ordered by deadline with key-based
//     removal, used by the correlator to expire overdue pending requests.
package util
