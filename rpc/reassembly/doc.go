// Package reassembly rebuilds message bodies that a peer split across several
// truncated envelopes.
//
// Every in-flight message is keyed by (connection id, session id, request id),
// since peers number their requests independently, and owns a
// buffer holding the declared total length, the bytes received so far and the
// next expected sequence number. The buffers live in a bounded LRU store, so
// a peer that opens many messages and never finishes them costs at most
// capacity buffers; the least recently touched one is dropped silently and
// the waiting caller finds out through its own timeout.
//
// Per message the life cycle is:
//
//	sequence 0        -> open (total = declared length)
//	sequence n (next) -> append, complete when received == total
//	anything else     -> abort with common.ErrProtocolViolation
//
// Fragments of one message must arrive with consecutive sequence numbers.
// Fragments of different messages may interleave freely.
//
// Thread Safety:
//
//	A Reassembler may be shared by any number of connections. Opening a
//	message goes through the store's atomic get-or-insert, and each buffer is
//	mutated under its own mutex.
package reassembly
