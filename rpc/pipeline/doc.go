// Package pipeline connects the envelope codec, the fragment reassembler, the
// message serializer and the request correlator into the protocol state of
// one connection.
//
// Inbound:
//
//	bytes -> Decoder (cursor over a buffer, waits for whole frames)
//	      -> Reassembler (truncated frames only, emits on completion)
//	      -> BodyFilter.Open (compressed / encrypted bodies)
//	      -> IRPCSerializer.Deserialize
//	      -> Correlator.Resolve (responses) or returned to the caller (requests)
//
// Outbound:
//
//	message -> IRPCSerializer.Serialize -> BodyFilter.Seal
//	        -> Encoder (one envelope, or MaxFragmentSize fragments flagged truncated)
//
// Errors are split in two classes. A malformed envelope means the stream can
// no longer be framed, Inbound returns it and the connection must be closed.
// Anything that only affects one message (a broken fragment sequence, a body
// that does not decode) drops that message, is logged and counted, and
// decoding continues with the next frame.
package pipeline
