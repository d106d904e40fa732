// Package serializer turns the typed message model into message bodies and back.
// It is the external message-type codec of the transport pipeline and is only
// ever handed complete bodies, after reassembly and after the session layer
// body filter.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format. A 4 byte op code and a flag byte
//     are followed by only those fields the message carries, so a bare request
//     costs five bytes.
//
//   - jsonSerializerImpl: JSON encoding with op and response codes written by
//     name. Useful for debugging with the probe command.
//
//   - gobSerializerImpl: Go's gob encoding. Larger and slower than binary, kept
//     for Go-only peers and as a reference in benchmarks.
//
// None of the serializers write the session or request id; those travel in the
// envelope and are set on the message by the pipeline.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, _ := serializer.ByName("binary")
//	body, err := s.Serialize(msg)
//	// ... hand body to the pipeline ...
//	var received common.Message
//	err = s.Deserialize(assembled, &received)
package serializer
