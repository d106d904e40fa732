package serializer

import "github.com/ValentinKolb/hdlwire/rpc/common"

// IRPCSerializer is the interface for all message body serializers.
// It is only ever called on complete, reassembled bodies.
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array.
	// SessionID and RequestID are not part of the body and are not written.
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into a Message.
	// SessionID and RequestID of msg are left untouched.
	Deserialize(b []byte, msg *common.Message) error
}

// ByName returns the serializer registered under name ("binary", "json" or "gob")
func ByName(name string) (IRPCSerializer, bool) {
	switch name {
	case "binary":
		return NewBinarySerializer(), true
	case "json":
		return NewJSONSerializer(), true
	case "gob":
		return NewGOBSerializer(), true
	default:
		return nil, false
	}
}
