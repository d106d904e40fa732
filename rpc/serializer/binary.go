package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/hdlwire/rpc/common"
)

// NewBinarySerializer creates a new serializer using a compact binary format
// that only writes the fields a message actually carries
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format:
//
//	4 bytes  op code (uint32, big endian)
//	1 byte   presence flags
//	...      present fields in flag order
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasResponseCode byte = 1 << 0
	hasOpFlags      byte = 1 << 1
	hasExpiration   byte = 1 << 2
	hasHandle       byte = 1 << 3
	hasBody         byte = 1 << 4
)

const binaryHeaderLen = 5

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, b.sizeBytes(msg))
	binary.BigEndian.PutUint32(result[0:4], uint32(msg.OpCode))

	var flags byte = 0
	pos := binaryHeaderLen

	if msg.ResponseCode != common.RCNone {
		flags |= hasResponseCode
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(msg.ResponseCode))
		pos += 4
	}

	if msg.OpFlags != 0 {
		flags |= hasOpFlags
		binary.BigEndian.PutUint32(result[pos:pos+4], msg.OpFlags)
		pos += 4
	}

	if msg.Expiration != 0 {
		flags |= hasExpiration
		binary.BigEndian.PutUint32(result[pos:pos+4], msg.Expiration)
		pos += 4
	}

	if msg.Handle != "" {
		flags |= hasHandle
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Handle)))
		pos += 4
		pos += copy(result[pos:], msg.Handle)
	}

	// a non-nil empty body is kept distinct from no body
	if msg.Body != nil {
		flags |= hasBody
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Body)))
		pos += 4
		pos += copy(result[pos:], msg.Body)
	}

	result[4] = flags
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < binaryHeaderLen {
		return fmt.Errorf("data too short for message header")
	}

	msg.OpCode = common.OpCode(binary.BigEndian.Uint32(data[0:4]))
	flags := data[4]
	pos := binaryHeaderLen

	readUint32 := func(field string) (uint32, error) {
		if pos+4 > len(data) {
			return 0, fmt.Errorf("data too short for %s", field)
		}
		v := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
		return v, nil
	}

	readBytes := func(field string) ([]byte, error) {
		n, err := readUint32(field + " length")
		if err != nil {
			return nil, err
		}
		if uint64(pos)+uint64(n) > uint64(len(data)) {
			return nil, fmt.Errorf("data too short for %s data", field)
		}
		v := data[pos : pos+int(n)]
		pos += int(n)
		return v, nil
	}

	msg.ResponseCode = common.RCNone
	if flags&hasResponseCode != 0 {
		rc, err := readUint32("response code")
		if err != nil {
			return err
		}
		msg.ResponseCode = common.ResponseCode(rc)
	}

	msg.OpFlags = 0
	if flags&hasOpFlags != 0 {
		v, err := readUint32("op flags")
		if err != nil {
			return err
		}
		msg.OpFlags = v
	}

	msg.Expiration = 0
	if flags&hasExpiration != 0 {
		v, err := readUint32("expiration")
		if err != nil {
			return err
		}
		msg.Expiration = v
	}

	msg.Handle = ""
	if flags&hasHandle != 0 {
		v, err := readBytes("handle")
		if err != nil {
			return err
		}
		msg.Handle = string(v)
	}

	if flags&hasBody != 0 {
		v, err := readBytes("body")
		if err != nil {
			return err
		}
		// reuse the caller's buffer if it is large enough
		if msg.Body == nil || cap(msg.Body) < len(v) {
			msg.Body = make([]byte, len(v))
		} else {
			msg.Body = msg.Body[:len(v)]
		}
		copy(msg.Body, v)
	} else {
		msg.Body = nil
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := binaryHeaderLen

	if msg.ResponseCode != common.RCNone {
		size += 4
	}
	if msg.OpFlags != 0 {
		size += 4
	}
	if msg.Expiration != 0 {
		size += 4
	}
	if msg.Handle != "" {
		size += 4 + len(msg.Handle)
	}
	if msg.Body != nil {
		size += 4 + len(msg.Body)
	}

	return size
}
