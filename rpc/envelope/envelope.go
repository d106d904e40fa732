package envelope

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/hdlwire/rpc/common"
)

const (
	// HeaderLen is the size of the fixed envelope header on the wire
	HeaderLen = 24

	MajorVersion uint8 = 2
	MinorVersion uint8 = 1
)

// Flag bits of the envelope flags field
const (
	FlagCompressed uint16 = 0x8000
	FlagEncrypted  uint16 = 0x4000
	FlagTruncated  uint16 = 0x2000 // body is one fragment of a larger message
	FlagResponse   uint16 = 0x1000
)

// Envelope is the fixed header preceding every message or message fragment.
//
// Layout (big endian):
//   - 1 byte:  major version
//   - 1 byte:  minor version
//   - 2 bytes: flags
//   - 4 bytes: session id
//   - 4 bytes: request id
//   - 4 bytes: sequence number of the fragment
//   - 4 bytes: declared length of the whole message body
//   - 4 bytes: length of the fragment following this header
type Envelope struct {
	MajorVersion   uint8
	MinorVersion   uint8
	Flags          uint16
	SessionID      uint32
	RequestID      uint32
	Sequence       uint32
	DeclaredLength uint32
	FragmentLength uint32
}

// New creates an envelope for the current protocol version
func New(sessionID, requestID uint32, flags uint16) Envelope {
	return Envelope{
		MajorVersion: MajorVersion,
		MinorVersion: MinorVersion,
		Flags:        flags,
		SessionID:    sessionID,
		RequestID:    requestID,
	}
}

func (e Envelope) Truncated() bool  { return e.Flags&FlagTruncated != 0 }
func (e Envelope) IsResponse() bool { return e.Flags&FlagResponse != 0 }
func (e Envelope) Encrypted() bool  { return e.Flags&FlagEncrypted != 0 }
func (e Envelope) Compressed() bool { return e.Flags&FlagCompressed != 0 }

func (e Envelope) String() string {
	return fmt.Sprintf("v%d.%d flags=%#04x session=%d request=%d seq=%d len=%d/%d",
		e.MajorVersion, e.MinorVersion, e.Flags, e.SessionID, e.RequestID, e.Sequence,
		e.FragmentLength, e.DeclaredLength)
}

// Limits constrains what Decode accepts from a peer
type Limits struct {
	MaxMessageLength uint32
}

func DefaultLimits() Limits {
	return Limits{MaxMessageLength: common.DefaultMaxMessageLength}
}

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

// Encode serializes the envelope header
func Encode(e Envelope) []byte {
	buf := make([]byte, HeaderLen)
	EncodeTo(buf, e)
	return buf
}

// EncodeTo writes the header into the first HeaderLen bytes of dst.
// dst must be at least HeaderLen bytes long.
func EncodeTo(dst []byte, e Envelope) {
	_ = dst[HeaderLen-1]
	dst[0] = e.MajorVersion
	dst[1] = e.MinorVersion
	binary.BigEndian.PutUint16(dst[2:4], e.Flags)
	binary.BigEndian.PutUint32(dst[4:8], e.SessionID)
	binary.BigEndian.PutUint32(dst[8:12], e.RequestID)
	binary.BigEndian.PutUint32(dst[12:16], e.Sequence)
	binary.BigEndian.PutUint32(dst[16:20], e.DeclaredLength)
	binary.BigEndian.PutUint32(dst[20:24], e.FragmentLength)
}

// Decode parses and validates a header. Any returned error matches
// common.ErrMalformedEnvelope.
func Decode(b []byte, limits Limits) (Envelope, error) {
	if len(b) < HeaderLen {
		return Envelope{}, common.NewProtocolError(common.KindMalformedEnvelope,
			"short header: %d of %d bytes", len(b), HeaderLen)
	}

	e := Envelope{
		MajorVersion:   b[0],
		MinorVersion:   b[1],
		Flags:          binary.BigEndian.Uint16(b[2:4]),
		SessionID:      binary.BigEndian.Uint32(b[4:8]),
		RequestID:      binary.BigEndian.Uint32(b[8:12]),
		Sequence:       binary.BigEndian.Uint32(b[12:16]),
		DeclaredLength: binary.BigEndian.Uint32(b[16:20]),
		FragmentLength: binary.BigEndian.Uint32(b[20:24]),
	}

	if err := e.validate(limits); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func (e Envelope) validate(limits Limits) error {
	if e.MajorVersion != MajorVersion {
		return common.NewProtocolError(common.KindMalformedEnvelope,
			"unsupported protocol version %d.%d", e.MajorVersion, e.MinorVersion)
	}
	if limits.MaxMessageLength > 0 && e.DeclaredLength > limits.MaxMessageLength {
		return common.NewProtocolError(common.KindMalformedEnvelope,
			"declared length %d exceeds limit %d", e.DeclaredLength, limits.MaxMessageLength)
	}
	if e.FragmentLength > e.DeclaredLength {
		return common.NewProtocolError(common.KindMalformedEnvelope,
			"fragment length %d exceeds declared length %d", e.FragmentLength, e.DeclaredLength)
	}
	if !e.Truncated() && e.FragmentLength != e.DeclaredLength {
		return common.NewProtocolError(common.KindMalformedEnvelope,
			"unfragmented body of %d bytes declares %d", e.FragmentLength, e.DeclaredLength)
	}
	return nil
}
