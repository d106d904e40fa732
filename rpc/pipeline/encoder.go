package pipeline

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/ValentinKolb/hdlwire/rpc/envelope"
	"github.com/ValentinKolb/hdlwire/rpc/serializer"
)

// ErrMessageTooLarge is returned by Encode for bodies over the configured maximum
var ErrMessageTooLarge = errors.New("message exceeds max message length")

// BodyFilter is the session layer hook applied to whole message bodies.
// Seal runs on outbound bodies and returns the flag bits (compressed,
// encrypted) describing what it did; Open reverses it on inbound bodies that
// carry those bits. A nil filter passes bodies through unchanged.
type BodyFilter interface {
	Seal(body []byte) ([]byte, uint16, error)
	Open(body []byte, flags uint16) ([]byte, error)
}

// sessionFlags are the envelope bits owned by the BodyFilter
const sessionFlags = envelope.FlagCompressed | envelope.FlagEncrypted

// Encoder turns messages into envelope and fragment buffers ready to be
// written with net.Buffers. It holds no per-message state and is safe for
// concurrent use.
type Encoder struct {
	cfg        common.PipelineConfig
	serializer serializer.IRPCSerializer
	filter     BodyFilter
}

// NewEncoder creates an encoder. cfg must be valid, see common.PipelineConfig.Validate.
func NewEncoder(cfg common.PipelineConfig, s serializer.IRPCSerializer, filter BodyFilter) *Encoder {
	return &Encoder{cfg: cfg, serializer: s, filter: filter}
}

// Encode serializes msg and splits the body into envelope/fragment pairs.
// The result alternates header and fragment buffers.
//
// A body of at most MaxFragmentSize bytes is sent as one plain envelope.
// Larger bodies are split into fragments of MaxFragmentSize bytes, every one
// flagged truncated, numbered from 0 and carrying the full body length as
// declared length. Bodies over MaxMessageLength fail with ErrMessageTooLarge
// before anything is produced.
func (e *Encoder) Encode(msg common.Message, flags uint16) ([][]byte, error) {
	body, err := e.serializer.Serialize(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", msg.OpCode, err)
	}

	flags &^= sessionFlags | envelope.FlagTruncated
	if e.filter != nil {
		var sealed uint16
		body, sealed, err = e.filter.Seal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to seal body: %w", err)
		}
		flags |= sealed & sessionFlags
	}

	if uint64(len(body)) > uint64(e.cfg.MaxMessageLength) {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(body), e.cfg.MaxMessageLength)
	}

	total := len(body)
	fragSize := int(e.cfg.MaxFragmentSize)

	count := 1
	if total > fragSize {
		flags |= envelope.FlagTruncated
		count = (total + fragSize - 1) / fragSize
	}

	headers := make([]byte, count*envelope.HeaderLen)
	out := make([][]byte, 0, 2*count)

	env := envelope.New(msg.SessionID, msg.RequestID, flags)
	env.DeclaredLength = uint32(total)

	for seq := 0; seq < count; seq++ {
		start := seq * fragSize
		end := start + fragSize
		if end > total {
			end = total
		}

		env.Sequence = uint32(seq)
		env.FragmentLength = uint32(end - start)

		header := headers[seq*envelope.HeaderLen : (seq+1)*envelope.HeaderLen]
		envelope.EncodeTo(header, env)
		out = append(out, header, body[start:end])
	}

	framesOut.Add(count)
	bytesOut.Add(len(headers) + len(body))
	return out, nil
}
