package pipeline

import (
	"github.com/ValentinKolb/hdlwire/rpc/envelope"
)

// buffers larger than this are released once fully consumed
const maxRetainedBuffer = 1024 * 1024

// Frame is one envelope together with the fragment that followed it.
// Payload points into the decoder's buffer and is only valid until the next
// call to Feed.
type Frame struct {
	Envelope envelope.Envelope
	Payload  []byte
}

// Decoder splits a byte stream into frames. Bytes are accumulated in one
// buffer and consumed through an explicit cursor; a frame is only consumed
// once its header and its whole fragment are buffered.
//
// A Decoder belongs to one connection and is not safe for concurrent use.
type Decoder struct {
	limits envelope.Limits
	buf    []byte
	cursor int
	err    error // sticky, set by the first malformed header
}

// NewDecoder creates a decoder rejecting envelopes outside limits
func NewDecoder(limits envelope.Limits) *Decoder {
	return &Decoder{limits: limits}
}

// Feed appends chunk and returns every frame that is now complete, in stream
// order. A chunk may complete zero, one or many frames.
//
// A malformed header is fatal for the stream: the frames before it are
// returned together with an error matching common.ErrMalformedEnvelope, and
// every later call returns the same error.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}

	d.compact()
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		frame, ok, err := d.next()
		if err != nil {
			d.err = err
			return frames, err
		}
		if !ok {
			return frames, nil
		}
		frames = append(frames, frame)
	}
}

// Buffered returns the number of received bytes not yet consumed
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.cursor
}

// next consumes one frame. ok is false if more bytes are needed, in which
// case the cursor is left where it was.
func (d *Decoder) next() (frame Frame, ok bool, err error) {
	avail := d.buf[d.cursor:]
	if len(avail) < envelope.HeaderLen {
		return Frame{}, false, nil
	}

	env, err := envelope.Decode(avail[:envelope.HeaderLen], d.limits)
	if err != nil {
		return Frame{}, false, err
	}

	end := envelope.HeaderLen + int(env.FragmentLength)
	if len(avail) < end {
		return Frame{}, false, nil
	}

	d.cursor += end
	return Frame{Envelope: env, Payload: avail[envelope.HeaderLen:end:end]}, true, nil
}

// compact drops the consumed prefix. Frames handed out by the previous Feed
// are invalid afterwards.
func (d *Decoder) compact() {
	if d.cursor == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.cursor:])
	d.buf = d.buf[:n]
	d.cursor = 0

	if n == 0 && cap(d.buf) > maxRetainedBuffer {
		d.buf = nil
	}
}
