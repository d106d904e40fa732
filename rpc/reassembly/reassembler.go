package reassembly

import (
	"sync"

	"github.com/ValentinKolb/hdlwire/lib/lru"
	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/ValentinKolb/hdlwire/rpc/envelope"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("reassembly")

var (
	fragmentsReceived = metrics.NewCounter(`hdlwire_reassembly_fragments_total`)
	messagesAssembled = metrics.NewCounter(`hdlwire_reassembly_completed_total`)
	messagesAborted   = metrics.NewCounter(`hdlwire_reassembly_aborted_total`)
	buffersEvicted    = metrics.NewCounter(`hdlwire_reassembly_evicted_total`)
)

// initial capacity of a buffer, grown on demand so a hostile declared length
// does not allocate up front
const initialBufferSize = 64 * 1024

// Key identifies one in-flight fragmented message. Request ids are only
// unique per peer, so the connection that carried the fragments is part of it.
type Key struct {
	ConnID    uuid.UUID
	SessionID uint32
	RequestID uint32
}

// KeyOf returns the reassembly key of an envelope received on connID
func KeyOf(connID uuid.UUID, e envelope.Envelope) Key {
	return Key{ConnID: connID, SessionID: e.SessionID, RequestID: e.RequestID}
}

// buffer accumulates the fragments of one message. It is only touched by
// the Reassembler, under its own mutex.
type buffer struct {
	mu      sync.Mutex
	total   uint32
	data    []byte
	nextSeq uint32
	closed  bool // completed or aborted, the entry is gone from the store
}

func newBuffer(total uint32) *buffer {
	size := total
	if size > initialBufferSize {
		size = initialBufferSize
	}
	return &buffer{
		total: total,
		data:  make([]byte, 0, size),
	}
}

// Reassembler rebuilds message bodies from truncated envelopes.
// It is safe for concurrent use and may be shared by many connections.
type Reassembler struct {
	store lru.IStore[Key, *buffer]
}

// NewReassembler creates a reassembler keeping at most capacity messages in flight
func NewReassembler(capacity int) *Reassembler {
	return &Reassembler{
		store: lru.New[Key, *buffer](capacity, lru.WithEvictHook[Key, *buffer](onEvict)),
	}
}

func onEvict(key Key, b *buffer) {
	b.mu.Lock()
	b.closed = true
	received, total := len(b.data), b.total
	b.data = nil
	b.mu.Unlock()

	buffersEvicted.Inc()
	Logger.Debugf("Evicted partial message conn=%s session=%d request=%d (%d/%d bytes)",
		key.ConnID, key.SessionID, key.RequestID, received, total)
}

// Receive applies one fragment that is not bound to a connection,
// see ReceiveFrom
func (r *Reassembler) Receive(env envelope.Envelope, payload []byte) (assembled []byte, complete bool, err error) {
	return r.ReceiveFrom(uuid.Nil, env, payload)
}

// ReceiveFrom applies one fragment received on connection connID. It returns
// the assembled body with complete=true once the declared length has been
// received. Errors match common.ErrProtocolViolation; the message is discarded
// but the connection stays usable.
func (r *Reassembler) ReceiveFrom(connID uuid.UUID, env envelope.Envelope, payload []byte) (assembled []byte, complete bool, err error) {
	fragmentsReceived.Inc()
	key := KeyOf(connID, env)

	var b *buffer
	if env.Sequence == 0 {
		var inserted bool
		b, inserted = r.store.GetOrInsertWith(key, func() *buffer {
			return newBuffer(env.DeclaredLength)
		})
		if !inserted {
			r.abort(key, b)
			return nil, false, r.violation(key, "second first fragment for an open message")
		}
	} else {
		var ok bool
		b, ok = r.store.Get(key)
		if !ok {
			return nil, false, r.orphan(key, "fragment %d without an open message", env.Sequence)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		// completed, aborted or evicted by another caller between lookup and lock
		return nil, false, r.orphan(key, "fragment %d for a closed message", env.Sequence)
	}
	if env.DeclaredLength != b.total {
		r.abortLocked(key, b)
		return nil, false, r.violation(key, "declared length %d differs from %d", env.DeclaredLength, b.total)
	}
	if env.Sequence != b.nextSeq {
		r.abortLocked(key, b)
		return nil, false, r.violation(key, "fragment %d out of order, expected %d", env.Sequence, b.nextSeq)
	}
	if uint64(len(b.data))+uint64(len(payload)) > uint64(b.total) {
		r.abortLocked(key, b)
		return nil, false, r.violation(key, "%d bytes overflow declared length %d", len(b.data)+len(payload), b.total)
	}

	b.data = append(b.data, payload...)
	b.nextSeq++

	if uint32(len(b.data)) < b.total {
		return nil, false, nil
	}

	b.closed = true
	r.removeBuffer(key, b)
	messagesAssembled.Inc()

	assembled, b.data = b.data, nil
	return assembled, true, nil
}

// InFlight returns the number of messages currently being reassembled
func (r *Reassembler) InFlight() int {
	return r.store.Size()
}

// Capacity returns the maximum number of messages reassembled at once
func (r *Reassembler) Capacity() int {
	return r.store.Capacity()
}

// Resize changes the in-flight limit, see lru.IStore.Resize
func (r *Reassembler) Resize(capacity int) error {
	return r.store.Resize(capacity)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (r *Reassembler) abort(key Key, b *buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		r.abortLocked(key, b)
	}
}

func (r *Reassembler) abortLocked(key Key, b *buffer) {
	b.closed = true
	b.data = nil
	r.removeBuffer(key, b)
	messagesAborted.Inc()
}

// removeBuffer drops the store entry only while it still holds b, a newer
// message opened under the same key after an eviction is left alone
func (r *Reassembler) removeBuffer(key Key, b *buffer) {
	r.store.RemoveIf(key, func(current *buffer) bool { return current == b })
}

// violation reports a message that is being aborted, logged once per message
func (r *Reassembler) violation(key Key, format string, args ...interface{}) error {
	err := common.NewProtocolError(common.KindProtocolViolation, format, args...)
	Logger.Warningf("Discarding message conn=%s session=%d request=%d: %v",
		key.ConnID, key.SessionID, key.RequestID, err)
	return err
}

// orphan reports a fragment of a message that is already gone. The remaining
// fragments of an aborted message all end up here, so this stays quiet.
func (r *Reassembler) orphan(key Key, format string, args ...interface{}) error {
	err := common.NewProtocolError(common.KindProtocolViolation, format, args...)
	Logger.Debugf("Dropping fragment conn=%s session=%d request=%d: %v",
		key.ConnID, key.SessionID, key.RequestID, err)
	return err
}
