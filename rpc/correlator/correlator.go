package correlator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ValentinKolb/hdlwire/lib/util"
	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("correlator")

var (
	requestsCreated  = metrics.NewCounter(`hdlwire_correlator_created_total`)
	requestsResolved = metrics.NewCounter(`hdlwire_correlator_resolved_total`)
	requestsFailed   = metrics.NewCounter(`hdlwire_correlator_failed_total`)
	requestsExpired  = metrics.NewCounter(`hdlwire_correlator_expired_total`)
	requestsCanceled = metrics.NewCounter(`hdlwire_correlator_canceled_total`)
	staleResponses   = metrics.NewCounter(`hdlwire_correlator_stale_total`)
)

// --------------------------------------------------------------------------
// Per Connection State
// --------------------------------------------------------------------------

// connState holds the pending requests of one connection. The request map and
// the deadline queue are only modified together under mu.
type connState[T any] struct {
	mu        sync.Mutex
	requests  map[uint32]*Future[T]
	deadlines *util.DeadlineQueue
	closed    bool // failed by FailAllForConnection, no new entries
}

func newConnState[T any]() *connState[T] {
	return &connState[T]{
		requests:  make(map[uint32]*Future[T]),
		deadlines: util.NewDeadlineQueue(),
	}
}

// take removes requestID and returns its future. Caller holds s.mu.
func (s *connState[T]) take(requestID uint32) (*Future[T], bool) {
	f, ok := s.requests[requestID]
	if !ok {
		return nil, false
	}
	delete(s.requests, requestID)
	s.deadlines.Unschedule(requestID)
	return f, true
}

// --------------------------------------------------------------------------
// Correlator
// --------------------------------------------------------------------------

// Option configures a Correlator
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock replaces the wall clock used for deadlines, mainly for tests
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Correlator matches responses to the requests waiting for them.
// Every connection gets its own state, so request ids only need to be unique
// per connection. All methods are safe for concurrent use.
type Correlator[T any] struct {
	conns *xsync.MapOf[uuid.UUID, *connState[T]]
	clock clock.Clock
}

// New creates an empty correlator
func New[T any](opts ...Option) *Correlator[T] {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Correlator[T]{
		conns: xsync.NewMapOf[uuid.UUID, *connState[T]](),
		clock: o.clock,
	}
}

// CreatePending registers requestID on connID and returns the future the
// response will be delivered to. It fails with common.ErrDuplicateRequestID
// while an entry for the same id is live and with common.ErrConnectionClosed
// if the connection was already failed.
func (c *Correlator[T]) CreatePending(connID uuid.UUID, requestID uint32) (*Future[T], error) {
	return c.create(connID, requestID, time.Time{})
}

// CreatePendingWithTimeout is CreatePending with a deadline. Entries still
// pending after the deadline are failed with common.ErrTimeout by Expire.
// A non-positive timeout means no deadline.
func (c *Correlator[T]) CreatePendingWithTimeout(connID uuid.UUID, requestID uint32, timeout time.Duration) (*Future[T], error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = c.clock.Now().Add(timeout)
	}
	return c.create(connID, requestID, deadline)
}

func (c *Correlator[T]) create(connID uuid.UUID, requestID uint32, deadline time.Time) (*Future[T], error) {
	st, _ := c.conns.LoadOrCompute(connID, newConnState[T])

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil, common.NewProtocolError(common.KindConnectionClosed, "connection %s", connID)
	}
	if _, ok := st.requests[requestID]; ok {
		return nil, common.NewProtocolError(common.KindDuplicateRequestID, "request %d on connection %s", requestID, connID)
	}

	f := newFuture[T]()
	st.requests[requestID] = f
	if !deadline.IsZero() {
		st.deadlines.Schedule(requestID, deadline)
	}
	requestsCreated.Inc()
	return f, nil
}

// Resolve delivers response to the future waiting for requestID on connID and
// removes the entry. A response nobody waits for (never sent, already
// resolved, canceled or expired) is logged and counted as stale; it returns
// false and is otherwise ignored.
func (c *Correlator[T]) Resolve(connID uuid.UUID, requestID uint32, response T) bool {
	st, ok := c.conns.Load(connID)
	if !ok {
		c.stale(connID, requestID)
		return false
	}

	st.mu.Lock()
	f, ok := st.take(requestID)
	st.mu.Unlock()

	if !ok {
		c.stale(connID, requestID)
		return false
	}

	f.complete(response, nil)
	requestsResolved.Inc()
	return true
}

// Fail resolves the future of requestID with err and removes the entry
func (c *Correlator[T]) Fail(connID uuid.UUID, requestID uint32, err error) bool {
	st, ok := c.conns.Load(connID)
	if !ok {
		return false
	}

	st.mu.Lock()
	f, ok := st.take(requestID)
	st.mu.Unlock()

	if !ok {
		return false
	}

	var zero T
	f.complete(zero, err)
	requestsFailed.Inc()
	return true
}

// Cancel removes requestID without resolving its future. A response that
// arrives afterwards is treated as stale.
func (c *Correlator[T]) Cancel(connID uuid.UUID, requestID uint32) bool {
	st, ok := c.conns.Load(connID)
	if !ok {
		return false
	}

	st.mu.Lock()
	_, ok = st.take(requestID)
	st.mu.Unlock()

	if ok {
		requestsCanceled.Inc()
	}
	return ok
}

// FailAllForConnection fails every pending future of connID with an error
// matching common.ErrConnectionClosed and wrapping reason, then drops the
// connection's state. It returns the number of futures failed.
func (c *Correlator[T]) FailAllForConnection(connID uuid.UUID, reason error) int {
	st, ok := c.conns.LoadAndDelete(connID)
	if !ok {
		return 0
	}

	st.mu.Lock()
	st.closed = true
	futures := st.requests
	st.requests = make(map[uint32]*Future[T])
	st.deadlines.Reset()
	st.mu.Unlock()

	if len(futures) == 0 {
		return 0
	}

	var err error
	if reason != nil {
		err = common.WrapProtocolError(common.KindConnectionClosed, reason, "connection %s", connID)
	} else {
		err = common.NewProtocolError(common.KindConnectionClosed, "connection %s", connID)
	}

	var zero T
	for _, f := range futures {
		f.complete(zero, err)
	}
	requestsFailed.Add(len(futures))
	Logger.Infof("Failed %d pending requests of connection %s: %v", len(futures), connID, reason)
	return len(futures)
}

// Await waits for f, the future of requestID on connID. If ctx ends first the
// entry is canceled, so a late response is discarded as stale, and the error
// matches common.ErrTimeout for deadlines or is ctx.Err() otherwise.
func (c *Correlator[T]) Await(ctx context.Context, connID uuid.UUID, requestID uint32, f *Future[T]) (T, error) {
	select {
	case <-f.Done():
		return f.Result()
	case <-ctx.Done():
	}

	if !c.Cancel(connID, requestID) && f.IsDone() {
		// resolved between ctx expiry and cancel
		return f.Result()
	}

	var zero T
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return zero, common.WrapProtocolError(common.KindTimeout, ctx.Err(), "request %d on connection %s", requestID, connID)
	}
	return zero, ctx.Err()
}

// Expire fails every entry whose deadline has passed with an error matching
// common.ErrTimeout. It returns the number of entries expired.
func (c *Correlator[T]) Expire() int {
	now := c.clock.Now()
	total := 0

	c.conns.Range(func(connID uuid.UUID, st *connState[T]) bool {
		st.mu.Lock()
		ids := st.deadlines.PopExpired(now)
		expired := make(map[uint32]*Future[T], len(ids))
		for _, id := range ids {
			if f, ok := st.requests[id]; ok {
				delete(st.requests, id)
				expired[id] = f
			}
		}
		st.mu.Unlock()

		var zero T
		for id, f := range expired {
			f.complete(zero, common.NewProtocolError(common.KindTimeout, "request %d on connection %s", id, connID))
		}
		total += len(expired)
		return true
	})

	if total > 0 {
		requestsExpired.Add(total)
		Logger.Debugf("Expired %d pending requests", total)
	}
	return total
}

// Run calls Expire every interval until ctx is done
func (c *Correlator[T]) Run(ctx context.Context, interval time.Duration) {
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Expire()
		}
	}
}

// Pending returns the number of live entries of connID
func (c *Correlator[T]) Pending(connID uuid.UUID) int {
	st, ok := c.conns.Load(connID)
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.requests)
}

// Connections returns the number of connections with state
func (c *Correlator[T]) Connections() int {
	return c.conns.Size()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Correlator[T]) stale(connID uuid.UUID, requestID uint32) {
	staleResponses.Inc()
	Logger.Warningf("Dropping response for unknown request %d on connection %s", requestID, connID)
}
