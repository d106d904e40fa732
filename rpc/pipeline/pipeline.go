package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/ValentinKolb/hdlwire/rpc/correlator"
	"github.com/ValentinKolb/hdlwire/rpc/envelope"
	"github.com/ValentinKolb/hdlwire/rpc/reassembly"
	"github.com/ValentinKolb/hdlwire/rpc/serializer"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("pipeline")

// Correlator is the correlator type shared by all pipelines of a process
type Correlator = correlator.Correlator[common.Message]

// Request is an outbound request registered with the correlator.
// Frames must be written to the connection as one unit.
type Request struct {
	ID     uint32
	Future *correlator.Future[common.Message]
	Frames [][]byte
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithBodyFilter installs the session layer filter, see BodyFilter
func WithBodyFilter(f BodyFilter) Option {
	return func(p *Pipeline) {
		p.filter = f
	}
}

// WithSessionID sets the session id written into outbound requests
func WithSessionID(id uint32) Option {
	return func(p *Pipeline) {
		p.sessionID = id
	}
}

// WithRequestIDs draws outbound request ids from ids instead of a counter
// private to the pipeline. Transports share one counter across all their
// connections so a request id is never reused while the transport lives.
func WithRequestIDs(ids *atomic.Uint32) Option {
	return func(p *Pipeline) {
		p.requestIDs = ids
	}
}

// Pipeline is the protocol state of one connection. Inbound bytes go through
// the decoder, the shared reassembler and the serializer; decoded responses
// resolve the shared correlator and decoded requests are returned to the
// caller. Outbound messages are serialized and split by the encoder.
//
// Inbound must be called from a single goroutine (the connection reader).
// Send, Reply and Close may be called concurrently.
type Pipeline struct {
	connID      uuid.UUID
	sessionID   uint32
	cfg         common.PipelineConfig
	decoder     *Decoder
	encoder     *Encoder
	serializer  serializer.IRPCSerializer
	reassembler *reassembly.Reassembler
	correlator  *Correlator
	filter      BodyFilter

	requestIDs *atomic.Uint32
	closed     atomic.Bool
}

// New creates the pipeline of connection connID. The reassembler and the
// correlator are usually shared by every connection of a process.
func New(connID uuid.UUID, cfg common.PipelineConfig, s serializer.IRPCSerializer,
	r *reassembly.Reassembler, c *Correlator, opts ...Option) (*Pipeline, error) {

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	p := &Pipeline{
		connID:      connID,
		cfg:         cfg,
		decoder:     NewDecoder(envelope.Limits{MaxMessageLength: cfg.MaxMessageLength}),
		serializer:  s,
		reassembler: r,
		correlator:  c,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.requestIDs == nil {
		p.requestIDs = new(atomic.Uint32)
	}
	p.encoder = NewEncoder(cfg, s, p.filter)
	return p, nil
}

// ConnID returns the identity of the connection the pipeline belongs to
func (p *Pipeline) ConnID() uuid.UUID {
	return p.connID
}

// --------------------------------------------------------------------------
// Inbound
// --------------------------------------------------------------------------

// Inbound feeds bytes read from the connection. Responses are delivered to
// their futures; requests are returned in stream order.
//
// Messages that fail reassembly, the body filter or deserialization are
// logged and dropped and do not produce an error. The returned error is
// connection-fatal (see common.IsConnectionFatal): a malformed envelope, or
// common.ErrConnectionClosed after Close. Requests decoded before a malformed
// envelope are still returned.
func (p *Pipeline) Inbound(chunk []byte) ([]common.Message, error) {
	if p.closed.Load() {
		return nil, common.NewProtocolError(common.KindConnectionClosed, "connection %s", p.connID)
	}
	bytesIn.Add(len(chunk))

	frames, err := p.decoder.Feed(chunk)
	if err != nil {
		malformed.Inc()
		Logger.Warningf("Malformed envelope on connection %s: %v", p.connID, err)
	}

	var requests []common.Message
	for _, f := range frames {
		framesIn.Inc()

		msg, ok := p.handleFrame(f)
		if !ok {
			continue
		}

		if f.Envelope.IsResponse() {
			responsesIn.Inc()
			p.correlator.Resolve(p.connID, msg.RequestID, msg)
			continue
		}
		requestsIn.Inc()
		requests = append(requests, msg)
	}

	return requests, err
}

// handleFrame turns one frame into a message. ok is false if the frame only
// completed part of a message or the message was discarded.
func (p *Pipeline) handleFrame(f Frame) (common.Message, bool) {
	env := f.Envelope
	body := f.Payload

	if env.Truncated() {
		assembled, complete, err := p.reassembler.ReceiveFrom(p.connID, env, body)
		if err != nil {
			violationCounter("reassembly").Inc()
			return common.Message{}, false
		}
		if !complete {
			return common.Message{}, false
		}
		body = assembled
	}

	if env.Flags&sessionFlags != 0 {
		if p.filter == nil {
			p.discard(env, "body filter", fmt.Errorf("flags %#04x set but no body filter installed", env.Flags&sessionFlags))
			return common.Message{}, false
		}
		opened, err := p.filter.Open(body, env.Flags&sessionFlags)
		if err != nil {
			p.discard(env, "body filter", err)
			return common.Message{}, false
		}
		body = opened
	}

	msg := common.Message{SessionID: env.SessionID, RequestID: env.RequestID}
	if err := p.serializer.Deserialize(body, &msg); err != nil {
		p.discard(env, "deserialize", err)
		return common.Message{}, false
	}
	return msg, true
}

func (p *Pipeline) discard(env envelope.Envelope, stage string, cause error) {
	violationCounter(stage).Inc()
	err := common.WrapProtocolError(common.KindProtocolViolation, cause, "%s failed", stage)
	Logger.Warningf("Discarding message session=%d request=%d on connection %s: %v",
		env.SessionID, env.RequestID, p.connID, err)
}

// --------------------------------------------------------------------------
// Outbound
// --------------------------------------------------------------------------

// Send registers msg with the correlator under a fresh request id and encodes
// it. The caller writes Frames and waits with Await.
func (p *Pipeline) Send(msg common.Message) (*Request, error) {
	return p.SendWithTimeout(msg, 0)
}

// SendWithTimeout is Send with a deadline enforced by the correlator's Expire.
// A non-positive timeout means no deadline.
func (p *Pipeline) SendWithTimeout(msg common.Message, timeout time.Duration) (*Request, error) {
	if p.closed.Load() {
		return nil, common.NewProtocolError(common.KindConnectionClosed, "connection %s", p.connID)
	}

	msg.SessionID = p.sessionID
	msg.RequestID = p.requestIDs.Add(1)

	future, err := p.correlator.CreatePendingWithTimeout(p.connID, msg.RequestID, timeout)
	if err != nil {
		return nil, err
	}
	if p.closed.Load() {
		// Close ran between the check above and the registration
		p.correlator.FailAllForConnection(p.connID, nil)
		return nil, common.NewProtocolError(common.KindConnectionClosed, "connection %s", p.connID)
	}

	frames, err := p.encoder.Encode(msg, 0)
	if err != nil {
		p.correlator.Cancel(p.connID, msg.RequestID)
		return nil, err
	}

	return &Request{ID: msg.RequestID, Future: future, Frames: frames}, nil
}

// Await waits for the response to req, see correlator.Correlator.Await
func (p *Pipeline) Await(ctx context.Context, req *Request) (common.Message, error) {
	return p.correlator.Await(ctx, p.connID, req.ID, req.Future)
}

// Reply encodes resp, a response to a request received on this connection.
// resp must carry the request's session and request id and a response code.
func (p *Pipeline) Reply(resp common.Message) ([][]byte, error) {
	if !resp.IsResponse() {
		return nil, fmt.Errorf("reply to request %d has no response code", resp.RequestID)
	}
	return p.encoder.Encode(resp, envelope.FlagResponse)
}

// Close fails every request still waiting on this connection with an error
// wrapping reason and rejects further use. It returns the number of requests
// failed; only the first call has an effect.
func (p *Pipeline) Close(reason error) int {
	if !p.closed.CompareAndSwap(false, true) {
		return 0
	}
	return p.correlator.FailAllForConnection(p.connID, reason)
}

// Closed reports whether Close was called
func (p *Pipeline) Closed() bool {
	return p.closed.Load()
}

// Pending returns the number of requests waiting for a response
func (p *Pipeline) Pending() int {
	return p.correlator.Pending(p.connID)
}
