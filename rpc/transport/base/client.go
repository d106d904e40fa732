package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/ValentinKolb/hdlwire/rpc/correlator"
	"github.com/ValentinKolb/hdlwire/rpc/pipeline"
	"github.com/ValentinKolb/hdlwire/rpc/reassembly"
	"github.com/ValentinKolb/hdlwire/rpc/serializer"
	"github.com/ValentinKolb/hdlwire/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

// expiryInterval is how often the client fails requests past their deadline
const expiryInterval = 100 * time.Millisecond

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientConnection is one slot of the connection pool. The socket behind it
// is replaced on reconnect; every socket gets a fresh connection id, so late
// responses on a new socket never match requests of the lost one.
type clientConnection struct {
	endpoint string
	parent   *clientTransport

	mu   sync.RWMutex // protects curr
	curr *link
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector   IClientConnector
	serializer  serializer.IRPCSerializer
	config      common.ClientConfig
	reassembler *reassembly.Reassembler
	correlator  *pipeline.Correlator
	requestIDs  atomic.Uint32 // shared by every connection of the pool

	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex uint64 // Atomic counter for Round Robin

	stopping atomic.Bool
	ctx      context.Context // done once Close was called
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector, s serializer.IRPCSerializer) transport.IRPCClientTransport {
	return &clientTransport{
		connector:  connector,
		serializer: s,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// Stop a previous Connect, including its reconnect loops
	if t.cancel != nil {
		t.Close()
	}

	config.Pipeline = config.Pipeline.WithDefaults()
	if err := config.Pipeline.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}

	t.config = config
	t.stopping.Store(false)
	t.reassembler = reassembly.NewReassembler(config.Pipeline.ReassemblyCapacity)
	t.correlator = correlator.New[common.Message]()

	ctx, cancel := context.WithCancel(context.Background())
	t.ctx, t.cancel = ctx, cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.correlator.Run(ctx, expiryInterval)
	}()

	// Set default value for ConnectionsPerEndpoint
	connectionsPerEP := 1
	if config.Transport.ConnectionsPerEndpoint > 0 {
		connectionsPerEP = config.Transport.ConnectionsPerEndpoint
	}

	connections := make([]*clientConnection, 0, len(config.Transport.Endpoints)*connectionsPerEP)

	for _, endpoint := range config.Transport.Endpoints {
		// Create multiple connections per endpoint
		for i := 0; i < connectionsPerEP; i++ {
			clientConn := &clientConnection{
				endpoint: endpoint,
				parent:   t,
			}

			l, err := clientConn.dial()
			if err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
				continue
			}
			clientConn.curr = l
			connections = append(connections, clientConn)

			Logger.Infof("Connected to %s (connection %d/%d)", endpoint, i+1, connectionsPerEP)

			t.wg.Add(1)
			go clientConn.run(l)
		}
	}

	t.connectionsMu.Lock()
	t.connections = connections
	t.connectionsMu.Unlock()

	if len(connections) == 0 {
		t.stopping.Store(true)
		cancel()
		return fmt.Errorf("failed to connect to any endpoint")
	}

	Logger.Infof("Connected to %d out of %d connections to %d endpoints using %s transport",
		len(connections), len(config.Transport.Endpoints)*connectionsPerEP, len(config.Transport.Endpoints), t.connector.GetName())

	return nil
}

func (t *clientTransport) Send(ctx context.Context, req common.Message) (common.Message, error) {
	if t.stopping.Load() {
		return common.Message{}, fmt.Errorf("transport is closed")
	}

	timeout := timeoutOf(t.config.TimeoutSecond)

	// send performs one attempt on one connection
	send := func(connection *clientConnection) (common.Message, error) {
		l := connection.current()
		if l == nil || l.failed() {
			return common.Message{}, common.NewProtocolError(common.KindConnectionClosed, "no live socket to %s", connection.endpoint)
		}

		pending, err := l.pipe.SendWithTimeout(req, timeout)
		if err != nil {
			return common.Message{}, err
		}

		if !l.send(pending.Frames) {
			l.pipe.Close(errors.New("outbound queue closed"))
			return common.Message{}, common.NewProtocolError(common.KindConnectionClosed, "outbound queue to %s closed", connection.endpoint)
		}

		return l.pipe.Await(ctx, pending)
	}

	// We always try at least once, and up to maxRetries times
	maxRetries := t.config.Transport.RetryCount
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		conn := t.getNextConnection()
		if conn == nil {
			return common.Message{}, fmt.Errorf("no active connections available")
		}

		resp, err := send(conn)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// only a lost connection is worth another attempt, the request may
		// not have reached the server
		if !errors.Is(err, common.ErrConnectionClosed) || ctx.Err() != nil {
			return common.Message{}, err
		}
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, maxRetries, err)

		if i < maxRetries-1 {
			select {
			case <-time.After(backoff(i)):
			case <-ctx.Done():
				return common.Message{}, ctx.Err()
			}
		}
	}

	return common.Message{}, fmt.Errorf("failed to send request after %d attempts: %w", maxRetries, lastErr)
}

func (t *clientTransport) Close() error {
	t.stopping.Store(true)
	t.closeConnections()
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return nil
	}

	var index uint64
	if len(t.connections) == 1 {
		// optimize for single connection
		index = 0
	} else {
		index = atomic.AddUint64(&t.nextConnIndex, 1) % uint64(len(t.connections))
	}
	return t.connections[index]
}

// closeConnections fails the live socket of every connection
func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()

	for _, conn := range t.connections {
		if l := conn.current(); l != nil {
			l.fail(errors.New("client transport closed"))
		}
	}

	t.connections = nil
}

// current returns the live socket of the connection, nil while reconnecting
func (c *clientConnection) current() *link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.curr
}

// dial opens a new socket to the endpoint with a fresh connection id
func (c *clientConnection) dial() (*link, error) {
	t := c.parent

	conn, err := t.connector.Connect(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", c.endpoint, err)
	}

	pipe, err := pipeline.New(uuid.New(), t.config.Pipeline, t.serializer, t.reassembler, t.correlator,
		pipeline.WithSessionID(t.config.SessionID), pipeline.WithRequestIDs(&t.requestIDs))
	if err != nil {
		conn.Close()
		return nil, err
	}

	return newLink(conn, pipe, timeoutOf(t.config.TimeoutSecond)), nil
}

// run reads from l until it fails, then reconnects until the transport stops
func (c *clientConnection) run(l *link) {
	defer c.parent.wg.Done()

	for {
		c.readResponses(l)

		c.mu.Lock()
		if c.curr == l {
			c.curr = nil
		}
		c.mu.Unlock()

		var err error
		l, err = c.reconnect()
		if err != nil {
			return
		}
	}
}

// readResponses feeds everything read from the socket into the pipeline, which
// resolves the waiting requests. It returns once the socket failed.
func (c *clientConnection) readResponses(l *link) {
	bufSize := c.parent.config.Transport.ReadBufferSize
	if bufSize <= 0 {
		bufSize = DefaultReadBufferSize
	}
	buf := make([]byte, bufSize)

	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			requests, perr := l.pipe.Inbound(buf[:n])
			for _, req := range requests {
				Logger.Warningf("Ignoring request %s sent by server %s", req.String(), c.endpoint)
			}
			if perr != nil {
				Logger.Errorf("Closing connection to %s: %v", c.endpoint, perr)
				l.fail(perr)
				return
			}
		}
		if err != nil {
			if !l.failed() {
				Logger.Warningf("Connection to %s lost: %v", c.endpoint, err)
			}
			l.fail(err)
			return
		}
	}
}

// reconnect dials with exponential backoff until it succeeds or the transport stops
func (c *clientConnection) reconnect() (*link, error) {
	for attempt := 0; ; attempt++ {
		if c.parent.stopping.Load() {
			return nil, fmt.Errorf("transport stopped")
		}

		l, err := c.dial()
		if err == nil {
			c.mu.Lock()
			c.curr = l
			c.mu.Unlock()

			// Close may have run between the check above and publishing l
			if c.parent.stopping.Load() {
				l.fail(errors.New("client transport closed"))
				return nil, fmt.Errorf("transport stopped")
			}
			Logger.Infof("Reconnected to %s as %s", c.endpoint, l.pipe.ConnID())
			return l, nil
		}

		Logger.Debugf("Reconnect attempt %d to %s failed: %v", attempt+1, c.endpoint, err)
		select {
		case <-time.After(backoff(attempt)):
		case <-c.parent.ctx.Done():
			return nil, fmt.Errorf("transport stopped")
		}
	}
}
