package base

import (
	"errors"
	"fmt"
	"io"
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
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	serializer serializer.IRPCSerializer
	handler    transport.ServerHandleFunc
	config     common.ServerConfig
	bufferPool *sync.Pool
	bufferSize int

	reassembler *reassembly.Reassembler
	correlator  *pipeline.Correlator

	mu       sync.Mutex // protects listener and links
	listener net.Listener
	links    map[uuid.UUID]*link
	closing  atomic.Bool
	wg       sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport reading into
// buffers of bufferSize bytes
func NewBaseServerTransport(connector IServerConnector, s serializer.IRPCSerializer, bufferSize int) transport.IRPCServerTransport {
	if bufferSize <= 0 {
		bufferSize = DefaultReadBufferSize
	}

	return &serverTransport{
		connector:  connector,
		serializer: s,
		bufferSize: bufferSize,
		links:      make(map[uuid.UUID]*link),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	config.Pipeline = config.Pipeline.WithDefaults()
	if err := config.Pipeline.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	t.config = config
	t.reassembler = reassembly.NewReassembler(config.Pipeline.ReassemblyCapacity)
	// servers only answer, the correlator just satisfies the pipeline and
	// counts stale responses sent by confused peers
	t.correlator = correlator.New[common.Message]()

	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	t.mu.Lock()
	if t.closing.Load() {
		t.mu.Unlock()
		listener.Close()
		return nil
	}
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), config.Transport.Endpoint, t.workersPerConn())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}

		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

func (t *serverTransport) Close() error {
	t.closing.Store(true)

	t.mu.Lock()
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	for _, l := range t.links {
		l.fail(errors.New("server shutting down"))
	}
	t.mu.Unlock()

	t.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// workersPerConn returns the per connection worker limit, minimum one
func (t *serverTransport) workersPerConn() int {
	return max(t.config.Transport.WorkersPerConn, 1)
}

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer t.wg.Done()

	timeout := timeoutOf(t.config.TimeoutSecond)

	pipe, err := pipeline.New(uuid.New(), t.config.Pipeline, t.serializer, t.reassembler, t.correlator)
	if err != nil {
		Logger.Errorf("Failed to create pipeline: %v", err)
		conn.Close()
		return
	}
	l := newLink(conn, pipe, timeout)

	t.mu.Lock()
	if t.closing.Load() {
		t.mu.Unlock()
		l.fail(errors.New("server shutting down"))
		return
	}
	t.links[pipe.ConnID()] = l
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.links, pipe.ConnID())
		t.mu.Unlock()
	}()

	Logger.Debugf("Accepted %s as %s", conn.RemoteAddr(), pipe.ConnID())

	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.workersPerConn())

	// Create a wait group to wait for all workers to finish
	var wg sync.WaitGroup

	// handleRequest runs the handler for one request in a worker goroutine
	handleRequest := func(req common.Message) {
		defer func() {
			<-workerSemaphore // Release semaphore slot
			wg.Done()         // Mark worker as done
		}()

		start := time.Now()
		resp := transport.NormalizeResponse(req, t.handler(req))
		Logger.Debugf("Processed %s took %s", req.String(), time.Since(start))

		frames, err := pipe.Reply(resp)
		if err != nil {
			Logger.Errorf("Failed to encode response to request %d: %v", req.RequestID, err)
			frames, err = pipe.Reply(*common.NewErrorResponse(&req, common.RCError, "response could not be encoded"))
			if err != nil {
				return
			}
		}
		if !l.send(frames) {
			Logger.Debugf("Dropping response to request %d, connection closed", req.RequestID)
		}
	}

	buf := t.bufferPool.Get().([]byte)
	defer t.bufferPool.Put(buf)

	var readErr error
	for {
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				readErr = fmt.Errorf("failed to set read deadline: %w", err)
				break
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			requests, perr := pipe.Inbound(buf[:n])
			for _, req := range requests {
				// Acquire a slot in the semaphore (blocks if the limit is reached)
				workerSemaphore <- struct{}{}
				wg.Add(1)
				go handleRequest(req)
			}
			if perr != nil {
				readErr = perr
				break
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}

	switch {
	case readErr == io.EOF:
		Logger.Infof("Connection %s closed by client", pipe.ConnID())
	case l.failed():
		// closed by Close or a failed write
	default:
		Logger.Errorf("Error on connection %s: %v", pipe.ConnID(), readErr)
	}

	// Wait for all workers, then flush their responses before closing
	wg.Wait()
	l.drain()
	l.fail(readErr)
}
