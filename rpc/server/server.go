package server

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/ValentinKolb/hdlwire/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

var (
	requestsHandled    = metrics.NewCounter("hdlwire_server_requests_total")
	requestsUnhandled  = metrics.NewCounter("hdlwire_server_unsupported_total")
	handlerDurationSec = metrics.NewSummary("hdlwire_server_handler_duration_seconds")
)

// NewRPCServer creates a new RPC server
// It takes a config and a transport as parameters. Adapters are added with
// Register before Serve is called.
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(serializer.NewBinarySerializer()),
//	)
//	s.Register(server.NewLoopbackAdapter(), common.OCResolution)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(config common.ServerConfig, transport transport.IRPCServerTransport) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:    config,
		transport: transport,
		adapters:  xsync.NewMapOf[common.OpCode, IRPCServerAdapter](),
	}
}

// RPCServer routes decoded requests to the adapter registered for their op code
type RPCServer struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	adapters  *xsync.MapOf[common.OpCode, IRPCServerAdapter]
	metrics   *http.Server
}

// Register makes adapter answer requests with any of the given op codes,
// replacing an adapter registered earlier for the same code
func (s *RPCServer) Register(adapter IRPCServerAdapter, ops ...common.OpCode) {
	for _, op := range ops {
		s.adapters.Store(op, adapter)
	}
}

// Handle answers one request, it is the handler installed on the transport
func (s *RPCServer) Handle(req common.Message) common.Message {
	adapter, ok := s.adapters.Load(req.OpCode)
	if !ok {
		requestsUnhandled.Inc()
		Logger.Debugf("No adapter for %s", req.String())
		return *common.NewErrorResponse(&req, common.RCOperationNotSupported,
			fmt.Sprintf("op code %s not supported", req.OpCode))
	}

	defer handlerDurationSec.UpdateDuration(time.Now())
	requestsHandled.Inc()

	resp := adapter.Handle(&req)
	if resp == nil {
		return *common.NewErrorResponse(&req, common.RCError, "no response")
	}
	return *resp
}

// Serve starts the RPC server and blocks until the transport stops.
// SIGINT and SIGTERM close the transport.
func (s *RPCServer) Serve() error {
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", s.config.String())

	if s.config.MetricsEndpoint != "" {
		s.serveMetrics()
	}

	s.transport.RegisterHandler(s.Handle)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case sig := <-signals:
			Logger.Infof("Received %s, shutting down", sig)
			if err := s.Close(); err != nil {
				Logger.Errorf("Shutdown failed: %v", err)
			}
		case <-stop:
		}
	}()

	return s.transport.Listen(s.config)
}

// Close stops the transport and the metrics endpoint
func (s *RPCServer) Close() error {
	if s.metrics != nil {
		if err := s.metrics.Close(); err != nil {
			Logger.Warningf("Closing metrics endpoint: %v", err)
		}
	}
	return s.transport.Close()
}

// serveMetrics exposes all counters in Prometheus text format on /metrics
func (s *RPCServer) serveMetrics() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	s.metrics = &http.Server{Addr: s.config.MetricsEndpoint, Handler: mux}

	go func() {
		Logger.Infof("Serving metrics on %s/metrics", s.config.MetricsEndpoint)
		if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Logger.Errorf("Metrics endpoint failed: %v", err)
		}
	}()
}
