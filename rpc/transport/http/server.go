package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
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

// contentType marks a POST body as a sequence of envelopes
const contentType = "application/x-hdl-message"

func NewHttpServerTransport(s serializer.IRPCSerializer) transport.IRPCServerTransport {
	return &httpServerTransport{serializer: s}
}

type httpServerTransport struct {
	handler     transport.ServerHandleFunc
	config      common.ServerConfig
	serializer  serializer.IRPCSerializer
	reassembler *reassembly.Reassembler
	correlator  *pipeline.Correlator

	mu     sync.Mutex
	server *http.Server
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *httpServerTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return errors.New("no handler registered")
	}

	config.Pipeline = config.Pipeline.WithDefaults()
	if err := config.Pipeline.Validate(); err != nil {
		return err
	}
	t.config = config
	t.reassembler = reassembly.NewReassembler(config.Pipeline.ReassemblyCapacity)
	t.correlator = correlator.New[common.Message]()

	mux := http.NewServeMux()
	if t.config.LogLevel == "debug" {
		mux.HandleFunc("POST /", loggerMiddleware(t.handleRequest))
	} else {
		mux.HandleFunc("POST /", t.handleRequest)
	}

	t.mu.Lock()
	t.server = &http.Server{
		Addr:              t.config.Transport.Endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := t.server
	t.mu.Unlock()

	Logger.Infof("Starting HTTP server on %s", t.config.Transport.Endpoint)

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (t *httpServerTransport) Close() error {
	t.mu.Lock()
	server := t.server
	t.mu.Unlock()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleRequest decodes every request in the POST body with a pipeline of its
// own and writes all responses into the reply body
func (t *httpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if ct := r.Header.Get("Content-Type"); ct != "" && ct != contentType {
		http.Error(w, "Unsupported content type", http.StatusUnsupportedMediaType)
		return
	}

	limit := int64(t.config.Pipeline.MaxMessageLength) * 2
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	pipe, err := pipeline.New(uuid.New(), t.config.Pipeline, t.serializer, t.reassembler, t.correlator)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer pipe.Close(nil)

	requests, err := pipe.Inbound(body)
	if err != nil && len(requests) == 0 {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var out bytes.Buffer
	for _, req := range requests {
		resp := transport.NormalizeResponse(req, t.handler(req))
		frames, err := pipe.Reply(resp)
		if err != nil {
			Logger.Errorf("Failed to encode response to request %d: %v", req.RequestID, err)
			if frames, err = pipe.Reply(*common.NewErrorResponse(&req, common.RCError, "response could not be encoded")); err != nil {
				continue
			}
		}
		for _, f := range frames {
			out.Write(f)
		}
	}

	w.Header().Set("Content-Type", contentType)
	if _, err = w.Write(out.Bytes()); err != nil {
		Logger.Errorf("Failed to write response: %v", err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d (%d bytes) took %s", r.Method, r.URL.Path, rw.statusCode, r.ContentLength, time.Since(start))
	}
}
