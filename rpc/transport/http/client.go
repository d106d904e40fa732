package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
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

// NewHttpClientTransport creates a client tunneling requests through HTTP POSTs
func NewHttpClientTransport(s serializer.IRPCSerializer) transport.IRPCClientTransport {
	return &httpClientTransport{serializer: s}
}

type httpClientTransport struct {
	serverURLs  []*url.URL
	client      *http.Client
	counter     uint32
	retryCount  int
	config      common.ClientConfig
	serializer  serializer.IRPCSerializer
	reassembler *reassembly.Reassembler
	correlator  *pipeline.Correlator
	requestIDs  atomic.Uint32 // every POST gets its own pipeline, ids span them all
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// Parse each server URL
	parsedURLs := make([]*url.URL, len(config.Transport.Endpoints))
	for i, server := range config.Transport.Endpoints {
		parsedURL, err := url.Parse(server)
		if err != nil {
			return err
		}
		parsedURLs[i] = parsedURL
	}

	config.Pipeline = config.Pipeline.WithDefaults()
	if err := config.Pipeline.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}

	t.client = &http.Client{
		Timeout: time.Duration(config.TimeoutSecond) * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: max(config.Transport.ConnectionsPerEndpoint, 10),
			IdleConnTimeout:     90 * time.Second,
		},
	}
	t.serverURLs = parsedURLs
	t.counter = 0
	t.retryCount = max(config.Transport.RetryCount, 1)
	t.config = config
	t.reassembler = reassembly.NewReassembler(config.Pipeline.ReassemblyCapacity)
	t.correlator = correlator.New[common.Message]()

	return nil
}

// Send posts the request frames and reads the response frames from the reply
// body. Every exchange is its own logical connection with a fresh id, so an
// exchange that ends without a response fails exactly its own request.
func (t *httpClientTransport) Send(ctx context.Context, req common.Message) (common.Message, error) {
	if t.client == nil {
		return common.Message{}, fmt.Errorf("http transport not initialized")
	}

	var lastErr error
	for i := 0; i < t.retryCount; i++ {
		// Select the next server via round-robin
		idx := atomic.AddUint32(&t.counter, 1) % uint32(len(t.serverURLs))

		resp, err := t.exchange(ctx, t.serverURLs[idx], req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !errors.Is(err, common.ErrConnectionClosed) {
			return common.Message{}, err
		}
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, t.retryCount, err)
	}
	return common.Message{}, lastErr
}

func (t *httpClientTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}

	t.client = nil
	t.serverURLs = nil

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *httpClientTransport) exchange(ctx context.Context, serverURL *url.URL, req common.Message) (common.Message, error) {
	pipe, err := pipeline.New(uuid.New(), t.config.Pipeline, t.serializer, t.reassembler, t.correlator,
		pipeline.WithSessionID(t.config.SessionID), pipeline.WithRequestIDs(&t.requestIDs))
	if err != nil {
		return common.Message{}, err
	}

	pending, err := pipe.Send(req)
	if err != nil {
		return common.Message{}, err
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL.String(),
		bytes.NewReader(bytes.Join(pending.Frames, nil)))
	if err != nil {
		pipe.Close(err)
		return common.Message{}, err
	}
	httpRequest.Header.Set("Content-Type", contentType)

	httpResponse, err := t.client.Do(httpRequest)
	if err != nil {
		pipe.Close(err)
		return pipe.Await(ctx, pending)
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	if httpResponse.StatusCode != http.StatusOK {
		pipe.Close(fmt.Errorf("http error: %s", httpResponse.Status))
		return pipe.Await(ctx, pending)
	}

	body, err := io.ReadAll(io.LimitReader(httpResponse.Body, int64(t.config.Pipeline.MaxMessageLength)*2))
	if err != nil {
		pipe.Close(err)
		return pipe.Await(ctx, pending)
	}

	if _, err := pipe.Inbound(body); err != nil {
		pipe.Close(err)
		return pipe.Await(ctx, pending)
	}

	// the reply body is complete, anything still pending never got an answer
	pipe.Close(errors.New("reply carried no response"))
	return pipe.Await(ctx, pending)
}
