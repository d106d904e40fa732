package base

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/ValentinKolb/hdlwire/rpc/envelope"
	"github.com/ValentinKolb/hdlwire/rpc/serializer"
	"github.com/ValentinKolb/hdlwire/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// --------------------------------------------------------------------------
// Test connectors
// --------------------------------------------------------------------------

// listenerConnector serves on a listener created by the test, so the address
// is known before Listen runs
type listenerConnector struct {
	ln net.Listener
}

func (c *listenerConnector) Listen(common.ServerConfig) (net.Listener, error) { return c.ln, nil }
func (c *listenerConnector) GetName() string                                    { return "test" }
func (c *listenerConnector) UpgradeConnection(net.Conn, common.ServerConfig) error {
	return nil
}

type dialConnector struct{}

func (dialConnector) Connect(endpoint string) (net.Conn, error) { return net.Dial("tcp", endpoint) }
func (dialConnector) GetName() string                           { return "test" }
func (dialConnector) UpgradeConnection(net.Conn, common.ClientConfig) error {
	return nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func echo(req common.Message) common.Message {
	return *common.NewResponse(&req, common.RCSuccess, req.Body)
}

func startServer(t *testing.T, handler transport.ServerHandleFunc, pipe common.PipelineConfig) (string, transport.IRPCServerTransport) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewBaseServerTransport(&listenerConnector{ln: ln}, serializer.NewBinarySerializer(), 0)
	srv.RegisterHandler(handler)

	done := make(chan error, 1)
	go func() {
		done <- srv.Listen(common.ServerConfig{
			Pipeline: pipe,
			Transport: common.ServerTransportConfig{
				Endpoint:       ln.Addr().String(),
				WorkersPerConn: 8,
			},
		})
	}()

	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Listen did not return after Close")
		}
	})

	return ln.Addr().String(), srv
}

func newClient(t *testing.T, endpoint string, mutate func(*common.ClientConfig)) transport.IRPCClientTransport {
	t.Helper()

	cfg := common.ClientConfig{
		TimeoutSecond: 5,
		SessionID:     7,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{endpoint},
			RetryCount:             1,
			ConnectionsPerEndpoint: 1,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client := NewBaseClientTransport(dialConnector{}, serializer.NewBinarySerializer())
	require.NoError(t, client.Connect(cfg))
	t.Cleanup(func() { client.Close() })
	return client
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestRoundTrip(t *testing.T) {
	endpoint, _ := startServer(t, echo, common.PipelineConfig{})
	client := newClient(t, endpoint, nil)

	resp, err := client.Send(context.Background(), *common.NewResolutionRequest("0.NA/10.1000", []byte("hello")))
	require.NoError(t, err)

	assert.Equal(t, common.RCSuccess, resp.ResponseCode)
	assert.Equal(t, common.OCResolution, resp.OpCode)
	assert.Equal(t, "0.NA/10.1000", resp.Handle)
	assert.Equal(t, []byte("hello"), resp.Body)
	assert.Equal(t, uint32(7), resp.SessionID)
	assert.NotZero(t, resp.RequestID)
}

func TestFragmentedRoundTrip(t *testing.T) {
	pipe := common.PipelineConfig{MaxFragmentSize: 1024}
	endpoint, _ := startServer(t, echo, pipe)
	client := newClient(t, endpoint, func(c *common.ClientConfig) {
		c.Pipeline = pipe
	})

	body := make([]byte, 100*1024+17)
	rand.New(rand.NewSource(1)).Read(body)

	resp, err := client.Send(context.Background(), *common.NewResolutionRequest("big", body))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, resp.Body), "echoed body differs")
}

func TestConcurrentSends(t *testing.T) {
	endpoint, _ := startServer(t, echo, common.PipelineConfig{MaxFragmentSize: 256})
	client := newClient(t, endpoint, func(c *common.ClientConfig) {
		c.Pipeline.MaxFragmentSize = 256
		c.Transport.ConnectionsPerEndpoint = 4
	})

	var g errgroup.Group
	for i := 0; i < 200; i++ {
		i := i
		g.Go(func() error {
			handle := fmt.Sprintf("20.500/%d", i)
			body := bytes.Repeat([]byte{byte(i)}, i*7)

			resp, err := client.Send(context.Background(), *common.NewResolutionRequest(handle, body))
			if err != nil {
				return err
			}
			if resp.Handle != handle || !bytes.Equal(resp.Body, body) {
				return fmt.Errorf("request %s got response for %s", handle, resp.Handle)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

// TestConcurrentLargeSendsOverSeveralConnections sends messages far larger
// than one read buffer over a pool, so both sides reassemble interleaved
// fragments from several connections in one shared reassembler
func TestConcurrentLargeSendsOverSeveralConnections(t *testing.T) {
	pipe := common.PipelineConfig{MaxFragmentSize: 1024}
	endpoint, _ := startServer(t, echo, pipe)
	client := newClient(t, endpoint, func(c *common.ClientConfig) {
		c.TimeoutSecond = 30
		c.Pipeline = pipe
		c.Transport.ConnectionsPerEndpoint = 2
	})

	const size = 512 * 1024
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		i := i
		g.Go(func() error {
			handle := fmt.Sprintf("20.500/large-%d", i)
			body := make([]byte, size)
			rand.New(rand.NewSource(int64(i))).Read(body)

			resp, err := client.Send(context.Background(), *common.NewResolutionRequest(handle, body))
			if err != nil {
				return fmt.Errorf("request %s: %w", handle, err)
			}
			if resp.Handle != handle || !bytes.Equal(resp.Body, body) {
				return fmt.Errorf("request %s got a different body back", handle)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestHandlerWithoutResponseCode(t *testing.T) {
	endpoint, _ := startServer(t, func(common.Message) common.Message {
		return common.Message{Body: []byte("forgot the code")}
	}, common.PipelineConfig{})
	client := newClient(t, endpoint, nil)

	resp, err := client.Send(context.Background(), *common.NewResolutionRequest("x", nil))
	require.NoError(t, err)
	assert.Equal(t, common.RCError, resp.ResponseCode)
	assert.Equal(t, []byte("forgot the code"), resp.Body)
}

func TestContextDeadline(t *testing.T) {
	release := make(chan struct{})
	endpoint, _ := startServer(t, func(req common.Message) common.Message {
		<-release
		return echo(req)
	}, common.PipelineConfig{})
	t.Cleanup(func() { close(release) })
	client := newClient(t, endpoint, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Send(ctx, *common.NewResolutionRequest("slow", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTimeout)
}

func TestConnectionLossFailsPendingAndReconnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	// a server that hangs up as soon as it sees a request
	var accepts atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			go func() {
				buf := make([]byte, 64)
				_, _ = conn.Read(buf)
				conn.Close()
			}()
		}
	}()

	client := newClient(t, ln.Addr().String(), nil)

	_, err = client.Send(context.Background(), *common.NewResolutionRequest("lost", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConnectionClosed)

	assert.Eventually(t, func() bool {
		return accepts.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond, "client did not reconnect")
}

func TestServerCloseFailsPendingRequests(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	srv := NewBaseServerTransport(&listenerConnector{ln: ln}, serializer.NewBinarySerializer(), 0)
	srv.RegisterHandler(func(req common.Message) common.Message {
		close(entered)
		<-release
		return echo(req)
	})
	go srv.Listen(common.ServerConfig{Transport: common.ServerTransportConfig{Endpoint: ln.Addr().String()}})

	client := newClient(t, ln.Addr().String(), nil)

	result := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), *common.NewResolutionRequest("pending", nil))
		result <- err
	}()

	<-entered
	closed := make(chan struct{})
	go func() {
		srv.Close()
		close(closed)
	}()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, common.ErrConnectionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending request was not failed")
	}

	close(release)
	<-closed
}

func TestMalformedEnvelopeClosesConnection(t *testing.T) {
	endpoint, _ := startServer(t, echo, common.PipelineConfig{})

	conn, err := net.Dial("tcp", endpoint)
	require.NoError(t, err)
	defer conn.Close()

	header := envelope.Encode(envelope.New(1, 1, 0))
	header[0] = 9 // unknown major version
	_, err = conn.Write(header)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadAll(conn)
	assert.NoError(t, err, "server should close the connection cleanly")
}

func TestSendAfterClose(t *testing.T) {
	endpoint, _ := startServer(t, echo, common.PipelineConfig{})
	client := newClient(t, endpoint, nil)
	require.NoError(t, client.Close())

	_, err := client.Send(context.Background(), *common.NewResolutionRequest("x", nil))
	assert.Error(t, err)
}

func TestConnectErrors(t *testing.T) {
	client := NewBaseClientTransport(dialConnector{}, serializer.NewBinarySerializer())

	assert.Error(t, client.Connect(common.ClientConfig{}), "no endpoints")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	assert.Error(t, client.Connect(common.ClientConfig{
		Transport: common.ClientTransportConfig{Endpoints: []string{addr}},
	}), "nothing listening")

	assert.Error(t, client.Connect(common.ClientConfig{
		Pipeline:  common.PipelineConfig{MaxMessageLength: 10, MaxFragmentSize: 20},
		Transport: common.ClientTransportConfig{Endpoints: []string{addr}},
	}), "invalid pipeline config")
}

func TestListenWithoutHandler(t *testing.T) {
	srv := NewBaseServerTransport(&listenerConnector{}, serializer.NewBinarySerializer(), 0)
	assert.Error(t, srv.Listen(common.ServerConfig{}))
}

func TestBackoff(t *testing.T) {
	assert.InDelta(t, float64(initialBackoff), float64(backoff(0)), float64(initialBackoff)/10+1)
	assert.InDelta(t, float64(4*initialBackoff), float64(backoff(2)), float64(4*initialBackoff)/10+1)
	for _, attempt := range []int{10, 50, 1000} {
		assert.LessOrEqual(t, backoff(attempt), maxBackoff+maxBackoff/10)
	}
}
