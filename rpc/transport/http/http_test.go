package http

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/ValentinKolb/hdlwire/rpc/serializer"
	"github.com/ValentinKolb/hdlwire/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func startServer(t *testing.T, pipe common.PipelineConfig) string {
	t.Helper()
	addr := freeAddr(t)

	srv := NewHttpServerTransport(serializer.NewBinarySerializer())
	srv.RegisterHandler(func(req common.Message) common.Message {
		return *common.NewResponse(&req, common.RCSuccess, req.Body)
	})

	done := make(chan error, 1)
	go func() {
		done <- srv.Listen(common.ServerConfig{
			LogLevel:  "debug",
			Pipeline:  pipe,
			Transport: common.ServerTransportConfig{Endpoint: addr},
		})
	}()
	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
		assert.NoError(t, <-done)
	})

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	return "http://" + addr + "/"
}

func newClient(t *testing.T, url string, pipe common.PipelineConfig) transport.IRPCClientTransport {
	t.Helper()
	client := NewHttpClientTransport(serializer.NewBinarySerializer())
	require.NoError(t, client.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		SessionID:     3,
		Pipeline:      pipe,
		Transport:     common.ClientTransportConfig{Endpoints: []string{url}, RetryCount: 2},
	}))
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHTTPTunnelRoundTrip(t *testing.T) {
	pipe := common.PipelineConfig{MaxFragmentSize: 128}
	url := startServer(t, pipe)
	client := newClient(t, url, pipe)

	for _, size := range []int{0, 1, 128, 129, 4096} {
		body := bytes.Repeat([]byte{'h'}, size)
		resp, err := client.Send(context.Background(), *common.NewResolutionRequest("10.1/http", body))
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, common.RCSuccess, resp.ResponseCode)
		assert.Equal(t, uint32(3), resp.SessionID)
		assert.Len(t, resp.Body, size)
	}
}

// TestHTTPTunnelConcurrentFragmentedSends runs fragmented exchanges in
// parallel POSTs that share the server's reassembler
func TestHTTPTunnelConcurrentFragmentedSends(t *testing.T) {
	pipe := common.PipelineConfig{MaxFragmentSize: 1024}
	url := startServer(t, pipe)
	client := newClient(t, url, pipe)

	const sends = 8
	ids := make([]uint32, sends)
	var g errgroup.Group
	for i := 0; i < sends; i++ {
		i := i
		g.Go(func() error {
			body := make([]byte, 64*1024)
			rand.New(rand.NewSource(int64(i))).Read(body)

			resp, err := client.Send(context.Background(), *common.NewResolutionRequest(fmt.Sprintf("10.1/%d", i), body))
			if err != nil {
				return err
			}
			if !bytes.Equal(body, resp.Body) {
				return fmt.Errorf("send %d got a different body back", i)
			}
			ids[i] = resp.RequestID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[uint32]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "request id %d used twice", id)
		seen[id] = true
	}
}

func TestHTTPTunnelRejectsForeignContent(t *testing.T) {
	url := startServer(t, common.PipelineConfig{})

	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestHTTPTunnelMalformedBody(t *testing.T) {
	url := startServer(t, common.PipelineConfig{})

	resp, err := http.Post(url, contentType, bytes.NewReader(make([]byte, 24)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPClientUnreachable(t *testing.T) {
	client := newClient(t, "http://"+freeAddr(t)+"/", common.PipelineConfig{})

	_, err := client.Send(context.Background(), *common.NewResolutionRequest("x", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConnectionClosed)
}

func TestHTTPClientNotConnected(t *testing.T) {
	client := NewHttpClientTransport(serializer.NewBinarySerializer())
	_, err := client.Send(context.Background(), common.Message{})
	assert.Error(t, err)
	assert.Error(t, client.Connect(common.ClientConfig{}))
}
