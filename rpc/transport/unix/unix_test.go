package unix

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/ValentinKolb/hdlwire/rpc/serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnixRoundTrip(t *testing.T) {
	// t.TempDir paths can exceed the socket path limit
	dir, err := os.MkdirTemp("", "hdl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "hdl.sock")

	s := serializer.NewJSONSerializer()

	srv := NewUnixDefaultServerTransport(s)
	srv.RegisterHandler(func(req common.Message) common.Message {
		if req.Handle == "" {
			return *common.NewErrorResponse(&req, common.RCInvalidHandle, "empty handle")
		}
		return *common.NewResponse(&req, common.RCSuccess, []byte(req.Handle))
	})
	go srv.Listen(common.ServerConfig{Transport: common.ServerTransportConfig{Endpoint: socket}})
	t.Cleanup(func() { srv.Close() })

	client := NewUnixClientTransport(s)
	cfg := common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{socket}},
	}
	require.Eventually(t, func() bool {
		return client.Connect(cfg) == nil
	}, 5*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { client.Close() })

	resp, err := client.Send(context.Background(), *common.NewResolutionRequest("0.NA/11", nil))
	require.NoError(t, err)
	assert.Equal(t, common.RCSuccess, resp.ResponseCode)
	assert.Equal(t, []byte("0.NA/11"), resp.Body)

	resp, err = client.Send(context.Background(), *common.NewResolutionRequest("", nil))
	require.NoError(t, err)
	assert.Equal(t, common.RCInvalidHandle, resp.ResponseCode)
	assert.Equal(t, []byte("empty handle"), resp.Body)
}
