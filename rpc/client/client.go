package client

import (
	"context"

	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/ValentinKolb/hdlwire/rpc/transport"
)

// NewRPCClient connects transport with config and returns a client using it
func NewRPCClient(config common.ClientConfig, transport transport.IRPCClientTransport) (*RPCClient, error) {
	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	Logger.Debugf("Created RPC client for %v", config.Transport.Endpoints)

	return &RPCClient{
		config:    config,
		transport: transport,
	}, nil
}

// RPCClient issues typed requests over a client transport
type RPCClient struct {
	config    common.ClientConfig
	transport transport.IRPCClientTransport
}

// Resolve sends a resolution request for handle and returns the response body
func (c *RPCClient) Resolve(ctx context.Context, handle string, body []byte) ([]byte, error) {
	resp, err := invokeRPCRequest(ctx, common.NewResolutionRequest(handle, body), c.transport)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetSiteInfo asks the server for its site information
func (c *RPCClient) GetSiteInfo(ctx context.Context) ([]byte, error) {
	resp, err := invokeRPCRequest(ctx, &common.Message{OpCode: common.OCGetSiteInfo}, c.transport)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Invoke sends an arbitrary request. Unlike Resolve it returns responses with
// any response code, the caller decides what a failure is.
func (c *RPCClient) Invoke(ctx context.Context, req common.Message) (common.Message, error) {
	return c.transport.Send(ctx, req)
}

// Close closes the underlying transport
func (c *RPCClient) Close() error {
	return c.transport.Close()
}
