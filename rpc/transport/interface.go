package transport

import (
	"context"

	"github.com/ValentinKolb/hdlwire/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests.
// It is called by a server transport for every decoded request and returns
// the response to send back. The transport copies session and request id
// from the request; a response without response code is sent as RCError.
type ServerHandleFunc func(req common.Message) (resp common.Message)

// IRPCServerTransport is the interface for the server side connection layer
type IRPCServerTransport interface {
	// RegisterHandler registers the handler called for every request.
	// It must be called before Listen.
	RegisterHandler(handler ServerHandleFunc)
	// Listen accepts connections until Close is called. It blocks and
	// returns nil after Close, or the error that prevented listening.
	Listen(config common.ServerConfig) error
	// Close stops accepting and closes every open connection
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the client side connection layer
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request and waits for its response. Session and request
	// id are assigned by the transport.
	Send(ctx context.Context, req common.Message) (resp common.Message, err error)
	// Close closes every connection and fails requests still waiting
	Close() error
}

// NormalizeResponse makes resp an answer to req: it copies the correlation
// ids and turns a missing response code into RCError
func NormalizeResponse(req, resp common.Message) common.Message {
	resp.SessionID = req.SessionID
	resp.RequestID = req.RequestID
	if !resp.IsResponse() {
		resp.ResponseCode = common.RCError
	}
	return resp
}
