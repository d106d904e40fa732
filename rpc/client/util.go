package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/ValentinKolb/hdlwire/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// ResponseError is returned when the server answered with a response code
// other than RCSuccess
type ResponseError struct {
	Code    common.ResponseCode
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server responded %s", e.Code)
	}
	return fmt.Sprintf("server responded %s: %s", e.Code, e.Message)
}

// invokeRPCRequest is a helper function used by the client to send requests.
// It checks that the response is a success response for the same operation.
func invokeRPCRequest(ctx context.Context, req *common.Message, t transport.IRPCClientTransport) (*common.Message, error) {
	resp, err := t.Send(ctx, *req)
	if err != nil {
		return nil, err
	}

	// Check if the response is an error response
	if resp.ResponseCode != common.RCSuccess {
		return nil, &ResponseError{Code: resp.ResponseCode, Message: string(resp.Body)}
	}

	// Check if the type of the response is the expected type
	if resp.OpCode != req.OpCode {
		return nil, fmt.Errorf("unexpected op code in response: %s, expected %s", resp.OpCode, req.OpCode)
	}

	return &resp, nil
}
