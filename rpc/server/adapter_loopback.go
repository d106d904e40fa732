package server

import (
	"github.com/ValentinKolb/hdlwire/rpc/common"
)

// NewLoopbackAdapter creates an adapter answering resolution and site info
// requests with the request body, so a client can measure the transport alone
func NewLoopbackAdapter() IRPCServerAdapter {
	return &loopbackAdapter{}
}

type loopbackAdapter struct{}

func (a *loopbackAdapter) Handle(req *common.Message) *common.Message {
	switch req.OpCode {
	case common.OCResolution:
		if req.Handle == "" {
			return common.NewErrorResponse(req, common.RCInvalidHandle, "empty handle")
		}
		return common.NewResponse(req, common.RCSuccess, req.Body)
	case common.OCGetSiteInfo:
		return common.NewResponse(req, common.RCSuccess, req.Body)
	default:
		return common.NewErrorResponse(req, common.RCOperationNotSupported, "operation not supported by the loopback responder")
	}
}
