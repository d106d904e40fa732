package server

import (
	"github.com/ValentinKolb/hdlwire/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// An adapter is registered for one or more op codes and answers every
// request carrying one of them.
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response.
	// If an error occurs, it should be reported through the response code.
	Handle(req *common.Message) (resp *common.Message)
}

// AdapterFunc lets an ordinary function serve as IRPCServerAdapter
type AdapterFunc func(req *common.Message) *common.Message

func (f AdapterFunc) Handle(req *common.Message) *common.Message {
	return f(req)
}
