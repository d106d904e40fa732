// Package server implements the request side of the protocol on top of a
// server transport: it routes decoded requests to adapters by op code.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that turns a request into a response.
//
//   - NewLoopbackAdapter: Answers resolution and site info requests with the
//     request body. Used by the serve command to measure the transport alone.
//
//   - NewRPCServer: Factory function creating a server on the given transport.
//     Serve initializes the loggers, optionally exposes the process metrics
//     in Prometheus format and blocks in the transport's Listen.
//
// Requests for an op code without adapter are answered with
// RCOperationNotSupported.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Transport:       common.ServerTransportConfig{Endpoint: "0.0.0.0:2641"},
//	  MetricsEndpoint: "0.0.0.0:9100",
//	  LogLevel:        "info",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(serializer.NewBinarySerializer()))
//	s.Register(server.NewLoopbackAdapter(), common.OCResolution, common.OCGetSiteInfo)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	Handle is called concurrently by the transport workers. Adapters must be
//	safe for concurrent use. Register may be called while serving.
package server
