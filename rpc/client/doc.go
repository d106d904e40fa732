// Package client implements a typed RPC client on top of a client transport.
//
// Key Components:
//
//   - NewRPCClient: Connects the given transport and returns an RPCClient.
//
//   - RPCClient.Resolve / GetSiteInfo: Send one request and return the body of
//     a successful response. Any other response code is returned as a
//     *ResponseError.
//
//   - RPCClient.Invoke: Sends an arbitrary message and returns the raw response.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"localhost:2641"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 2,
//	  },
//	}
//
//	c, _ := client.NewRPCClient(config, tcp.NewTCPClientTransport(serializer.NewBinarySerializer()))
//	defer c.Close()
//
//	body, err := c.Resolve(ctx, "0.NA/10.1000", nil)
//
// Performance Considerations:
//
//   - Many small concurrent requests are multiplexed over each connection, a
//     single connection per endpoint is often enough.
//
//   - Large bodies are fragmented; increasing ConnectionsPerEndpoint keeps one
//     large transfer from delaying small requests queued behind it.
//
// Thread Safety:
//
//	RPCClient is thread-safe and can be used concurrently from multiple
//	goroutines without additional synchronization.
package client
