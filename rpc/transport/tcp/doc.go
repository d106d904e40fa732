// Package tcp implements the TCP socket transport. It provides the TCP
// specific connectors for the base package, which holds the connection pool,
// the per connection pipelines and the reconnect logic.
//
// Key Components:
//
//   - clientConnector: TCP implementation of base.IClientConnector
//
//   - serverConnector: TCP implementation of base.IServerConnector
//
// Both apply TCPConf (no delay, keep alive, linger) and SocketConf (kernel
// buffer sizes) to every connection. The server reads into 512 KB buffers,
// enough for several full fragments per read.
package tcp
