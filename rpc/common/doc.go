// Package common provides core data structures and utilities shared across
// the transport core and the command line tools. It defines the typed message
// model, the error taxonomy, configuration structures and logging.
//
// The package focuses on:
//   - Message model for resolution protocol bodies (opcodes, response codes)
//   - Typed errors that separate connection-fatal from per-message failures
//   - Configuration structures for the pipeline, client and server
//   - Custom logging implementation integrated with Dragonboat's logger facade
//
// Key Components:
//
//   - Message: The typed body of one logical protocol message. Session and
//     request ids travel in the envelope and are copied onto the message by the
//     pipeline.
//
//   - ProtocolError: Error value with a Kind. Sentinels such as
//     ErrMalformedEnvelope or ErrDuplicateRequestID are matched with errors.Is,
//     and IsConnectionFatal tells a caller whether to drop the connection.
//
//   - PipelineConfig: Limits on declared message length, outbound fragment size
//     and the number of concurrently reassembled messages.
//
//   - ClientConfig / ServerConfig: Connection parameters, timeouts and retries.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger package, so every package can keep a named logger.
package common
