// Package envelope implements the fixed-size header codec that precedes every
// message and message fragment on the wire.
//
// Encode and Decode are pure functions: no buffering, no I/O and no logging.
// Decode is the first line of defence against a hostile or corrupt peer. It
// rejects unsupported major versions and declared lengths above the configured
// limit before the pipeline allocates anything for the body, and reports every
// such failure as common.ErrMalformedEnvelope, which is connection-fatal.
//
// A message whose body fits in one fragment travels behind a single envelope
// without FlagTruncated. Larger bodies are split by the pipeline into several
// envelopes that all carry FlagTruncated, the same session and request id, the
// total body length as DeclaredLength and consecutive sequence numbers
// starting at zero.
package envelope
