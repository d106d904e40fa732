package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Pipeline configuration
// --------------------------------------------------------------------------

const (
	DefaultMaxMessageLength   uint32 = 16 * 1024 * 1024 // 16 MB
	DefaultMaxFragmentSize    uint32 = 64 * 1024        // 64 KB
	DefaultReassemblyCapacity        = 1024
)

// PipelineConfig bounds the memory one peer can make the transport core hold
type PipelineConfig struct {
	// MaxMessageLength is the largest declared total length accepted from a peer
	MaxMessageLength uint32
	// MaxFragmentSize is the largest body slice sent behind one envelope
	MaxFragmentSize uint32
	// ReassemblyCapacity is the number of partially received messages kept at once
	ReassemblyCapacity int
}

// DefaultPipelineConfig returns the pipeline limits used when nothing is configured
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxMessageLength:   DefaultMaxMessageLength,
		MaxFragmentSize:    DefaultMaxFragmentSize,
		ReassemblyCapacity: DefaultReassemblyCapacity,
	}
}

// WithDefaults fills every zero field with its default value
func (c PipelineConfig) WithDefaults() PipelineConfig {
	d := DefaultPipelineConfig()
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = d.MaxMessageLength
	}
	if c.MaxFragmentSize == 0 {
		c.MaxFragmentSize = d.MaxFragmentSize
	}
	if c.ReassemblyCapacity <= 0 {
		c.ReassemblyCapacity = d.ReassemblyCapacity
	}
	return c
}

// Validate checks the limits for consistency
func (c PipelineConfig) Validate() error {
	if c.MaxFragmentSize == 0 {
		return fmt.Errorf("max fragment size must be positive")
	}
	if c.MaxFragmentSize > c.MaxMessageLength {
		return fmt.Errorf("max fragment size (%d) exceeds max message length (%d)", c.MaxFragmentSize, c.MaxMessageLength)
	}
	if c.ReassemblyCapacity < 1 {
		return fmt.Errorf("reassembly capacity must be at least 1")
	}
	return nil
}

// --------------------------------------------------------------------------
// Socket settings shared by client and server
// --------------------------------------------------------------------------

type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

type ServerTransportConfig struct {
	// Endpoint is the address the server listens on (host:port or socket path)
	Endpoint string
	// WorkersPerConn limits concurrently handled requests per connection
	WorkersPerConn int
	SocketConf
	TCPConf
}

// ServerConfig holds all configuration parameters for the loopback responder
type ServerConfig struct {
	TimeoutSecond   int64
	LogLevel        string
	MetricsEndpoint string
	Pipeline        PipelineConfig
	Transport       ServerTransportConfig
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	writePipeline(addSection, addField, c.Pipeline)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	SocketConf
	TCPConf
}

type ClientConfig struct {
	TimeoutSecond int
	// SessionID is stamped on every envelope; 0 means no established session
	SessionID uint32
	Pipeline  PipelineConfig
	Transport ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Session ID", strconv.FormatUint(uint64(c.SessionID), 10))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	writePipeline(addSection, addField, c.Pipeline)

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

func writePipeline(addSection func(string), addField func(string, string), p PipelineConfig) {
	addSection("Pipeline")
	addField("Max Message Length", fmt.Sprintf("%d bytes", p.MaxMessageLength))
	addField("Max Fragment Size", fmt.Sprintf("%d bytes", p.MaxFragmentSize))
	addField("Reassembly Capacity", strconv.Itoa(p.ReassemblyCapacity))
}
