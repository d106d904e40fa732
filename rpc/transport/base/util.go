package base

import (
	"math/rand"
	"net"
	"time"
)

const (
	// DefaultReadBufferSize is the size of the buffer one connection reads into
	DefaultReadBufferSize = 64 * 1024

	initialBackoff = 50 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// writeFrames writes the header and fragment buffers of one message with a
// single vectored write
func writeFrames(conn net.Conn, frames [][]byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	b := net.Buffers(frames)
	_, err := b.WriteTo(conn)
	return err
}

// backoff returns the delay before retry number attempt (starting at 0):
// exponential from initialBackoff, capped at maxBackoff, with +-10% jitter
func backoff(attempt int) time.Duration {
	d := initialBackoff
	for i := 0; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := float64(d) * (0.9 + 0.2*rand.Float64())
	return time.Duration(jitter)
}

// timeoutOf converts a timeout in seconds, non-positive means none
func timeoutOf[T int | int64](seconds T) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
