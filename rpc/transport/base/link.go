package base

import (
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/hdlwire/lib/util"
	"github.com/ValentinKolb/hdlwire/rpc/pipeline"
)

// link is one live socket together with its pipeline and outbound queue.
// Any number of goroutines push encoded messages; a single writer goroutine
// drains the queue, so the frames of one message are never interleaved with
// those of another.
type link struct {
	conn         net.Conn
	pipe         *pipeline.Pipeline
	outbox       *util.MPSCQueue[[][]byte]
	writeTimeout time.Duration

	writerDone chan struct{}
	done       chan struct{}
	failOnce   sync.Once
}

func newLink(conn net.Conn, pipe *pipeline.Pipeline, writeTimeout time.Duration) *link {
	l := &link{
		conn:         conn,
		pipe:         pipe,
		outbox:       util.NewMPSCQueue[[][]byte](),
		writeTimeout: writeTimeout,
		writerDone:   make(chan struct{}),
		done:         make(chan struct{}),
	}
	go l.writeLoop()
	return l
}

// send queues the frames of one message. It returns false once the link failed.
func (l *link) send(frames [][]byte) bool {
	return l.outbox.Push(frames)
}

func (l *link) writeLoop() {
	defer close(l.writerDone)

	for frames := range l.outbox.Recv() {
		select {
		case <-l.done:
			continue // drain
		default:
		}
		if err := writeFrames(l.conn, frames, l.writeTimeout); err != nil {
			Logger.Warningf("Write to %s failed: %v", l.conn.RemoteAddr(), err)
			l.fail(err)
		}
	}
}

// drain stops accepting messages and waits until everything queued is written
func (l *link) drain() {
	l.outbox.Close()
	<-l.writerDone
}

// fail tears the link down: the socket is closed and every request still
// waiting on the pipeline fails with reason. Only the first call has an effect.
func (l *link) fail(reason error) {
	l.failOnce.Do(func() {
		close(l.done)
		l.outbox.Close()
		if err := l.conn.Close(); err != nil {
			Logger.Debugf("Closing %s: %v", l.conn.RemoteAddr(), err)
		}
		if n := l.pipe.Close(reason); n > 0 {
			Logger.Infof("Connection %s lost with %d pending requests: %v", l.pipe.ConnID(), n, reason)
		}
	})
}

// failed reports whether fail was called
func (l *link) failed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
