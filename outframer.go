// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/DanielMorsing/spdy/framing"
	"github.com/eapache/queue"
	"go.uber.org/zap"
)

// The outFramer owns the outgoing half of the connection. Frames are
// queued by the session (always with the session lock held, so the queue
// order is the order in which state changed) and written by a single
// goroutine in FIFO order.
//
// A request with a nil frame is the close marker: everything queued before
// it is written, then the session is torn down.
type outFramer struct {
	framer  *framing.Framer
	session *Session
	bw      *bufio.Writer
	conn    net.Conn
	log     *zap.Logger

	writetimeout time.Duration

	mu      sync.Mutex
	pending *queue.Queue // of frameRq
	wakech  chan struct{}
}

type frameRq struct {
	frame framing.Frame
	str   *Stream
	// receives the write result, if anyone is waiting for it.
	done chan error
}

func newOutFramer(s *Session, f *framing.Framer, bw *bufio.Writer) *outFramer {
	return &outFramer{
		framer:       f,
		session:      s,
		bw:           bw,
		conn:         s.conn,
		log:          s.log,
		writetimeout: s.cfg.WriteTimeout,
		pending:      queue.New(),
		wakech:       make(chan struct{}, 1),
	}
}

// enqueue adds rq to the write queue. The caller holds session.mu.
func (of *outFramer) enqueue(rq frameRq) {
	of.mu.Lock()
	of.pending.Add(rq)
	of.mu.Unlock()
	select {
	case of.wakech <- struct{}{}:
	default:
	}
}

func (of *outFramer) next() (frameRq, bool) {
	of.mu.Lock()
	defer of.mu.Unlock()
	if of.pending.Length() == 0 {
		return frameRq{}, false
	}
	return of.pending.Remove().(frameRq), true
}

func (of *outFramer) run() error {
	for {
		select {
		case <-of.session.closech:
			return nil
		default:
		}

		rq, ok := of.next()
		if !ok {
			select {
			case <-of.wakech:
				continue
			case <-of.session.closech:
				return nil
			}
		}

		if rq.frame == nil {
			of.session.teardown(ErrClosedChannel)
			return nil
		}

		err := of.writeFrame(rq.frame)
		if rq.done != nil {
			rq.done <- err
		}
		if err != nil && of.writeError(rq, err) {
			return err
		}
	}
}

// writeFrame writes a frame to the connection and flushes the outgoing buffered IO
func (of *outFramer) writeFrame(f framing.Frame) error {
	if d := of.writetimeout; d != 0 {
		of.conn.SetWriteDeadline(time.Now().Add(d))
	}
	err := of.framer.WriteFrame(f)
	if err != nil {
		return err
	}
	return of.bw.Flush()
}

// writeError handles any error that happens when writing to the connection
// it returns whether the error was terminal.
func (of *outFramer) writeError(rq frameRq, err error) bool {
	var ferr *framing.Error
	if errors.As(err, &ferr) {
		// framing rejected the frame before anything reached the wire.
		of.log.Warn("dropping unencodable frame", zap.Error(err))
		if rq.str != nil {
			of.session.rst(rq.str, framing.InternalError)
		}
		return false
	}
	// network error when writing frame. Just close without goaway frame.
	of.log.Debug("write failed", zap.Error(err))
	of.session.teardown(ErrClosedChannel)
	return true
}
