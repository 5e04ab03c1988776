// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"fmt"
	"sync/atomic"

	"github.com/DanielMorsing/spdy/framing"
)

// StreamState is the lifecycle state of a stream.
type StreamState int32

const (
	StateOpen StreamState = iota
	// the local end has sent its last frame.
	StateHalfClosedLocal
	// the peer has sent its last frame.
	StateHalfClosedRemote
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfClosedLocal:
		return "HALF_CLOSED_LOCAL"
	case StateHalfClosedRemote:
		return "HALF_CLOSED_REMOTE"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("StreamState(%d)", int32(s))
}

// Stream is one request/response exchange within a session.
//
// Id, Session, Priority and State may be called from any goroutine without
// synchronization. State only moves forward, so a stale read is resolved by
// the failure of the next write.
type Stream struct {
	// the stream id for this stream
	id       framing.StreamId
	priority uint8
	session  *Session
	// whether this end sent the SYN_STREAM
	local bool

	// only touched by the frame reading goroutine once the stream is
	// published, or before publication for local streams.
	listener StreamListener

	state atomic.Int32

	// protected by session.mu
	replied  bool
	closeErr error
}

func newStream(sess *Session, id framing.StreamId, priority uint8, local bool) *Stream {
	return &Stream{
		id:       id,
		priority: priority,
		session:  sess,
		local:    local,
	}
}

func (str *Stream) Id() framing.StreamId { return str.id }
func (str *Stream) Session() *Session    { return str.session }
func (str *Stream) Priority() uint8      { return str.priority }

// IsLocal reports whether this end opened the stream.
func (str *Stream) IsLocal() bool { return str.local }

func (str *Stream) State() StreamState { return StreamState(str.state.Load()) }

func (str *Stream) IsClosed() bool { return str.State() == StateClosed }

func (str *Stream) setState(st StreamState) { str.state.Store(int32(st)) }

// Reply sends the SYN_REPLY for a stream opened by the peer. A final reply
// half-closes the stream locally.
func (str *Stream) Reply(info ReplyInfo) error {
	return str.session.reply(str, info)
}

// Headers sends a HEADERS frame.
func (str *Stream) Headers(info HeadersInfo) error {
	return str.session.headers(str, info)
}

// Data writes a DATA frame and waits until it has been handed to the
// connection. If the connection is torn down first, Data returns
// ErrClosedChannel and the data was not delivered.
func (str *Stream) Data(info DataInfo) error {
	return str.session.data(str, info)
}

// Rst resets the stream. Further frames for it are ignored.
func (str *Stream) Rst(status framing.RstStreamStatus) error {
	return str.session.rst(str, status)
}

func (str *Stream) String() string {
	return fmt.Sprintf("stream %d (%s)", str.id, str.State())
}

// sendErr reports why str cannot send. The caller holds session.mu.
func (str *Stream) sendErr() error {
	switch str.State() {
	case StateClosed:
		if str.closeErr == ErrClosedChannel {
			return ErrClosedChannel
		}
		if str.closeErr != nil {
			return fmt.Errorf("%w: stream %d: %w", ErrStreamClosed, str.id, str.closeErr)
		}
		return fmt.Errorf("%w: stream %d", ErrStreamClosed, str.id)
	case StateHalfClosedLocal:
		return fmt.Errorf("%w: stream %d is half-closed", ErrStreamClosed, str.id)
	}
	return nil
}
