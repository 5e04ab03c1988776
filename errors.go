// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"errors"
	"fmt"

	"github.com/DanielMorsing/spdy/framing"
)

var (
	// ErrClosedChannel is returned when the underlying connection has been
	// torn down. Writes that fail with it were not delivered.
	ErrClosedChannel = errors.New("spdy: channel closed")
	// ErrStreamClosed is returned when writing on a stream that can no
	// longer send. The error wraps the reason the stream closed, if any.
	ErrStreamClosed = errors.New("spdy: stream closed")
	// ErrGoAway is returned by Syn once GOAWAY has been sent or received, and
	// is the close reason of streams abandoned by a GOAWAY.
	ErrGoAway = errors.New("spdy: session is going away")

	ErrAlreadyReplied     = errors.New("spdy: stream already replied")
	ErrNotReplyable       = errors.New("spdy: cannot reply to a locally initiated stream")
	ErrNotReplied         = errors.New("spdy: stream has not been replied to")
	ErrStreamIdsExhausted = errors.New("spdy: stream ids exhausted")
	ErrTooManyStreams     = errors.New("spdy: max concurrent streams exceeded")
	ErrServerClosed       = errors.New("spdy: server closed")
)

// ProtocolError describes a frame sequence the peer should not have sent.
// StreamId is zero for session level violations.
type ProtocolError struct {
	StreamId framing.StreamId
	Status   framing.RstStreamStatus
	Reason   string
}

func (e *ProtocolError) Error() string {
	if e.StreamId == 0 {
		return fmt.Sprintf("spdy: protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("spdy: protocol error on stream %d (%s): %s", e.StreamId, e.Status, e.Reason)
}
