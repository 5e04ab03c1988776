// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

/*
 Internals documentation

 Once a connection has been established, a session runs 2 goroutines,
 started together by serve and waited on with an errgroup.

 - The reader goroutine
 - The outFramer goroutine

 All session and stream bookkeeping lives behind session.mu. Nothing blocks
 while holding it; frames are only queued.

 Reader goroutine:

 readFrames reads one frame at a time and hands it to dispatch. The handler
 updates state under the lock, releases it, and then calls the listener.
 Because every callback runs here, callbacks for a stream arrive in wire
 order and a GOAWAY callback completes before the next frame is looked at.
 A listener may call back into the session (Reply, Data, GoAway); those
 calls only queue frames, so there is no deadlock with the reader.

 outFramer goroutine:

 The outFramer is the only writer on the connection. Frames are pushed to a
 FIFO while the session lock is held, so the order on the wire is the order
 in which the state changes happened. Data callers wait on a per-frame
 done channel for the write result.

 A request without a frame is the close marker. It is queued when the
 session decides to close after GOAWAY: everything queued before it
 (including the GOAWAY frame itself) is written, then the connection is
 torn down.

 interfaces:
	- closech: closed when the session is torn down. If you intend to
	block for some event, receive from this channel in your select.

	- donech: closed once both goroutines have exited.

 GOAWAY:

 Sending GOAWAY abandons the peer's streams newer than the last one that
 completed, then waits for the remaining streams to finish. Receiving
 GOAWAY closes the local streams the peer never processed. In both cases
 new SYN_STREAMs are refused and the session closes once no streams are
 left.
*/
