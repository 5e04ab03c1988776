// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/DanielMorsing/spdy/framing"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Session is a SPDY session over a single connection.
//
// All mutable session state is guarded by one lock. Frames are read on a
// dedicated goroutine which also runs every listener callback; the lock is
// never held while a callback runs.
type Session struct {
	id       string
	client   bool
	cfg      Config
	log      *zap.Logger
	listener SessionListener

	conn   net.Conn
	framer *framing.Framer
	// buffered input output, since the Framer does small writes.
	br *bufio.Reader
	of *outFramer

	mu sync.Mutex
	// a map of active streams. If a stream has been closed on both ends
	// it will be removed from this map.
	streams       map[framing.StreamId]*Stream
	localStreams  uint32
	remoteStreams uint32

	nextStreamId framing.StreamId
	// last stream id the peer opened, used to validate new SYN_STREAMs.
	lastRemoteStream framing.StreamId
	// highest peer stream that completed normally.
	lastAcceptedStream framing.StreamId
	// the stream limit the peer announced, 0 if none.
	peerMaxStreams uint32

	goAwaySent     bool
	goAwayStatus   SessionStatus
	lastGoodStream framing.StreamId
	goAwayReceived bool
	remoteGoAway   GoAwayInfo

	pings      map[uint32]chan struct{}
	nextPingId uint32

	// the close marker has been queued.
	closing  bool
	closed   bool
	closeErr error

	// closed when the session is going away. If you intend to block for
	// some event, receive from this channel in your select.
	closech chan struct{}
	// closed once the reading and writing goroutines have exited.
	donech chan struct{}
}

// NewServerSession starts a session on c for the accepting side of a
// connection. Server sessions allocate even stream ids.
func NewServerSession(c net.Conn, cfg Config, listener SessionListener) *Session {
	return newSession(c, cfg, listener, false)
}

// NewClientSession starts a session on c for the dialing side of a
// connection. Client sessions allocate odd stream ids.
func NewClientSession(c net.Conn, cfg Config, listener SessionListener) *Session {
	return newSession(c, cfg, listener, true)
}

func newSession(c net.Conn, cfg Config, listener SessionListener, client bool) *Session {
	if listener == nil {
		listener = SessionAdapter{}
	}
	s := &Session{
		id:       uuid.NewString(),
		client:   client,
		cfg:      cfg,
		listener: listener,
		conn:     c,
		streams:  make(map[framing.StreamId]*Stream),
		pings:    make(map[uint32]chan struct{}),
		closech:  make(chan struct{}),
		donech:   make(chan struct{}),
	}
	role := "server"
	s.nextStreamId, s.nextPingId = 2, 2
	if client {
		role = "client"
		s.nextStreamId, s.nextPingId = 1, 1
	}
	s.log = cfg.logger().With(zap.String("session", s.id), zap.String("role", role))

	s.br = bufio.NewReader(c)
	bw := bufio.NewWriter(c)
	// NewFramer never fails; the error is part of its signature only.
	s.framer, _ = framing.NewFramer(bw, s.br)
	s.of = newOutFramer(s, s.framer, bw)

	if cfg.AnnounceSettings {
		s.of.enqueue(frameRq{frame: settingsFrame(cfg.settings())})
	}
	s.log.Debug("session started", zap.Stringer("remote", c.RemoteAddr()))
	go s.serve()
	return s
}

func (s *Session) Id() string     { return s.id }
func (s *Session) IsClient() bool { return s.client }

// NumStreams returns the number of streams that are not yet closed.
func (s *Session) NumStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// GoAwaySent returns the GOAWAY this end sent, if any.
func (s *Session) GoAwaySent() (GoAwayInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewGoAwayInfo(s.lastGoodStream, s.goAwayStatus), s.goAwaySent
}

// GoAwayReceived returns the peer's GOAWAY, if one has arrived.
func (s *Session) GoAwayReceived() (GoAwayInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteGoAway, s.goAwayReceived
}

// Done is closed once the connection is closed and the session's
// goroutines have exited.
func (s *Session) Done() <-chan struct{} { return s.donech }

// Err returns the reason the session closed, or nil while it is open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Syn opens a new stream. It fails with ErrGoAway once GOAWAY has been sent
// or received on this session.
func (s *Session) Syn(info SynInfo, listener StreamListener) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goAwaySent || s.goAwayReceived {
		return nil, ErrGoAway
	}
	if s.closed || s.closing {
		return nil, ErrClosedChannel
	}
	if s.nextStreamId > framing.MaxStreamId {
		return nil, ErrStreamIdsExhausted
	}
	if s.peerMaxStreams != 0 && s.localStreams >= s.peerMaxStreams {
		return nil, ErrTooManyStreams
	}

	str := newStream(s, s.nextStreamId, info.Priority, true)
	str.listener = listener
	s.nextStreamId += 2

	syn := &framing.SynStreamFrame{
		StreamId: str.id,
		Priority: info.Priority,
		Headers:  info.Headers,
	}
	if info.Final {
		syn.CFHeader.Flags = framing.ControlFlagFin
	}
	s.addStreamLocked(str)
	s.of.enqueue(frameRq{frame: syn, str: str})
	if info.Final {
		s.halfCloseLocked(str, true)
	}
	return str, nil
}

// GoAway tells the peer that no new streams will be accepted. Streams the
// peer opened after the last one that completed are abandoned; every other
// stream runs to completion, after which the connection is closed.
//
// The last good stream only counts peer streams that finished in both
// directions. A peer stream above it is abandoned even if it was already
// replied to: it is closed without further callbacks and its frames are
// dropped.
//
// Only the first call has any effect. GoAway fails with ErrClosedChannel
// once the session is closing, since the frame would never be written.
func (s *Session) GoAway(status SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goAwaySent {
		return nil
	}
	if s.closed || s.closing {
		return ErrClosedChannel
	}
	s.goAwayLocked(status)
	return nil
}

func (s *Session) goAwayLocked(status SessionStatus) {
	s.goAwaySent = true
	s.goAwayStatus = status
	s.lastGoodStream = s.lastAcceptedStream
	for id, str := range s.streams {
		if !str.local && id > s.lastGoodStream {
			s.closeStreamLocked(str, ErrGoAway)
		}
	}
	s.log.Info("sending goaway",
		zap.Uint32("last_good_stream", uint32(s.lastGoodStream)),
		zap.Stringer("status", status))
	s.of.enqueue(frameRq{frame: &framing.GoAwayFrame{
		LastGoodStreamId: s.lastGoodStream,
		Status:           status,
	}})
	s.drainLocked()
}

// Ping sends a PING and waits for the peer to echo it.
func (s *Session) Ping(ctx context.Context) (time.Duration, error) {
	s.mu.Lock()
	if s.closed || s.closing {
		s.mu.Unlock()
		return 0, ErrClosedChannel
	}
	id := s.nextPingId
	s.nextPingId += 2
	ch := make(chan struct{})
	s.pings[id] = ch
	s.of.enqueue(frameRq{frame: &framing.PingFrame{Id: id}})
	s.mu.Unlock()

	start := time.Now()
	select {
	case <-ch:
		return time.Since(start), nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pings, id)
		s.mu.Unlock()
		return 0, ctx.Err()
	case <-s.closech:
		return 0, ErrClosedChannel
	}
}

// Settings sends a SETTINGS frame.
func (s *Session) Settings(info SettingsInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.closing {
		return ErrClosedChannel
	}
	s.of.enqueue(frameRq{frame: settingsFrame(info)})
	return nil
}

func settingsFrame(info SettingsInfo) *framing.SettingsFrame {
	f := &framing.SettingsFrame{FlagIdValues: info.Values}
	if info.ClearPersisted {
		f.CFHeader.Flags = framing.ControlFlagSettingsClearSettings
	}
	return f
}

// Close tears the connection down immediately, without GOAWAY. Open
// streams are closed and pending writes fail with ErrClosedChannel.
func (s *Session) Close() error {
	s.teardown(ErrClosedChannel)
	return nil
}

func (s *Session) serve() {
	defer close(s.donech)
	var g errgroup.Group
	g.Go(s.readFrames)
	g.Go(s.of.run)
	err := g.Wait()
	s.log.Debug("session closed", zap.NamedError("cause", s.Err()), zap.Error(err))
}

// teardown closes the session. Every stream is closed without invoking
// listeners, and pending writes fail.
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = cause
	for _, str := range s.streams {
		s.closeStreamLocked(str, ErrClosedChannel)
	}
	close(s.closech)
	s.mu.Unlock()
	s.conn.Close()
}

// fail sends GOAWAY with status, if it has not been sent already, and closes
// the connection once it has been written.
func (s *Session) fail(status SessionStatus, cause error) {
	s.log.Warn("closing session", zap.Stringer("status", status), zap.Error(cause))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.goAwaySent {
		s.goAwayLocked(status)
	}
	if !s.closing {
		s.closing = true
		s.of.enqueue(frameRq{})
	}
}

// drainLocked queues the close marker once GOAWAY has been exchanged and no
// streams are left.
func (s *Session) drainLocked() {
	if s.closing || s.closed {
		return
	}
	if !s.goAwaySent && !s.goAwayReceived {
		return
	}
	if len(s.streams) != 0 {
		return
	}
	s.log.Debug("all streams done after goaway, closing")
	s.closing = true
	s.of.enqueue(frameRq{})
}

func (s *Session) addStreamLocked(str *Stream) {
	s.streams[str.id] = str
	if str.local {
		s.localStreams++
	} else {
		s.remoteStreams++
	}
}

func (s *Session) removeStreamLocked(str *Stream) {
	if _, ok := s.streams[str.id]; !ok {
		return
	}
	delete(s.streams, str.id)
	if str.local {
		s.localStreams--
	} else {
		s.remoteStreams--
	}
}

// closeStreamLocked closes str abnormally. The caller is responsible for
// calling drainLocked afterwards.
func (s *Session) closeStreamLocked(str *Stream, cause error) {
	if str.State() == StateClosed {
		return
	}
	str.closeErr = cause
	str.setState(StateClosed)
	s.removeStreamLocked(str)
}

// halfCloseLocked records that one direction of str has ended. When both
// have, the stream is closed and removed from the session.
func (s *Session) halfCloseLocked(str *Stream, local bool) {
	switch st := str.State(); {
	case st == StateClosed:
	case local && st == StateHalfClosedRemote, !local && st == StateHalfClosedLocal:
		str.setState(StateClosed)
		s.removeStreamLocked(str)
		if !str.local && str.id > s.lastAcceptedStream {
			s.lastAcceptedStream = str.id
		}
		s.drainLocked()
	case local:
		str.setState(StateHalfClosedLocal)
	default:
		str.setState(StateHalfClosedRemote)
	}
}

// isRemoteId reports whether id has the parity of streams the peer opens.
func (s *Session) isRemoteId(id framing.StreamId) bool {
	if s.client {
		return id%2 == 0
	}
	return id%2 == 1
}

// wasOpenedLocked reports whether id refers to a stream that existed at some
// point on this session.
func (s *Session) wasOpenedLocked(id framing.StreamId) bool {
	if s.isRemoteId(id) {
		return id <= s.lastRemoteStream
	}
	return id < s.nextStreamId
}

func (s *Session) reply(str *Stream, info ReplyInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if str.local {
		return ErrNotReplyable
	}
	if err := str.sendErr(); err != nil {
		return err
	}
	if str.replied {
		return ErrAlreadyReplied
	}
	str.replied = true
	f := &framing.SynReplyFrame{StreamId: str.id, Headers: info.Headers}
	if info.Final {
		f.CFHeader.Flags = framing.ControlFlagFin
	}
	s.of.enqueue(frameRq{frame: f, str: str})
	if info.Final {
		s.halfCloseLocked(str, true)
	}
	return nil
}

func (s *Session) headers(str *Stream, info HeadersInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := str.sendErr(); err != nil {
		return err
	}
	f := &framing.HeadersFrame{StreamId: str.id, Headers: info.Headers}
	if info.Final {
		f.CFHeader.Flags = framing.ControlFlagFin
	}
	s.of.enqueue(frameRq{frame: f, str: str})
	if info.Final {
		s.halfCloseLocked(str, true)
	}
	return nil
}

func (s *Session) data(str *Stream, info DataInfo) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosedChannel
	}
	if err := str.sendErr(); err != nil {
		s.mu.Unlock()
		return err
	}
	if !str.local && !str.replied {
		s.mu.Unlock()
		return ErrNotReplied
	}
	f := &framing.DataFrame{StreamId: str.id, Data: info.Data}
	if info.Final {
		f.Flags = framing.DataFlagFin
	}
	done := make(chan error, 1)
	s.of.enqueue(frameRq{frame: f, str: str, done: done})
	if info.Final {
		s.halfCloseLocked(str, true)
	}
	s.mu.Unlock()
	return s.waitWrite(done)
}

// waitWrite waits for a queued frame to be written. A frame that was still
// queued when the connection closed was not delivered.
func (s *Session) waitWrite(done chan error) error {
	var err error
	select {
	case err = <-done:
	case <-s.closech:
		select {
		case err = <-done:
		default:
			return ErrClosedChannel
		}
	}
	var ferr *framing.Error
	if err == nil || errors.As(err, &ferr) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrClosedChannel, err)
}

func (s *Session) rst(str *Stream, status framing.RstStreamStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosedChannel
	}
	if str.State() == StateClosed {
		return str.sendErr()
	}
	s.sendRstLocked(str.id, status)
	s.closeStreamLocked(str, fmt.Errorf("reset locally: %s", status))
	s.drainLocked()
	return nil
}

func (s *Session) sendRstLocked(id framing.StreamId, status framing.RstStreamStatus) {
	s.of.enqueue(frameRq{frame: &framing.RstStreamFrame{StreamId: id, Status: status}})
}

func (s *Session) readFrames() error {
	for {
		if d := s.cfg.ReadTimeout; d != 0 {
			s.conn.SetReadDeadline(time.Now().Add(d))
		}
		frame, err := s.framer.ReadFrame()
		if err != nil {
			select {
			case <-s.closech:
				return nil
			default:
			}
			var ferr *framing.Error
			var ne net.Error
			switch {
			case errors.As(err, &ferr):
				s.protocolError(&ProtocolError{StreamId: ferr.StreamId, Status: framing.ProtocolError, Reason: err.Error()})
			case errors.As(err, &ne) && ne.Timeout():
				s.fail(StatusOK, err)
			case errors.Is(err, io.EOF):
				s.log.Debug("peer closed connection")
				s.teardown(ErrClosedChannel)
				return nil
			default:
				s.teardown(fmt.Errorf("%w: %w", ErrClosedChannel, err))
			}
			return err
		}
		if err := s.dispatch(frame); err != nil {
			return err
		}
	}
}

// dispatch figures out how to handle frames coming in from the peer.
// A non-nil error means the session is closing and no more frames should
// be read.
func (s *Session) dispatch(f framing.Frame) error {
	switch fr := f.(type) {
	case *framing.SynStreamFrame:
		return s.handleSyn(fr)
	case *framing.SynReplyFrame:
		s.handleReply(fr)
	case *framing.HeadersFrame:
		s.handleHeaders(fr)
	case *framing.DataFrame:
		s.handleData(fr)
	case *framing.RstStreamFrame:
		s.handleRst(fr)
	case *framing.SettingsFrame:
		s.handleSettings(fr)
	case *framing.PingFrame:
		s.handlePing(fr)
	case *framing.GoAwayFrame:
		s.handleGoAway(fr)
	case *framing.WindowUpdateFrame:
		// flow control is not enforced.
	default:
		s.log.Debug("unhandled frame", zap.String("type", fmt.Sprintf("%T", fr)))
	}
	return nil
}

// protocolError closes the session with a PROTOCOL_ERROR GOAWAY and reports
// the violation.
func (s *Session) protocolError(perr *ProtocolError) error {
	s.fail(StatusProtocolError, perr)
	s.listener.OnException(s, perr)
	return perr
}

// streamError resets one stream and reports the violation. The caller
// holds the session lock; it is released before the listener runs.
func (s *Session) streamErrorLocked(str *Stream, id framing.StreamId, status framing.RstStreamStatus, reason string) {
	perr := &ProtocolError{StreamId: id, Status: status, Reason: reason}
	s.sendRstLocked(id, status)
	if str != nil {
		s.closeStreamLocked(str, perr)
		s.drainLocked()
	}
	s.mu.Unlock()
	s.log.Debug("stream error", zap.Uint32("stream", uint32(id)), zap.Error(perr))
	s.listener.OnException(s, perr)
}

// handleSyn initiates a stream
func (s *Session) handleSyn(syn *framing.SynStreamFrame) error {
	s.mu.Lock()
	if s.closed || s.closing {
		s.mu.Unlock()
		return nil
	}
	if s.goAwaySent || s.goAwayReceived {
		// the peer either hasn't seen our GOAWAY yet or is ignoring it.
		// the stream is not processed, which the peer learns from the
		// last good stream id.
		s.mu.Unlock()
		s.log.Debug("ignoring syn after goaway", zap.Uint32("stream", uint32(syn.StreamId)))
		return nil
	}
	id := syn.StreamId
	if !s.isRemoteId(id) || id <= s.lastRemoteStream {
		last := s.lastRemoteStream
		s.mu.Unlock()
		return s.protocolError(&ProtocolError{
			StreamId: id,
			Status:   framing.ProtocolError,
			Reason:   fmt.Sprintf("invalid stream id %d after %d", id, last),
		})
	}
	s.lastRemoteStream = id

	if s.remoteStreams >= s.cfg.maxStreams() {
		s.sendRstLocked(id, framing.RefusedStream)
		s.mu.Unlock()
		return nil
	}

	str := newStream(s, id, syn.Priority, false)
	s.addStreamLocked(str)
	if syn.CFHeader.Flags&framing.ControlFlagUnidirectional != 0 {
		str.replied = true
		s.halfCloseLocked(str, true)
	}
	final := syn.CFHeader.Flags&framing.ControlFlagFin != 0
	if final {
		s.halfCloseLocked(str, false)
	}
	s.mu.Unlock()

	str.listener = s.listener.OnSyn(str, SynInfo{
		Headers:  syn.Headers,
		Priority: syn.Priority,
		Final:    final,
	})
	return nil
}

// lookupLocked finds the open stream for a frame. If there is none, it
// reports whether the frame should be treated as a protocol violation.
func (s *Session) lookupLocked(id framing.StreamId) (str *Stream, invalid bool) {
	str, ok := s.streams[id]
	if ok {
		return str, false
	}
	// frames for streams that are gone, including streams abandoned by a
	// GOAWAY, are dropped silently.
	return nil, !s.wasOpenedLocked(id)
}

func (s *Session) handleReply(reply *framing.SynReplyFrame) {
	s.mu.Lock()
	str, invalid := s.lookupLocked(reply.StreamId)
	if str == nil {
		if invalid {
			s.streamErrorLocked(nil, reply.StreamId, framing.InvalidStream, "reply for unknown stream")
			return
		}
		s.mu.Unlock()
		return
	}
	if !str.local {
		s.streamErrorLocked(str, str.id, framing.ProtocolError, "reply for stream opened by peer")
		return
	}
	if str.replied {
		s.streamErrorLocked(str, str.id, framing.StreamInUse, "duplicate reply")
		return
	}
	str.replied = true
	final := reply.CFHeader.Flags&framing.ControlFlagFin != 0
	if final {
		s.halfCloseLocked(str, false)
	}
	l := str.listener
	s.mu.Unlock()

	if l != nil {
		l.OnReply(str, ReplyInfo{Headers: reply.Headers, Final: final})
	}
}

func (s *Session) handleHeaders(hdr *framing.HeadersFrame) {
	s.mu.Lock()
	str, invalid := s.lookupLocked(hdr.StreamId)
	if str == nil {
		if invalid {
			s.streamErrorLocked(nil, hdr.StreamId, framing.InvalidStream, "headers for unknown stream")
			return
		}
		s.mu.Unlock()
		return
	}
	if str.State() == StateHalfClosedRemote {
		s.streamErrorLocked(str, str.id, framing.StreamAlreadyClosed, "headers after fin")
		return
	}
	final := hdr.CFHeader.Flags&framing.ControlFlagFin != 0
	if final {
		s.halfCloseLocked(str, false)
	}
	l := str.listener
	s.mu.Unlock()

	if l != nil {
		l.OnHeaders(str, HeadersInfo{Headers: hdr.Headers, Final: final})
	}
}

func (s *Session) handleData(data *framing.DataFrame) {
	s.mu.Lock()
	str, invalid := s.lookupLocked(data.StreamId)
	if str == nil {
		if invalid {
			s.streamErrorLocked(nil, data.StreamId, framing.InvalidStream, "data for unknown stream")
			return
		}
		s.mu.Unlock()
		return
	}
	if str.State() == StateHalfClosedRemote {
		s.streamErrorLocked(str, str.id, framing.StreamAlreadyClosed, "data after fin")
		return
	}
	if str.local && !str.replied {
		s.streamErrorLocked(str, str.id, framing.ProtocolError, "data before reply")
		return
	}
	final := data.Flags&framing.DataFlagFin != 0
	if final {
		s.halfCloseLocked(str, false)
	}
	l := str.listener
	s.mu.Unlock()

	if l != nil {
		l.OnData(str, DataInfo{Data: data.Data, Final: final})
	}
}

func (s *Session) handleRst(rst *framing.RstStreamFrame) {
	s.mu.Lock()
	str, ok := s.streams[rst.StreamId]
	if !ok {
		// stream no longer active.
		s.mu.Unlock()
		return
	}
	s.closeStreamLocked(str, fmt.Errorf("reset by peer: %s", rst.Status))
	s.drainLocked()
	s.mu.Unlock()

	s.listener.OnRst(s, RstInfo{StreamId: rst.StreamId, Status: rst.Status})
}

// handleSettings adjusts the internal session parameters to what the peer has told us
func (s *Session) handleSettings(settings *framing.SettingsFrame) {
	s.mu.Lock()
	for _, flag := range settings.FlagIdValues {
		switch flag.Id {
		case framing.SettingsMaxConcurrentStreams:
			s.peerMaxStreams = flag.Value
		case framing.SettingsInitialWindowSize:
			// flow control is not enforced.
		default:
			s.log.Debug("unsupported setting", zap.Uint32("id", uint32(flag.Id)))
		}
	}
	s.mu.Unlock()

	s.listener.OnSettings(s, SettingsInfo{
		Values:         settings.FlagIdValues,
		ClearPersisted: settings.CFHeader.Flags&framing.ControlFlagSettingsClearSettings != 0,
	})
}

func (s *Session) handlePing(ping *framing.PingFrame) {
	s.mu.Lock()
	if ping.Id%2 == s.nextPingId%2 {
		// answer to one of ours.
		ch, ok := s.pings[ping.Id]
		if ok {
			delete(s.pings, ping.Id)
			close(ch)
		}
		s.mu.Unlock()
		return
	}
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.of.enqueue(frameRq{frame: &framing.PingFrame{Id: ping.Id}})
	s.mu.Unlock()

	s.listener.OnPing(s, ping.Id)
}

func (s *Session) handleGoAway(g *framing.GoAwayFrame) {
	s.mu.Lock()
	if s.goAwayReceived {
		s.mu.Unlock()
		s.log.Debug("ignoring duplicate goaway")
		return
	}
	s.goAwayReceived = true
	info := NewGoAwayInfo(g.LastGoodStreamId, g.Status)
	s.remoteGoAway = info
	for id, str := range s.streams {
		if str.local && id > info.LastStreamId() {
			// the peer never processed it.
			s.closeStreamLocked(str, ErrGoAway)
		}
	}
	s.drainLocked()
	s.mu.Unlock()

	s.log.Info("received goaway",
		zap.Uint32("last_good_stream", uint32(info.LastStreamId())),
		zap.Stringer("status", info.SessionStatus()))
	s.listener.OnGoAway(s, info)
}
