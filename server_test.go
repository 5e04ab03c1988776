// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

// high level tests.

package spdy_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DanielMorsing/spdy"
	"github.com/DanielMorsing/spdy/framing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// serverListener records session events. onSyn, if set, decides what
// happens to streams opened by the peer.
type serverListener struct {
	spdy.SessionAdapter
	onSyn func(str *spdy.Stream, info spdy.SynInfo) spdy.StreamListener

	syns       atomic.Int32
	synch      chan *spdy.Stream
	goaways    chan spdy.GoAwayInfo
	exceptions chan error
	rsts       chan spdy.RstInfo
	settings   chan spdy.SettingsInfo
	pings      chan uint32
}

func newServerListener() *serverListener {
	return &serverListener{
		synch:      make(chan *spdy.Stream, 16),
		goaways:    make(chan spdy.GoAwayInfo, 16),
		exceptions: make(chan error, 16),
		rsts:       make(chan spdy.RstInfo, 16),
		settings:   make(chan spdy.SettingsInfo, 16),
		pings:      make(chan uint32, 16),
	}
}

func (l *serverListener) OnSyn(str *spdy.Stream, info spdy.SynInfo) spdy.StreamListener {
	l.syns.Add(1)
	l.synch <- str
	if l.onSyn != nil {
		return l.onSyn(str, info)
	}
	return nil
}

func (l *serverListener) OnGoAway(_ *spdy.Session, info spdy.GoAwayInfo) { l.goaways <- info }
func (l *serverListener) OnException(_ *spdy.Session, err error)          { l.exceptions <- err }
func (l *serverListener) OnRst(_ *spdy.Session, info spdy.RstInfo)        { l.rsts <- info }
func (l *serverListener) OnSettings(_ *spdy.Session, info spdy.SettingsInfo) {
	l.settings <- info
}
func (l *serverListener) OnPing(_ *spdy.Session, id uint32) { l.pings <- id }

// streamRecorder records stream events as strings, in callback order.
type streamRecorder struct {
	events chan string
	data   chan spdy.DataInfo
}

func newStreamRecorder(events chan string) *streamRecorder {
	return &streamRecorder{events: events, data: make(chan spdy.DataInfo, 16)}
}

func (r *streamRecorder) OnReply(str *spdy.Stream, info spdy.ReplyInfo) {
	r.events <- "reply"
}

func (r *streamRecorder) OnHeaders(str *spdy.Stream, info spdy.HeadersInfo) {
	r.events <- "headers"
}

func (r *streamRecorder) OnData(str *spdy.Stream, info spdy.DataInfo) {
	r.events <- "data " + string(info.Data)
	r.data <- info
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %T", *new(T))
	}
	panic("unreachable")
}

func waitDone(t *testing.T, sess *spdy.Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(testTimeout):
		t.Fatal("session did not close")
	}
}

// startServer serves l on a loopback port until the test ends.
func startServer(t *testing.T, l spdy.SessionListener, cfg spdy.Config) (*spdy.Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &spdy.Server{Handler: l, Config: cfg}
	errch := make(chan error, 1)
	go func() { errch <- srv.Serve(ln) }()
	t.Cleanup(func() {
		srv.Close()
		assert.ErrorIs(t, <-errch, spdy.ErrServerClosed)
	})
	return srv, ln.Addr().String()
}

func startClient(t *testing.T, addr string, l spdy.SessionListener) *spdy.Session {
	t.Helper()
	sess, err := spdy.Dial(addr, spdy.DefaultConfig(), l)
	require.NoError(t, err)
	t.Cleanup(func() {
		sess.Close()
		<-sess.Done()
	})
	return sess
}

// rawClient dials addr and returns a bare framer on the connection, for
// tests that need control over exactly which frames are sent.
func rawClient(t *testing.T, addr string) *framing.Framer {
	t.Helper()
	n, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	n.SetDeadline(time.Now().Add(testTimeout))
	framer, err := framing.NewFramer(n, n)
	require.NoError(t, err)
	return framer
}

func goldenHeader() http.Header {
	m := make(http.Header)
	m[":host"] = []string{"localhost:4444"}
	m[":path"] = []string{"/"}
	m[":scheme"] = []string{"https"}
	m[":version"] = []string{"HTTP/1.1"}
	m[":method"] = []string{"GET"}
	m["Accept-Encoding"] = []string{"gzip,deflate,sdch"}
	return m
}

func makeRequest(id framing.StreamId, fin bool) *framing.SynStreamFrame {
	syn := &framing.SynStreamFrame{StreamId: id, Headers: goldenHeader()}
	if fin {
		syn.CFHeader.Flags = framing.ControlFlagFin
	}
	return syn
}

func frameRead(t *testing.T, f *framing.Framer) framing.Frame {
	t.Helper()
	frame, err := f.ReadFrame()
	require.NoError(t, err)
	return frame
}

func frameWrite(t *testing.T, f *framing.Framer, frame framing.Frame) {
	t.Helper()
	require.NoError(t, f.WriteFrame(frame))
}

func frameAs[T framing.Frame](t *testing.T, frame framing.Frame) T {
	t.Helper()
	v, ok := frame.(T)
	require.True(t, ok, "received %T, want %T", frame, *new(T))
	return v
}

func TestPing(t *testing.T) {
	l := newServerListener()
	_, addr := startServer(t, l, spdy.DefaultConfig())
	f := rawClient(t, addr)

	frameWrite(t, f, &framing.PingFrame{Id: 1})
	retp := frameAs[*framing.PingFrame](t, frameRead(t, f))
	assert.Equal(t, uint32(1), retp.Id, "ping id returned is not the one sent")
	assert.Equal(t, uint32(1), recv(t, l.pings))
}

func TestSessionPing(t *testing.T) {
	_, addr := startServer(t, newServerListener(), spdy.DefaultConfig())
	client := startClient(t, addr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	rtt, err := client.Ping(ctx)
	require.NoError(t, err)
	assert.Positive(t, rtt)
}

func TestRequestResponse(t *testing.T) {
	l := newServerListener()
	l.onSyn = func(str *spdy.Stream, info spdy.SynInfo) spdy.StreamListener {
		assert.Equal(t, "/", info.Headers.Get(":path"))
		assert.True(t, info.Final)
		assert.NoError(t, str.Reply(spdy.ReplyInfo{Headers: http.Header{":status": {"200"}}}))
		assert.NoError(t, str.Data(spdy.DataInfo{Data: []byte("hello"), Final: true}))
		return nil
	}
	_, addr := startServer(t, l, spdy.DefaultConfig())
	client := startClient(t, addr, nil)

	events := make(chan string, 16)
	rec := newStreamRecorder(events)
	str, err := client.Syn(spdy.SynInfo{Headers: goldenHeader(), Final: true}, rec)
	require.NoError(t, err)
	assert.Equal(t, framing.StreamId(1), str.Id())
	assert.Same(t, client, str.Session())

	assert.Equal(t, "reply", recv(t, events))
	assert.Equal(t, "data hello", recv(t, events))
	assert.True(t, recv(t, rec.data).Final)
	assert.Eventually(t, str.IsClosed, testTimeout, 10*time.Millisecond)
	assert.Equal(t, 0, client.NumStreams())

	str2, err := client.Syn(spdy.SynInfo{Headers: goldenHeader(), Final: true}, rec)
	require.NoError(t, err)
	assert.Equal(t, framing.StreamId(3), str2.Id())
	assert.Equal(t, "reply", recv(t, events))
	assert.Equal(t, "data hello", recv(t, events))
}

func TestDataOrder(t *testing.T) {
	events := make(chan string, 16)
	rec := newStreamRecorder(events)
	l := newServerListener()
	l.onSyn = func(*spdy.Stream, spdy.SynInfo) spdy.StreamListener { return rec }
	_, addr := startServer(t, l, spdy.DefaultConfig())
	f := rawClient(t, addr)

	frameWrite(t, f, makeRequest(1, false))
	frameWrite(t, f, &framing.DataFrame{StreamId: 1, Data: []byte("a")})
	frameWrite(t, f, &framing.DataFrame{StreamId: 1, Data: []byte("b")})
	frameWrite(t, f, &framing.DataFrame{StreamId: 1, Data: []byte("c"), Flags: framing.DataFlagFin})

	for _, want := range []string{"a", "b", "c"} {
		assert.Equal(t, "data "+want, recv(t, events))
	}
	str := recv(t, l.synch)
	assert.Equal(t, spdy.StateHalfClosedRemote, str.State())
}

func TestInvalidStreamId(t *testing.T) {
	l := newServerListener()
	_, addr := startServer(t, l, spdy.DefaultConfig())
	f := rawClient(t, addr)

	// even stream ids belong to the server.
	frameWrite(t, f, makeRequest(2, true))

	g := frameAs[*framing.GoAwayFrame](t, frameRead(t, f))
	assert.Equal(t, framing.GoAwayProtocolError, g.Status)
	assert.Equal(t, framing.StreamId(0), g.LastGoodStreamId)

	_, err := f.ReadFrame()
	assert.Error(t, err)

	var perr *spdy.ProtocolError
	require.ErrorAs(t, recv(t, l.exceptions), &perr)
	assert.Equal(t, framing.StreamId(2), perr.StreamId)
	assert.Zero(t, l.syns.Load())
}

func TestDecreasingStreamId(t *testing.T) {
	l := newServerListener()
	_, addr := startServer(t, l, spdy.DefaultConfig())
	f := rawClient(t, addr)

	frameWrite(t, f, makeRequest(5, true))
	recv(t, l.synch)
	frameWrite(t, f, makeRequest(3, true))

	g := frameAs[*framing.GoAwayFrame](t, frameRead(t, f))
	assert.Equal(t, framing.GoAwayProtocolError, g.Status)
}

func TestDataForUnknownStream(t *testing.T) {
	l := newServerListener()
	_, addr := startServer(t, l, spdy.DefaultConfig())
	f := rawClient(t, addr)

	frameWrite(t, f, &framing.DataFrame{StreamId: 5, Data: []byte("x")})
	rst := frameAs[*framing.RstStreamFrame](t, frameRead(t, f))
	assert.Equal(t, framing.StreamId(5), rst.StreamId)
	assert.Equal(t, framing.InvalidStream, rst.Status)

	var perr *spdy.ProtocolError
	require.ErrorAs(t, recv(t, l.exceptions), &perr)
	assert.Equal(t, framing.InvalidStream, perr.Status)

	// the session survives stream errors.
	frameWrite(t, f, &framing.PingFrame{Id: 1})
	frameAs[*framing.PingFrame](t, frameRead(t, f))
}

func TestDataAfterFin(t *testing.T) {
	l := newServerListener()
	_, addr := startServer(t, l, spdy.DefaultConfig())
	f := rawClient(t, addr)

	frameWrite(t, f, makeRequest(1, true))
	frameWrite(t, f, &framing.DataFrame{StreamId: 1, Data: []byte("late")})

	rst := frameAs[*framing.RstStreamFrame](t, frameRead(t, f))
	assert.Equal(t, framing.StreamAlreadyClosed, rst.Status)
	assert.Error(t, recv(t, l.exceptions))
}

func TestRefusedStream(t *testing.T) {
	l := newServerListener()
	cfg := spdy.DefaultConfig()
	cfg.MaxConcurrentStreams = 1
	_, addr := startServer(t, l, cfg)
	f := rawClient(t, addr)

	frameWrite(t, f, makeRequest(1, false))
	frameWrite(t, f, makeRequest(3, false))

	rst := frameAs[*framing.RstStreamFrame](t, frameRead(t, f))
	assert.Equal(t, framing.StreamId(3), rst.StreamId)
	assert.Equal(t, framing.RefusedStream, rst.Status)
	assert.Equal(t, int32(1), l.syns.Load())
}

func TestRstFromPeer(t *testing.T) {
	l := newServerListener()
	_, addr := startServer(t, l, spdy.DefaultConfig())
	f := rawClient(t, addr)

	frameWrite(t, f, makeRequest(1, false))
	str := recv(t, l.synch)
	frameWrite(t, f, &framing.RstStreamFrame{StreamId: 1, Status: framing.Cancel})

	info := recv(t, l.rsts)
	assert.Equal(t, framing.StreamId(1), info.StreamId)
	assert.Equal(t, framing.Cancel, info.Status)
	assert.True(t, str.IsClosed())
	assert.ErrorIs(t, str.Reply(spdy.ReplyInfo{}), spdy.ErrStreamClosed)
}

func TestReplyErrors(t *testing.T) {
	errs := make(chan error, 3)
	l := newServerListener()
	l.onSyn = func(str *spdy.Stream, _ spdy.SynInfo) spdy.StreamListener {
		errs <- str.Data(spdy.DataInfo{Data: []byte("early")})
		errs <- str.Reply(spdy.ReplyInfo{})
		errs <- str.Reply(spdy.ReplyInfo{})
		return nil
	}
	_, addr := startServer(t, l, spdy.DefaultConfig())
	client := startClient(t, addr, nil)

	str, err := client.Syn(spdy.SynInfo{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, str.Reply(spdy.ReplyInfo{}), spdy.ErrNotReplyable)

	assert.ErrorIs(t, recv(t, errs), spdy.ErrNotReplied)
	assert.NoError(t, recv(t, errs))
	assert.ErrorIs(t, recv(t, errs), spdy.ErrAlreadyReplied)
}

func TestSettingsAnnounced(t *testing.T) {
	l := newServerListener()
	_, addr := startServer(t, l, spdy.DefaultConfig())

	cfg := spdy.DefaultConfig()
	cfg.AnnounceSettings = true
	cfg.MaxConcurrentStreams = 7
	client, err := spdy.Dial(addr, cfg, nil)
	require.NoError(t, err)
	defer func() {
		client.Close()
		<-client.Done()
	}()

	info := recv(t, l.settings)
	v, ok := info.Get(framing.SettingsMaxConcurrentStreams)
	require.True(t, ok)
	assert.Equal(t, uint32(7), v)
	_, ok = info.Get(framing.SettingsUploadBandwidth)
	assert.False(t, ok)
}

func TestPeerStreamLimit(t *testing.T) {
	cfg := spdy.DefaultConfig()
	cfg.AnnounceSettings = true
	cfg.MaxConcurrentStreams = 1
	l := newServerListener()
	_, addr := startServer(t, l, cfg)

	settings := make(chan struct{})
	client := startClient(t, addr, &settingsListener{ch: settings})
	<-settings

	_, err := client.Syn(spdy.SynInfo{}, nil)
	require.NoError(t, err)
	_, err = client.Syn(spdy.SynInfo{}, nil)
	assert.ErrorIs(t, err, spdy.ErrTooManyStreams)
}

type settingsListener struct {
	spdy.SessionAdapter
	ch chan struct{}
}

func (l *settingsListener) OnSettings(*spdy.Session, spdy.SettingsInfo) { close(l.ch) }

func TestCloseFailsPendingWork(t *testing.T) {
	l := newServerListener()
	_, addr := startServer(t, l, spdy.DefaultConfig())
	client := startClient(t, addr, nil)

	str, err := client.Syn(spdy.SynInfo{Headers: goldenHeader()}, nil)
	require.NoError(t, err)
	recv(t, l.synch)

	require.NoError(t, client.Close())
	waitDone(t, client)

	assert.True(t, str.IsClosed())
	assert.ErrorIs(t, str.Data(spdy.DataInfo{Data: []byte("x")}), spdy.ErrClosedChannel)
	_, err = client.Syn(spdy.SynInfo{}, nil)
	assert.ErrorIs(t, err, spdy.ErrClosedChannel)
	assert.ErrorIs(t, client.Err(), spdy.ErrClosedChannel)
	_, err = client.Ping(context.Background())
	assert.ErrorIs(t, err, spdy.ErrClosedChannel)
}

func TestPeerDisconnectClosesStreams(t *testing.T) {
	l := newServerListener()
	_, addr := startServer(t, l, spdy.DefaultConfig())

	n, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	raw, err := framing.NewFramer(n, n)
	require.NoError(t, err)
	frameWrite(t, raw, makeRequest(1, false))
	str := recv(t, l.synch)
	n.Close()

	sess := str.Session()
	waitDone(t, sess)
	assert.True(t, str.IsClosed())
	assert.ErrorIs(t, str.Reply(spdy.ReplyInfo{}), spdy.ErrClosedChannel)
}

func TestServerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &spdy.Server{Handler: newServerListener()}
	errch := make(chan error, 1)
	go func() { errch <- srv.Serve(ln) }()

	client, err := spdy.Dial(ln.Addr().String(), spdy.DefaultConfig(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err = client.Ping(ctx)
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	assert.ErrorIs(t, recv(t, errch), spdy.ErrServerClosed)
	waitDone(t, client)

	err = srv.Serve(ln)
	assert.True(t, errors.Is(err, spdy.ErrServerClosed), "got %v", err)
}

func TestReadFrameEOFAfterGoAway(t *testing.T) {
	_, addr := startServer(t, newServerListener(), spdy.DefaultConfig())
	f := rawClient(t, addr)
	frameWrite(t, f, &framing.GoAwayFrame{Status: framing.GoAwayOK})

	// nothing is open, so the server closes as soon as it learns the
	// client is going away.
	_, err := f.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestHeadersAndSettings(t *testing.T) {
	events := make(chan string, 16)
	rec := newStreamRecorder(events)
	l := newServerListener()
	l.onSyn = func(*spdy.Stream, spdy.SynInfo) spdy.StreamListener { return rec }
	_, addr := startServer(t, l, spdy.DefaultConfig())
	client := startClient(t, addr, nil)

	str, err := client.Syn(spdy.SynInfo{Headers: goldenHeader()}, nil)
	require.NoError(t, err)
	require.NoError(t, str.Headers(spdy.HeadersInfo{Headers: http.Header{"X-Trailer": {"1"}}, Final: true}))
	assert.Equal(t, "headers", recv(t, events))
	assert.Equal(t, spdy.StateHalfClosedLocal, str.State())
	assert.ErrorIs(t, str.Data(spdy.DataInfo{Data: []byte("x")}), spdy.ErrStreamClosed)

	require.NoError(t, client.Settings(spdy.SettingsInfo{
		Values:         []framing.SettingsFlagIdValue{{Id: framing.SettingsRoundTripTime, Value: 30}},
		ClearPersisted: true,
	}))
	info := recv(t, l.settings)
	assert.True(t, info.ClearPersisted)
	v, ok := info.Get(framing.SettingsRoundTripTime)
	assert.True(t, ok)
	assert.Equal(t, uint32(30), v)
}
