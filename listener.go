// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

// SessionListener receives session level events. Every callback runs on the
// goroutine reading frames from the connection, in the order the frames
// arrived, so a slow callback delays the whole session.
//
// Embed SessionAdapter to implement only the events you care about.
type SessionListener interface {
	// OnSyn is called when the peer opens a stream. The returned listener
	// receives the stream's subsequent frames and may be nil.
	OnSyn(stream *Stream, info SynInfo) StreamListener
	OnRst(session *Session, info RstInfo)
	OnSettings(session *Session, info SettingsInfo)
	// OnPing is called for pings initiated by the peer, after the echo has
	// been queued.
	OnPing(session *Session, id uint32)
	// OnGoAway is called once, when the first GOAWAY arrives.
	OnGoAway(session *Session, info GoAwayInfo)
	// OnException reports protocol violations. The session has already
	// reset the offending stream or started closing.
	OnException(session *Session, err error)
}

// StreamListener receives frames for one stream, in wire order.
//
// Embed StreamAdapter to implement only the events you care about.
type StreamListener interface {
	OnReply(stream *Stream, info ReplyInfo)
	OnHeaders(stream *Stream, info HeadersInfo)
	OnData(stream *Stream, info DataInfo)
}

// SessionAdapter is a SessionListener that ignores everything and refuses
// nothing: streams opened by the peer get no listener.
type SessionAdapter struct{}

func (SessionAdapter) OnSyn(*Stream, SynInfo) StreamListener { return nil }
func (SessionAdapter) OnRst(*Session, RstInfo)               {}
func (SessionAdapter) OnSettings(*Session, SettingsInfo)     {}
func (SessionAdapter) OnPing(*Session, uint32)               {}
func (SessionAdapter) OnGoAway(*Session, GoAwayInfo)         {}
func (SessionAdapter) OnException(*Session, error)           {}

// StreamAdapter is a StreamListener that ignores everything.
type StreamAdapter struct{}

func (StreamAdapter) OnReply(*Stream, ReplyInfo)     {}
func (StreamAdapter) OnHeaders(*Stream, HeadersInfo) {}
func (StreamAdapter) OnData(*Stream, DataInfo)       {}
