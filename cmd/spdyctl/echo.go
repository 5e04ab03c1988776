// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package main

import (
	"net/http"

	"github.com/DanielMorsing/spdy"
	"go.uber.org/zap"
)

// echoHandler replies to every stream and sends back whatever data the
// peer sends on it.
type echoHandler struct {
	spdy.SessionAdapter
	log *zap.Logger
}

func (h *echoHandler) OnSyn(str *spdy.Stream, info spdy.SynInfo) spdy.StreamListener {
	h.log.Debug("stream opened",
		zap.Uint32("stream", uint32(str.Id())),
		zap.String("path", info.Headers.Get(":path")))
	hdr := http.Header{":status": {"200"}, ":version": {"HTTP/1.1"}}
	if err := str.Reply(spdy.ReplyInfo{Headers: hdr, Final: info.Final}); err != nil {
		h.log.Debug("reply failed", zap.Error(err))
		return nil
	}
	if info.Final {
		return nil
	}
	return &echoStream{log: h.log}
}

func (h *echoHandler) OnGoAway(sess *spdy.Session, info spdy.GoAwayInfo) {
	h.log.Info("peer going away",
		zap.String("session", sess.Id()),
		zap.Uint32("last_stream", uint32(info.LastStreamId())),
		zap.Stringer("status", info.SessionStatus()))
}

func (h *echoHandler) OnException(sess *spdy.Session, err error) {
	h.log.Warn("protocol error", zap.String("session", sess.Id()), zap.Error(err))
}

type echoStream struct {
	spdy.StreamAdapter
	log *zap.Logger
}

func (e *echoStream) OnData(str *spdy.Stream, info spdy.DataInfo) {
	if err := str.Data(spdy.DataInfo{Data: info.Data, Final: info.Final}); err != nil {
		e.log.Debug("echo failed", zap.Uint32("stream", uint32(str.Id())), zap.Error(err))
	}
}

// probeResult is what a probe stream got back.
type probeResult struct {
	id     uint32
	status string
	body   []byte
}

// probeStream collects the reply and data of one probe stream.
type probeStream struct {
	status string
	body   []byte
	done   chan<- probeResult
}

func (p *probeStream) OnReply(str *spdy.Stream, info spdy.ReplyInfo) {
	p.status = info.Headers.Get(":status")
	if info.Final {
		p.done <- probeResult{id: uint32(str.Id()), status: p.status}
	}
}

func (p *probeStream) OnHeaders(*spdy.Stream, spdy.HeadersInfo) {}

func (p *probeStream) OnData(str *spdy.Stream, info spdy.DataInfo) {
	p.body = append(p.body, info.Data...)
	if info.Final {
		p.done <- probeResult{id: uint32(str.Id()), status: p.status, body: p.body}
	}
}
