// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"net/http"

	"github.com/DanielMorsing/spdy/framing"
)

// SessionStatus is the reason carried in a GOAWAY frame.
type SessionStatus = framing.GoAwayStatus

const (
	StatusOK            = framing.GoAwayOK
	StatusProtocolError = framing.GoAwayProtocolError
	StatusInternalError = framing.GoAwayInternalError
)

// SynInfo describes a stream being opened.
type SynInfo struct {
	Headers  http.Header
	Priority uint8
	// Final marks the SYN as the only frame the opener will send.
	Final bool
}

// ReplyInfo describes the first response on a stream.
type ReplyInfo struct {
	Headers http.Header
	Final   bool
}

// HeadersInfo describes additional headers on a stream.
type HeadersInfo struct {
	Headers http.Header
	Final   bool
}

// DataInfo is a chunk of stream payload.
type DataInfo struct {
	Data  []byte
	Final bool
}

// RstInfo describes a stream reset by the peer.
type RstInfo struct {
	StreamId framing.StreamId
	Status   framing.RstStreamStatus
}

// SettingsInfo carries session settings.
type SettingsInfo struct {
	Values []framing.SettingsFlagIdValue
	// ClearPersisted asks the peer to drop settings it persisted earlier.
	ClearPersisted bool
}

// Get returns the value of setting id, if present.
func (si SettingsInfo) Get(id framing.SettingsId) (uint32, bool) {
	for _, v := range si.Values {
		if v.Id == id {
			return v.Value, true
		}
	}
	return 0, false
}

// GoAwayInfo is the content of a GOAWAY frame: the highest stream id the
// sender will still process, and why it is going away.
type GoAwayInfo struct {
	lastStreamId framing.StreamId
	status       SessionStatus
}

func NewGoAwayInfo(lastStreamId framing.StreamId, status SessionStatus) GoAwayInfo {
	return GoAwayInfo{lastStreamId: lastStreamId, status: status}
}

func (g GoAwayInfo) LastStreamId() framing.StreamId { return g.lastStreamId }
func (g GoAwayInfo) SessionStatus() SessionStatus   { return g.status }
