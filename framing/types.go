// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

// Package framing implements the SPDY/3 frame layer: the frame records a
// session exchanges and a Framer that reads and writes them.
//
// Header blocks are written uncompressed. Both ends of a connection must use
// this package for the header block format to agree.
package framing

import (
	"fmt"
	"net/http"
)

// Version is the SPDY protocol version spoken by this package.
const Version = 3

// MaxDataLength is the largest payload a single frame can carry.
const MaxDataLength = 1<<24 - 1

// StreamId identifies a stream within a session. Only the low 31 bits are used.
type StreamId uint32

// MaxStreamId is the highest stream id that can be allocated.
const MaxStreamId StreamId = 1<<31 - 1

// ControlFrameType is the type field of a control frame.
type ControlFrameType uint16

const (
	TypeSynStream    ControlFrameType = 0x0001
	TypeSynReply     ControlFrameType = 0x0002
	TypeRstStream    ControlFrameType = 0x0003
	TypeSettings     ControlFrameType = 0x0004
	TypePing         ControlFrameType = 0x0006
	TypeGoAway       ControlFrameType = 0x0007
	TypeHeaders      ControlFrameType = 0x0008
	TypeWindowUpdate ControlFrameType = 0x0009
)

// ControlFlags are the flags carried in a control frame header.
type ControlFlags uint8

const (
	ControlFlagFin                   ControlFlags = 0x01
	ControlFlagUnidirectional        ControlFlags = 0x02
	ControlFlagSettingsClearSettings ControlFlags = 0x01
)

// DataFlags are the flags carried in a data frame header.
type DataFlags uint8

const (
	DataFlagFin DataFlags = 0x01
)

// RstStreamStatus is the status code of a RST_STREAM frame.
type RstStreamStatus uint32

const (
	ProtocolError RstStreamStatus = iota + 1
	InvalidStream
	RefusedStream
	UnsupportedVersion
	Cancel
	InternalError
	FlowControlError
	StreamInUse
	StreamAlreadyClosed
	InvalidCredentials
	FrameTooLarge
)

var rstStatusText = map[RstStreamStatus]string{
	ProtocolError:       "PROTOCOL_ERROR",
	InvalidStream:       "INVALID_STREAM",
	RefusedStream:       "REFUSED_STREAM",
	UnsupportedVersion:  "UNSUPPORTED_VERSION",
	Cancel:              "CANCEL",
	InternalError:       "INTERNAL_ERROR",
	FlowControlError:    "FLOW_CONTROL_ERROR",
	StreamInUse:         "STREAM_IN_USE",
	StreamAlreadyClosed: "STREAM_ALREADY_CLOSED",
	InvalidCredentials:  "INVALID_CREDENTIALS",
	FrameTooLarge:       "FRAME_TOO_LARGE",
}

func (s RstStreamStatus) String() string {
	if t, ok := rstStatusText[s]; ok {
		return t
	}
	return fmt.Sprintf("RST_STREAM(%d)", uint32(s))
}

// GoAwayStatus is the status code of a GOAWAY frame.
type GoAwayStatus uint32

const (
	GoAwayOK GoAwayStatus = iota
	GoAwayProtocolError
	GoAwayInternalError
)

func (s GoAwayStatus) String() string {
	switch s {
	case GoAwayOK:
		return "OK"
	case GoAwayProtocolError:
		return "PROTOCOL_ERROR"
	case GoAwayInternalError:
		return "INTERNAL_ERROR"
	}
	return fmt.Sprintf("GOAWAY(%d)", uint32(s))
}

// SettingsFlag is the per-entry flag of a SETTINGS frame.
type SettingsFlag uint8

const (
	FlagSettingsPersistValue SettingsFlag = 0x1
	FlagSettingsPersisted    SettingsFlag = 0x2
)

// SettingsId identifies a setting.
type SettingsId uint32

const (
	SettingsUploadBandwidth SettingsId = iota + 1
	SettingsDownloadBandwidth
	SettingsRoundTripTime
	SettingsMaxConcurrentStreams
	SettingsCurrentCwnd
	SettingsDownloadRetransRate
	SettingsInitialWindowSize
	SettingsClientCertificateVectorSize
)

// SettingsFlagIdValue is one entry of a SETTINGS frame.
type SettingsFlagIdValue struct {
	Flag  SettingsFlag
	Id    SettingsId
	Value uint32
}

// Frame is a single SPDY frame.
type Frame interface {
	write(f *Framer) error
}

// ControlFrameHeader holds the flags shared by every control frame.
// Type and length are filled in by the Framer.
type ControlFrameHeader struct {
	version   uint16
	frameType ControlFrameType
	Flags     ControlFlags
	length    uint32
}

// SynStreamFrame opens a stream.
type SynStreamFrame struct {
	CFHeader             ControlFrameHeader
	StreamId             StreamId
	AssociatedToStreamId StreamId
	Priority             uint8 // 0 is the highest priority, 7 the lowest.
	Slot                 uint8
	Headers              http.Header
}

// SynReplyFrame is the first response on a stream.
type SynReplyFrame struct {
	CFHeader ControlFrameHeader
	StreamId StreamId
	Headers  http.Header
}

// RstStreamFrame terminates a stream abnormally.
type RstStreamFrame struct {
	CFHeader ControlFrameHeader
	StreamId StreamId
	Status   RstStreamStatus
}

// SettingsFrame carries session parameters.
type SettingsFrame struct {
	CFHeader     ControlFrameHeader
	FlagIdValues []SettingsFlagIdValue
}

// PingFrame measures round trip time and checks liveness.
type PingFrame struct {
	CFHeader ControlFrameHeader
	Id       uint32
}

// GoAwayFrame announces that the sender accepts no new streams.
type GoAwayFrame struct {
	CFHeader         ControlFrameHeader
	LastGoodStreamId StreamId
	Status           GoAwayStatus
}

// HeadersFrame carries additional headers on an open stream.
type HeadersFrame struct {
	CFHeader ControlFrameHeader
	StreamId StreamId
	Headers  http.Header
}

// WindowUpdateFrame grows a stream's send window.
type WindowUpdateFrame struct {
	CFHeader        ControlFrameHeader
	StreamId        StreamId
	DeltaWindowSize uint32
}

// DataFrame carries stream payload.
type DataFrame struct {
	StreamId StreamId
	Flags    DataFlags
	Data     []byte
}

// ErrorCode classifies a framing error.
type ErrorCode string

const (
	UnlowercasedHeaderName     ErrorCode = "header was not lowercased"
	DuplicateHeaders           ErrorCode = "multiple headers with same name"
	WrongCompressedPayloadSize ErrorCode = "header block size does not match frame length"
	UnknownFrameType           ErrorCode = "unknown frame type"
	InvalidControlFrame        ErrorCode = "invalid control frame"
	InvalidDataFrame           ErrorCode = "invalid data frame"
	InvalidHeaderPresent       ErrorCode = "frame contained invalid header"
	ZeroStreamId               ErrorCode = "stream id zero is disallowed"
	UnsupportedVersionCode     ErrorCode = "unsupported protocol version"
	FrameTooLargeCode          ErrorCode = "frame exceeds maximum length"
)

// Error is a framing error, optionally scoped to a stream.
type Error struct {
	Err      ErrorCode
	StreamId StreamId
}

func (e *Error) Error() string {
	if e.StreamId != 0 {
		return fmt.Sprintf("framing: %s (stream %d)", string(e.Err), e.StreamId)
	}
	return "framing: " + string(e.Err)
}
