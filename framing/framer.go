// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package framing

import (
	"bytes"
	"encoding/binary"
	"io"
	"net/http"
	"sort"
	"strings"
)

const (
	controlBit   = 0x80000000
	streamIdMask = 0x7fffffff
	lengthMask   = 0xffffff
	headerLen    = 8
)

// Framer reads and writes SPDY frames.
//
// A Framer is not safe for concurrent use. Reads and writes may happen on
// different goroutines, but only one goroutine may write at a time and only
// one may read at a time.
type Framer struct {
	w io.Writer
	r io.Reader

	// scratch space for building outgoing frames, so each frame
	// reaches w in a single Write.
	wbuf bytes.Buffer
	body bytes.Buffer
}

// NewFramer allocates a Framer writing to w and reading from r.
func NewFramer(w io.Writer, r io.Reader) (*Framer, error) {
	return &Framer{w: w, r: r}, nil
}

// WriteFrame encodes f onto the underlying writer.
func (f *Framer) WriteFrame(frame Frame) error {
	return frame.write(f)
}

// ReadFrame reads the next frame. Unknown control frame types are skipped.
// io.EOF is returned only when the stream ends on a frame boundary.
func (f *Framer) ReadFrame() (Frame, error) {
	for {
		var hdr [headerLen]byte
		if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
			return nil, err
		}
		first := binary.BigEndian.Uint32(hdr[0:4])
		second := binary.BigEndian.Uint32(hdr[4:8])
		flags := uint8(second >> 24)
		length := second & lengthMask

		body := make([]byte, length)
		if _, err := io.ReadFull(f.r, body); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}

		if first&controlBit == 0 {
			id := StreamId(first & streamIdMask)
			if id == 0 {
				return nil, &Error{Err: ZeroStreamId}
			}
			return &DataFrame{StreamId: id, Flags: DataFlags(flags), Data: body}, nil
		}

		h := ControlFrameHeader{
			version:   uint16(first>>16) & 0x7fff,
			frameType: ControlFrameType(first & 0xffff),
			Flags:     ControlFlags(flags),
			length:    length,
		}
		if h.version != Version {
			return nil, &Error{Err: UnsupportedVersionCode}
		}
		frame, err := parseControlFrame(h, body)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			continue
		}
		return frame, nil
	}
}

func parseControlFrame(h ControlFrameHeader, body []byte) (Frame, error) {
	d := decoder{b: body}
	switch h.frameType {
	case TypeSynStream:
		fr := &SynStreamFrame{CFHeader: h}
		fr.StreamId = StreamId(d.u32() & streamIdMask)
		fr.AssociatedToStreamId = StreamId(d.u32() & streamIdMask)
		fr.Priority = d.u8() >> 5
		fr.Slot = d.u8()
		if d.err != nil {
			return nil, &Error{Err: InvalidControlFrame}
		}
		if fr.StreamId == 0 {
			return nil, &Error{Err: ZeroStreamId}
		}
		hdr, err := d.headerBlock(fr.StreamId)
		if err != nil {
			return nil, err
		}
		fr.Headers = hdr
		return fr, nil

	case TypeSynReply:
		fr := &SynReplyFrame{CFHeader: h}
		fr.StreamId = StreamId(d.u32() & streamIdMask)
		if d.err != nil {
			return nil, &Error{Err: InvalidControlFrame}
		}
		if fr.StreamId == 0 {
			return nil, &Error{Err: ZeroStreamId}
		}
		hdr, err := d.headerBlock(fr.StreamId)
		if err != nil {
			return nil, err
		}
		fr.Headers = hdr
		return fr, nil

	case TypeHeaders:
		fr := &HeadersFrame{CFHeader: h}
		fr.StreamId = StreamId(d.u32() & streamIdMask)
		if d.err != nil {
			return nil, &Error{Err: InvalidControlFrame}
		}
		if fr.StreamId == 0 {
			return nil, &Error{Err: ZeroStreamId}
		}
		hdr, err := d.headerBlock(fr.StreamId)
		if err != nil {
			return nil, err
		}
		fr.Headers = hdr
		return fr, nil

	case TypeRstStream:
		fr := &RstStreamFrame{CFHeader: h}
		fr.StreamId = StreamId(d.u32() & streamIdMask)
		fr.Status = RstStreamStatus(d.u32())
		if d.err != nil || len(d.b) != 0 || h.Flags != 0 {
			return nil, &Error{Err: InvalidControlFrame, StreamId: fr.StreamId}
		}
		if fr.StreamId == 0 {
			return nil, &Error{Err: ZeroStreamId}
		}
		return fr, nil

	case TypeSettings:
		fr := &SettingsFrame{CFHeader: h}
		n := d.u32()
		if d.err != nil || uint64(n)*8 != uint64(len(d.b)) {
			return nil, &Error{Err: InvalidControlFrame}
		}
		fr.FlagIdValues = make([]SettingsFlagIdValue, n)
		for i := range fr.FlagIdValues {
			fi := d.u32()
			fr.FlagIdValues[i] = SettingsFlagIdValue{
				Flag:  SettingsFlag(fi >> 24),
				Id:    SettingsId(fi & lengthMask),
				Value: d.u32(),
			}
		}
		return fr, nil

	case TypePing:
		fr := &PingFrame{CFHeader: h}
		fr.Id = d.u32()
		if d.err != nil || len(d.b) != 0 || h.Flags != 0 {
			return nil, &Error{Err: InvalidControlFrame}
		}
		if fr.Id == 0 {
			return nil, &Error{Err: ZeroStreamId}
		}
		return fr, nil

	case TypeGoAway:
		fr := &GoAwayFrame{CFHeader: h}
		fr.LastGoodStreamId = StreamId(d.u32() & streamIdMask)
		fr.Status = GoAwayStatus(d.u32())
		if d.err != nil || len(d.b) != 0 || h.Flags != 0 {
			return nil, &Error{Err: InvalidControlFrame}
		}
		return fr, nil

	case TypeWindowUpdate:
		fr := &WindowUpdateFrame{CFHeader: h}
		fr.StreamId = StreamId(d.u32() & streamIdMask)
		fr.DeltaWindowSize = d.u32() & streamIdMask
		if d.err != nil || len(d.b) != 0 || h.Flags != 0 {
			return nil, &Error{Err: InvalidControlFrame, StreamId: fr.StreamId}
		}
		return fr, nil
	}
	// unknown control frames must be ignored.
	return nil, nil
}

func (f *Framer) writeControl(t ControlFrameType, flags ControlFlags) error {
	body := f.body.Bytes()
	if len(body) > MaxDataLength {
		return &Error{Err: FrameTooLargeCode}
	}
	f.wbuf.Reset()
	var hdr [headerLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], controlBit|uint32(Version)<<16|uint32(t))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(flags)<<24|uint32(len(body)))
	f.wbuf.Write(hdr[:])
	f.wbuf.Write(body)
	_, err := f.w.Write(f.wbuf.Bytes())
	return err
}

func (f *Framer) putU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	f.body.Write(b[:])
}

func (f *Framer) putHeaderBlock(h http.Header) error {
	names := make([]string, 0, len(h))
	lower := make(map[string][]string, len(h))
	for k, v := range h {
		name := strings.ToLower(k)
		if _, dup := lower[name]; dup {
			return &Error{Err: DuplicateHeaders}
		}
		lower[name] = v
		names = append(names, name)
	}
	sort.Strings(names)
	f.putU32(uint32(len(names)))
	for _, name := range names {
		f.putU32(uint32(len(name)))
		f.body.WriteString(name)
		value := strings.Join(lower[name], "\x00")
		f.putU32(uint32(len(value)))
		f.body.WriteString(value)
	}
	return nil
}

func (frame *SynStreamFrame) write(f *Framer) error {
	if frame.StreamId == 0 {
		return &Error{Err: ZeroStreamId}
	}
	f.body.Reset()
	f.putU32(uint32(frame.StreamId) & streamIdMask)
	f.putU32(uint32(frame.AssociatedToStreamId) & streamIdMask)
	f.body.WriteByte((frame.Priority & 0x7) << 5)
	f.body.WriteByte(frame.Slot)
	if err := f.putHeaderBlock(frame.Headers); err != nil {
		return err
	}
	return f.writeControl(TypeSynStream, frame.CFHeader.Flags)
}

func (frame *SynReplyFrame) write(f *Framer) error {
	if frame.StreamId == 0 {
		return &Error{Err: ZeroStreamId}
	}
	f.body.Reset()
	f.putU32(uint32(frame.StreamId) & streamIdMask)
	if err := f.putHeaderBlock(frame.Headers); err != nil {
		return err
	}
	return f.writeControl(TypeSynReply, frame.CFHeader.Flags)
}

func (frame *HeadersFrame) write(f *Framer) error {
	if frame.StreamId == 0 {
		return &Error{Err: ZeroStreamId}
	}
	f.body.Reset()
	f.putU32(uint32(frame.StreamId) & streamIdMask)
	if err := f.putHeaderBlock(frame.Headers); err != nil {
		return err
	}
	return f.writeControl(TypeHeaders, frame.CFHeader.Flags)
}

func (frame *RstStreamFrame) write(f *Framer) error {
	if frame.StreamId == 0 {
		return &Error{Err: ZeroStreamId}
	}
	f.body.Reset()
	f.putU32(uint32(frame.StreamId) & streamIdMask)
	f.putU32(uint32(frame.Status))
	return f.writeControl(TypeRstStream, 0)
}

func (frame *SettingsFrame) write(f *Framer) error {
	f.body.Reset()
	f.putU32(uint32(len(frame.FlagIdValues)))
	for _, fv := range frame.FlagIdValues {
		f.putU32(uint32(fv.Flag)<<24 | uint32(fv.Id)&lengthMask)
		f.putU32(fv.Value)
	}
	return f.writeControl(TypeSettings, frame.CFHeader.Flags)
}

func (frame *PingFrame) write(f *Framer) error {
	if frame.Id == 0 {
		return &Error{Err: ZeroStreamId}
	}
	f.body.Reset()
	f.putU32(frame.Id)
	return f.writeControl(TypePing, 0)
}

func (frame *GoAwayFrame) write(f *Framer) error {
	f.body.Reset()
	f.putU32(uint32(frame.LastGoodStreamId) & streamIdMask)
	f.putU32(uint32(frame.Status))
	return f.writeControl(TypeGoAway, 0)
}

func (frame *WindowUpdateFrame) write(f *Framer) error {
	f.body.Reset()
	f.putU32(uint32(frame.StreamId) & streamIdMask)
	f.putU32(frame.DeltaWindowSize & streamIdMask)
	return f.writeControl(TypeWindowUpdate, 0)
}

func (frame *DataFrame) write(f *Framer) error {
	if frame.StreamId == 0 {
		return &Error{Err: ZeroStreamId}
	}
	if len(frame.Data) > MaxDataLength {
		return &Error{Err: FrameTooLargeCode, StreamId: frame.StreamId}
	}
	f.wbuf.Reset()
	var hdr [headerLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(frame.StreamId)&streamIdMask)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(frame.Flags)<<24|uint32(len(frame.Data)))
	f.wbuf.Write(hdr[:])
	f.wbuf.Write(frame.Data)
	_, err := f.w.Write(f.wbuf.Bytes())
	return err
}

// decoder walks a frame body. The first short read sticks in err.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) u32() uint32 {
	if d.err != nil || len(d.b) < 4 {
		d.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.BigEndian.Uint32(d.b)
	d.b = d.b[4:]
	return v
}

func (d *decoder) u8() uint8 {
	if d.err != nil || len(d.b) < 1 {
		d.err = io.ErrUnexpectedEOF
		return 0
	}
	v := d.b[0]
	d.b = d.b[1:]
	return v
}

func (d *decoder) bytes(n uint32) []byte {
	if d.err != nil || uint64(len(d.b)) < uint64(n) {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	v := d.b[:n]
	d.b = d.b[n:]
	return v
}

func (d *decoder) headerBlock(id StreamId) (http.Header, error) {
	n := d.u32()
	if d.err != nil || uint64(n)*8 > uint64(len(d.b)) {
		return nil, &Error{Err: WrongCompressedPayloadSize, StreamId: id}
	}
	h := make(http.Header, n)
	for i := uint32(0); i < n; i++ {
		name := string(d.bytes(d.u32()))
		value := string(d.bytes(d.u32()))
		if d.err != nil {
			return nil, &Error{Err: WrongCompressedPayloadSize, StreamId: id}
		}
		if name == "" || name != strings.ToLower(name) {
			return nil, &Error{Err: UnlowercasedHeaderName, StreamId: id}
		}
		key := name
		if name[0] != ':' {
			key = http.CanonicalHeaderKey(name)
		}
		if _, dup := h[key]; dup {
			return nil, &Error{Err: DuplicateHeaders, StreamId: id}
		}
		h[key] = strings.Split(value, "\x00")
	}
	if len(d.b) != 0 {
		return nil, &Error{Err: WrongCompressedPayloadSize, StreamId: id}
	}
	return h, nil
}
