// Package mpegtstest builds small transport streams for tests.
package mpegtstest

import (
	"bytes"
	"encoding/binary"

	"github.com/zsiec/mediaplay/internal/mpegts"
)

// NoTime leaves the PTS or DTS out of a PES header.
const NoTime = -1

// Stream accumulates packets. Continuity counters are kept per PID.
type Stream struct {
	buf bytes.Buffer
	cc  map[uint16]uint8
}

func New() *Stream { return &Stream{cc: make(map[uint16]uint8)} }

func (s *Stream) Bytes() []byte { return s.buf.Bytes() }
func (s *Stream) Len() int      { return s.buf.Len() }

// Raw appends b unframed.
func (s *Stream) Raw(b []byte) { s.buf.Write(b) }

// Drop advances the continuity counter of pid as if a packet was lost.
func (s *Stream) Drop(pid uint16) { s.cc[pid]++ }

// Program writes a PAT with one program and its PMT. The first stream
// carries the PCR.
func (s *Stream) Program(pmtPID uint16, streams ...mpegts.ElementaryStream) {
	pat := []byte{0x00, 0x01, 0xE0 | byte(pmtPID>>8), byte(pmtPID)}
	s.table(0, section(0x00, 1, pat))

	var pcr uint16 = 0x1FFF
	if len(streams) > 0 {
		pcr = streams[0].PID
	}
	body := []byte{0xE0 | byte(pcr>>8), byte(pcr), 0xF0, 0x00}
	for _, es := range streams {
		var info []byte
		if es.Language != "" {
			info = append([]byte{0x0A, 4}, es.Language[:3]...)
			info = append(info, 0)
		}
		body = append(body, byte(es.Type), 0xE0|byte(es.PID>>8), byte(es.PID),
			0xF0|byte(len(info)>>8), byte(len(info)))
		body = append(body, info...)
	}
	s.table(pmtPID, section(0x02, 1, body))
}

// PES writes one PES unit. Times are 90 kHz ticks or NoTime. A bounded
// unit carries its length, as audio usually does. keyframe sets the
// random access indicator on the first packet.
func (s *Stream) PES(pid uint16, streamID byte, pts, dts int64, bounded, keyframe bool, data []byte) {
	var opt []byte
	flags := byte(0)
	if pts != NoTime {
		flags = 0x80
		prefix := byte(0x2)
		if dts != NoTime {
			flags, prefix = 0xC0, 0x3
		}
		opt = append(opt, timestamp(prefix, pts)...)
		if dts != NoTime {
			opt = append(opt, timestamp(0x1, dts)...)
		}
	}
	length := 0
	if n := 3 + len(opt) + len(data); bounded && n <= 0xFFFF {
		length = n
	}
	b := []byte{0, 0, 1, streamID, byte(length >> 8), byte(length), 0x80, flags, byte(len(opt))}
	b = append(b, opt...)
	b = append(b, data...)

	for first := true; len(b) > 0 || first; first = false {
		room := 184
		if first && keyframe {
			room = 182
		}
		n := min(room, len(b))
		s.packet(pid, first, first && keyframe, b[:n])
		b = b[n:]
	}
}

func (s *Stream) table(pid uint16, sec []byte) {
	payload := append([]byte{0}, sec...)
	for i := len(payload); i < 184; i++ {
		payload = append(payload, 0xFF)
	}
	s.packet(pid, true, false, payload)
}

// packet writes a single packet, padding a short payload with adaptation
// field stuffing.
func (s *Stream) packet(pid uint16, start, randomAccess bool, payload []byte) {
	var h [4]byte
	h[0] = mpegts.SyncByte
	h[1] = byte(pid>>8) & 0x1F
	if start {
		h[1] |= 0x40
	}
	h[2] = byte(pid)
	h[3] = 0x10 | s.cc[pid]&0x0F
	s.cc[pid]++

	af := 184 - len(payload)
	if af > 0 {
		h[3] |= 0x20
	}
	s.buf.Write(h[:])
	if af > 0 {
		s.buf.WriteByte(byte(af - 1))
		if af > 1 {
			fl := byte(0)
			if randomAccess {
				fl = 0x40
			}
			s.buf.WriteByte(fl)
			s.buf.Write(bytes.Repeat([]byte{0xFF}, af-2))
		}
	}
	s.buf.Write(payload)
}

func section(table byte, id uint16, body []byte) []byte {
	n := 5 + len(body) + 4
	b := []byte{table, 0xB0 | byte(n>>8)&0x0F, byte(n), byte(id >> 8), byte(id), 0xC1, 0, 0}
	b = append(b, body...)
	return binary.BigEndian.AppendUint32(b, mpegts.CRC32(b))
}

func timestamp(prefix byte, ts int64) []byte {
	return []byte{
		prefix<<4 | byte(ts>>29)&0x0E | 1,
		byte(ts >> 22),
		byte(ts>>14)&0xFE | 1,
		byte(ts >> 7),
		byte(ts<<1) | 1,
	}
}
