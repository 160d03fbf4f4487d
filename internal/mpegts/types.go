// Package mpegts reads MPEG transport streams. It reassembles program
// tables and PES units per PID, checks continuity, and reports where in
// the stream each unit started so callers can seek back to it.
package mpegts

import (
	"fmt"

	"github.com/samber/mo"
)

// Header holds the fields of a transport packet header and the flags of
// its adaptation field.
type Header struct {
	PID           uint16
	Continuity    uint8
	Start         bool // payload_unit_start_indicator
	Error         bool // transport_error_indicator
	HasPayload    bool
	HasAdaptation bool
	Discontinuity bool
	RandomAccess  bool
}

// Packet is one transport packet. Offset is its position in the stream.
type Packet struct {
	Offset  int64
	Header  Header
	Payload []byte
}

// StreamType is the stream_type of a PMT entry.
type StreamType uint8

const (
	StreamMPEG1Audio StreamType = 0x03
	StreamMPEG2Audio StreamType = 0x04
	StreamPrivate    StreamType = 0x06
	StreamADTS       StreamType = 0x0F
	StreamLATM       StreamType = 0x11
	StreamMetadata   StreamType = 0x15
	StreamH264       StreamType = 0x1B
	StreamH265       StreamType = 0x24
	StreamAC3        StreamType = 0x81
	StreamEAC3       StreamType = 0x87
)

func (s StreamType) String() string {
	switch s {
	case StreamMPEG1Audio:
		return "mpeg1-audio"
	case StreamMPEG2Audio:
		return "mpeg2-audio"
	case StreamPrivate:
		return "private"
	case StreamADTS:
		return "aac-adts"
	case StreamLATM:
		return "aac-latm"
	case StreamMetadata:
		return "metadata"
	case StreamH264:
		return "h264"
	case StreamH265:
		return "h265"
	case StreamAC3:
		return "ac3"
	case StreamEAC3:
		return "eac3"
	}
	return fmt.Sprintf("type-0x%02x", uint8(s))
}

// IsVideo reports whether s carries a video codec.
func (s StreamType) IsVideo() bool { return s == StreamH264 || s == StreamH265 }

// IsAudio reports whether s carries an audio codec.
func (s StreamType) IsAudio() bool {
	switch s {
	case StreamMPEG1Audio, StreamMPEG2Audio, StreamADTS, StreamLATM, StreamAC3, StreamEAC3:
		return true
	}
	return false
}

// Program is one PAT entry.
type Program struct {
	Number uint16
	PMTPID uint16
}

// PAT is a program association table.
type PAT struct {
	StreamID uint16
	Version  uint8
	Programs []Program
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	PID  uint16
	Type StreamType
	// Language is the ISO 639 code from a language descriptor, if any.
	Language string
}

// PMT is a program map table.
type PMT struct {
	Program uint16
	Version uint8
	PCRPID  uint16
	Streams []ElementaryStream
}

// PES is a reassembled PES unit.
type PES struct {
	StreamID uint8
	PTS      mo.Option[Timestamp]
	DTS      mo.Option[Timestamp]
	Data     []byte
}

// Time returns the DTS when present and the PTS otherwise.
func (p *PES) Time() mo.Option[Timestamp] {
	if p.DTS.IsPresent() {
		return p.DTS
	}
	return p.PTS
}

// Data is one demuxed unit. Exactly one of PAT, PMT and PES is set.
type Data struct {
	PID uint16
	// Offset is the position of the unit's first packet.
	Offset int64
	// RandomAccess is the random_access_indicator of the first packet.
	RandomAccess bool
	// Discontinuity is set when packets were lost inside or just before
	// the unit.
	Discontinuity bool

	PAT *PAT
	PMT *PMT
	PES *PES
}
