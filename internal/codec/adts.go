package codec

import (
	"errors"
	"fmt"
)

// ErrNoSync is returned when no ADTS sync word is found.
var ErrNoSync = errors.New("codec: no ADTS sync word")

// SamplesPerFrame is the length of one AAC frame.
const SamplesPerFrame = 1024

var aacRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// ADTSHeader is the fixed and variable header of one ADTS frame.
type ADTSHeader struct {
	// Profile is the MPEG-4 audio object type minus one.
	Profile      uint8
	RateIndex    uint8
	SampleRate   int
	Channels     int
	// FrameLength covers header and payload.
	FrameLength  int
	HeaderLength int
}

// DurationUs returns the play time of one frame.
func (h ADTSHeader) DurationUs() int64 {
	if h.SampleRate == 0 {
		return 0
	}
	return SamplesPerFrame * 1_000_000 / int64(h.SampleRate)
}

// AudioSpecificConfig returns the two-byte MPEG-4 decoder config for the
// stream.
func (h ADTSHeader) AudioSpecificConfig() []byte {
	obj := h.Profile + 1
	return []byte{
		obj<<3 | h.RateIndex>>1,
		h.RateIndex<<7 | uint8(h.Channels)<<3,
	}
}

// IsADTSSync reports whether b starts with an ADTS sync word and a valid
// layer.
func IsADTSSync(b []byte) bool {
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xF6 == 0xF0
}

// ParseADTSHeader reads the header at the start of b.
func ParseADTSHeader(b []byte) (ADTSHeader, error) {
	if len(b) < 7 {
		return ADTSHeader{}, ErrShort
	}
	if !IsADTSSync(b) {
		return ADTSHeader{}, ErrNoSync
	}
	h := ADTSHeader{
		Profile:      b[2] >> 6,
		RateIndex:    b[2] >> 2 & 0x0F,
		Channels:     int(b[2]&0x01)<<2 | int(b[3]>>6),
		FrameLength:  int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5]>>5),
		HeaderLength: 7,
	}
	if b[1]&0x01 == 0 {
		h.HeaderLength = 9
	}
	if int(h.RateIndex) >= len(aacRates) {
		return ADTSHeader{}, fmt.Errorf("codec: ADTS sample rate index %d", h.RateIndex)
	}
	h.SampleRate = aacRates[h.RateIndex]
	if h.FrameLength < h.HeaderLength {
		return ADTSHeader{}, fmt.Errorf("codec: ADTS frame length %d", h.FrameLength)
	}
	return h, nil
}

// ADTSFrame is one frame cut from an ADTS stream. Data includes the
// header.
type ADTSFrame struct {
	Header ADTSHeader
	Data   []byte
}

// SplitADTS cuts b into frames. Garbage between frames is skipped; rest is
// the incomplete tail, if any.
func SplitADTS(b []byte) (frames []ADTSFrame, rest []byte) {
	for len(b) >= 7 {
		if !IsADTSSync(b) {
			b = b[1:]
			continue
		}
		h, err := ParseADTSHeader(b)
		if err != nil {
			b = b[1:]
			continue
		}
		if h.FrameLength > len(b) {
			break
		}
		frames = append(frames, ADTSFrame{Header: h, Data: b[:h.FrameLength]})
		b = b[h.FrameLength:]
	}
	return frames, b
}
