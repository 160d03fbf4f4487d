package codec

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestSplitAnnexB(t *testing.T) {
	t.Parallel()
	data := []byte{
		0xAA, // junk before the first start code
		0, 0, 0, 1, 0x67, 0x42, 0x00,
		0, 0, 1, 0x68, 0xCE,
		0, 0, 0, 1, 0x06, 0x04, 0x80,
		0, 0, 1, 0x65, 0x88, 0x84,
	}
	nalus := SplitAnnexB(data, false)
	want := []byte{AVCSPS, AVCPPS, AVCSEI, AVCIDR}
	if len(nalus) != len(want) {
		t.Fatalf("got %d units, want %d", len(nalus), len(want))
	}
	for i, n := range nalus {
		if n.Type != want[i] {
			t.Errorf("unit %d: type %d, want %d", i, n.Type, want[i])
		}
	}
	// The SPS ends in a zero byte that is part of the next start code.
	if !bytes.Equal(nalus[0].Data, []byte{0x67, 0x42}) {
		t.Errorf("sps: got %x", nalus[0].Data)
	}
	if !IsRandomAccess(nalus, false) || IsRandomAccess(nalus[:3], false) {
		t.Error("random access follows the IDR")
	}
	if !IsSEI(nalus[2], false) {
		t.Error("sei not detected")
	}
	if SplitAnnexB([]byte{1, 2, 3}, false) != nil {
		t.Error("units without a start code")
	}
}

func TestSplitAnnexBHEVC(t *testing.T) {
	t.Parallel()
	data := []byte{
		0, 0, 0, 1, 0x40, 0x01, 0xAA,
		0, 0, 0, 1, 0x4E, 0x01, 0x04,
		0, 0, 1, 0x2A, 0x01, 0xCC, // CRA
		0, 0, 1, 0x02, // one-byte unit is dropped
	}
	nalus := SplitAnnexB(data, true)
	if len(nalus) != 3 {
		t.Fatalf("got %d units, want 3", len(nalus))
	}
	if nalus[0].Type != HEVCVPS || nalus[1].Type != HEVCSEIPrefix || nalus[2].Type != HEVCCRA {
		t.Errorf("types: %d %d %d", nalus[0].Type, nalus[1].Type, nalus[2].Type)
	}
	if !IsRandomAccess(nalus, true) || !IsSEI(nalus[1], true) {
		t.Error("cra is a random access point")
	}
}

func TestParseAVCSPS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		sps           []byte
		width, height int
	}{
		{
			name: "high 720p",
			sps: []byte{
				0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
				0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
				0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
				0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
			},
			width: 1280, height: 720,
		},
		{
			name: "main 256x192",
			sps: []byte{
				0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
				0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
				0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
				0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
				0x3a, 0x8e, 0x18, 0xc9,
			},
			width: 256, height: 192,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := ParseAVCSPS(tt.sps)
			if err != nil {
				t.Fatal(err)
			}
			if s.Width != tt.width || s.Height != tt.height {
				t.Errorf("got %dx%d, want %dx%d", s.Width, s.Height, tt.width, tt.height)
			}
		})
	}
}

type bitWriter struct {
	out  []byte
	cur  byte
	used int
}

func (w *bitWriter) bits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		w.cur = w.cur<<1 | byte(v>>i&1)
		if w.used++; w.used == 8 {
			w.out = append(w.out, w.cur)
			w.cur, w.used = 0, 0
		}
	}
}

func (w *bitWriter) ue(v uint) {
	v++
	n := 0
	for x := v; x > 1; x >>= 1 {
		n++
	}
	w.bits(0, n)
	w.bits(v, n+1)
}

// rbsp closes the payload with trailing bits and inserts emulation
// prevention bytes.
func (w *bitWriter) rbsp() []byte {
	w.bits(1, 1)
	for w.used != 0 {
		w.bits(0, 1)
	}
	var out []byte
	zeros := 0
	for _, b := range w.out {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

func TestParseAVCSPSFrameRate(t *testing.T) {
	t.Parallel()
	w := &bitWriter{}
	w.bits(66, 8) // baseline
	w.bits(0, 8)
	w.bits(30, 8)
	w.ue(0)  // sps id
	w.ue(0)  // log2_max_frame_num_minus4
	w.ue(2)  // pic_order_cnt_type
	w.ue(1)  // max_num_ref_frames
	w.bits(0, 1)
	w.ue(19) // 320 wide
	w.ue(14) // 240 high
	w.bits(1, 1) // frame_mbs_only
	w.bits(1, 1)
	w.bits(1, 1) // cropping
	w.ue(0)
	w.ue(0)
	w.ue(0)
	w.ue(4) // 8 rows off the bottom
	w.bits(1, 1) // vui
	w.bits(0, 4) // no aspect, overscan, signal type or chroma loc
	w.bits(1, 1) // timing
	w.bits(1001, 32)
	w.bits(60000, 32)
	w.bits(1, 1)
	w.bits(0, 5)
	sps := append([]byte{0x67}, w.rbsp()...)

	s, err := ParseAVCSPS(sps)
	if err != nil {
		t.Fatal(err)
	}
	if s.Width != 320 || s.Height != 232 || s.Profile != 66 || s.Level != 30 {
		t.Errorf("got %v", s)
	}
	if math.Abs(s.FrameRate-29.97) > 0.01 {
		t.Errorf("frame rate: got %g, want 29.97", s.FrameRate)
	}
}

func TestParseAVCSPSTruncated(t *testing.T) {
	t.Parallel()
	for _, b := range [][]byte{nil, {0x67, 0x64, 0x00}, {0x67, 0x64, 0x00, 0x1f, 0xac}} {
		if _, err := ParseAVCSPS(b); !errors.Is(err, ErrShort) {
			t.Errorf("ParseAVCSPS(%x): got %v, want ErrShort", b, err)
		}
	}
}

func TestParseHEVCSPS(t *testing.T) {
	t.Parallel()
	sps := []byte{
		0x42, 0x01,
		0x01, // vps 0, one sub layer, nesting
		0x01, // main profile
		0x40, 0x00, 0x00, 0x00,
		0xB0, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x5D, // level 3.1
		0xA0, 0x0A, 0x08, 0x0F, 0x10,
	}
	s, err := ParseHEVCSPS(sps)
	if err != nil {
		t.Fatal(err)
	}
	if s.Width != 320 || s.Height != 240 || s.Profile != 1 || s.Level != 93 {
		t.Errorf("got %v", s)
	}
	if _, err := ParseHEVCSPS(sps[:3]); !errors.Is(err, ErrShort) {
		t.Errorf("short: got %v", err)
	}
}

func adtsFrame(rate uint8, channels, payload int) []byte {
	n := 7 + payload
	b := []byte{
		0xFF, 0xF1,
		1<<6 | rate<<2 | byte(channels>>2),
		byte(channels&3)<<6 | byte(n>>11),
		byte(n >> 3),
		byte(n&7)<<5 | 0x1F,
		0xFC,
	}
	return append(b, make([]byte, payload)...)
}

func TestParseADTSHeader(t *testing.T) {
	t.Parallel()
	h, err := ParseADTSHeader(adtsFrame(3, 2, 100))
	if err != nil {
		t.Fatal(err)
	}
	if h.SampleRate != 48000 || h.Channels != 2 || h.FrameLength != 107 || h.HeaderLength != 7 {
		t.Errorf("got %+v", h)
	}
	if got := h.DurationUs(); got != 21333 {
		t.Errorf("duration: got %d, want 21333", got)
	}
	if got := h.AudioSpecificConfig(); !bytes.Equal(got, []byte{0x11, 0x90}) {
		t.Errorf("audio specific config: got %x, want 1190", got)
	}

	bad := adtsFrame(15, 2, 0)
	if _, err := ParseADTSHeader(bad); err == nil {
		t.Error("rate index 15 accepted")
	}
	if _, err := ParseADTSHeader([]byte{0, 1, 2, 3, 4, 5, 6}); !errors.Is(err, ErrNoSync) {
		t.Errorf("no sync: got %v", err)
	}
}

func TestSplitADTS(t *testing.T) {
	t.Parallel()
	var b []byte
	b = append(b, adtsFrame(4, 1, 10)...)
	b = append(b, 0x00, 0x12) // junk
	b = append(b, adtsFrame(4, 1, 20)...)
	tail := adtsFrame(4, 1, 30)[:12]
	b = append(b, tail...)

	frames, rest := SplitADTS(b)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Header.SampleRate != 44100 || frames[1].Header.FrameLength != 27 {
		t.Errorf("frames: %+v %+v", frames[0].Header, frames[1].Header)
	}
	if !bytes.Equal(rest, tail) {
		t.Errorf("rest: got %d bytes, want %d", len(rest), len(tail))
	}
}
