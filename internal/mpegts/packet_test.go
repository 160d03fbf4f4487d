package mpegts

import (
	"errors"
	"testing"
)

func rawPacket(pid uint16, cc uint8, start bool, af []byte, payload []byte) []byte {
	b := make([]byte, PacketSize)
	b[0] = SyncByte
	b[1] = byte(pid>>8) & 0x1F
	if start {
		b[1] |= 0x40
	}
	b[2] = byte(pid)
	b[3] = cc & 0x0F
	if payload != nil {
		b[3] |= 0x10
	}
	pos := 4
	if af != nil {
		b[3] |= 0x20
		b[4] = byte(len(af))
		copy(b[5:], af)
		pos += 1 + len(af)
	}
	copy(b[pos:], payload)
	return b
}

func TestParsePacket(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		buf     []byte
		want    Header
		payload int
	}{
		{
			name:    "payload only",
			buf:     rawPacket(0x100, 5, false, nil, []byte{1, 2, 3}),
			want:    Header{PID: 0x100, Continuity: 5, HasPayload: true},
			payload: 184,
		},
		{
			name:    "start with random access",
			buf:     rawPacket(0x1FFE, 15, true, []byte{0x40}, []byte{1}),
			want:    Header{PID: 0x1FFE, Continuity: 15, Start: true, HasPayload: true, HasAdaptation: true, RandomAccess: true},
			payload: 182,
		},
		{
			name:    "discontinuity without payload",
			buf:     rawPacket(0x20, 0, false, append([]byte{0x80}, make([]byte, 182)...), nil),
			want:    Header{PID: 0x20, HasAdaptation: true, Discontinuity: true},
			payload: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := parsePacket(tt.buf, 376)
			if err != nil {
				t.Fatal(err)
			}
			if p.Header != tt.want {
				t.Errorf("header: got %+v, want %+v", p.Header, tt.want)
			}
			if len(p.Payload) != tt.payload {
				t.Errorf("payload: got %d bytes, want %d", len(p.Payload), tt.payload)
			}
			if p.Offset != 376 {
				t.Errorf("offset: got %d, want 376", p.Offset)
			}
		})
	}
}

func TestParsePacketErrors(t *testing.T) {
	t.Parallel()
	bad := rawPacket(0x100, 0, false, nil, []byte{1})
	bad[0] = 0x48
	if _, err := parsePacket(bad, 0); !errors.Is(err, ErrSync) {
		t.Errorf("bad sync: got %v", err)
	}
	if _, err := parsePacket(make([]byte, 100), 0); err == nil {
		t.Error("short packet accepted")
	}
}

func TestCRC32(t *testing.T) {
	t.Parallel()
	// "123456789" is the usual check string for CRC-32/MPEG-2.
	if got := CRC32([]byte("123456789")); got != 0x0376E6E7 {
		t.Fatalf("got %#08x, want 0x0376e6e7", got)
	}
	sec := []byte{0x00, 0xB0, 0x0D, 0x00, 0x01, 0xC1, 0x00, 0x00, 0x00, 0x01, 0xF0, 0x00}
	c := CRC32(sec)
	sec = append(sec, byte(c>>24), byte(c>>16), byte(c>>8), byte(c))
	if err := checkCRC(sec); err != nil {
		t.Fatal(err)
	}
	sec[9] ^= 0xFF
	if err := checkCRC(sec); !errors.Is(err, ErrCRC) {
		t.Fatalf("corrupted section: got %v", err)
	}
}

func TestParsePES(t *testing.T) {
	t.Parallel()
	// PTS 0x1_2345_6789 and DTS 90000 with a bounded length.
	b := []byte{0, 0, 1, 0xC0, 0, 0, 0x80, 0xC0, 10,
		0x39, 0x8D, 0x15, 0xCF, 0x13}
	b = append(b, 0x11, 0x00, 0x05, 0xBF, 0x21)
	b = append(b, 0xAA, 0xBB, 0xCC)
	n := len(b) - 6
	b[4], b[5] = byte(n>>8), byte(n)
	b = append(b, 0xEE, 0xEE) // stuffing past the declared length

	p, err := parsePES(b)
	if err != nil {
		t.Fatal(err)
	}
	if pts, ok := p.PTS.Get(); !ok || pts != 0x1_2345_6789 {
		t.Errorf("pts: got %v, want 0x123456789", p.PTS)
	}
	if dts, ok := p.DTS.Get(); !ok || dts != 90000 {
		t.Errorf("dts: got %v, want 90000", p.DTS)
	}
	if got, _ := p.Time().Get(); got != 90000 {
		t.Errorf("time: got %d, want the dts", got)
	}
	if string(p.Data) != "\xaa\xbb\xcc" {
		t.Errorf("data: got %x", p.Data)
	}

	if _, err := parsePES([]byte{0, 0, 2, 0xE0, 0, 0}); !errors.Is(err, errNotPES) {
		t.Errorf("bad start code: got %v", err)
	}
}

func TestPESWithoutOptionalHeader(t *testing.T) {
	t.Parallel()
	p, err := parsePES([]byte{0, 0, 1, 0xBE, 0, 2, 0xFF, 0xFF, 0xFF})
	if err != nil {
		t.Fatal(err)
	}
	if p.PTS.IsPresent() || len(p.Data) != 2 {
		t.Fatalf("got %+v", p)
	}
}

func TestTimestamp(t *testing.T) {
	t.Parallel()
	if got := Timestamp(90_000).Micros(); got != 1_000_000 {
		t.Errorf("micros: got %d", got)
	}
	if got := FromMicros(2_000_000); got != 180_000 {
		t.Errorf("from micros: got %d", got)
	}

	top := Timestamp(wrap - 3000)
	var u Unwrapper
	tests := []struct {
		in, want Timestamp
	}{
		{top, top},
		{top + 1000, top + 1000},
		{500, Timestamp(wrap + 500)},
		{Timestamp(wrap - 100), Timestamp(wrap - 100)},
		{900, Timestamp(wrap + 900)},
	}
	for i, tt := range tests {
		if got := u.Unwrap(tt.in); got != tt.want {
			t.Errorf("step %d: Unwrap(%d) = %d, want %d", i, tt.in, got, tt.want)
		}
	}
	u.Reset()
	if got := u.Unwrap(500); got != 500 {
		t.Errorf("after reset: got %d", got)
	}
}
