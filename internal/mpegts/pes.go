package mpegts

import (
	"errors"
	"fmt"

	"github.com/samber/mo"
)

var errNotPES = errors.New("mpegts: missing PES start code")

func hasStartCode(b []byte) bool {
	return len(b) >= 3 && b[0] == 0 && b[1] == 0 && b[2] == 1
}

// pesLength returns the total size of a bounded PES unit, or 0 when the
// length field is zero.
func pesLength(b []byte) int {
	if len(b) < 6 || !hasStartCode(b) {
		return 0
	}
	n := int(b[4])<<8 | int(b[5])
	if n == 0 {
		return 0
	}
	return 6 + n
}

// hasOptionalHeader is false for the stream ids that carry raw data right
// after the length field.
func hasOptionalHeader(id uint8) bool {
	switch id {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(b []byte) (*PES, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("mpegts: %d byte PES", len(b))
	}
	if !hasStartCode(b) {
		return nil, errNotPES
	}
	p := &PES{StreamID: b[3]}
	end := len(b)
	if n := pesLength(b); n > 0 && n < end {
		end = n
	}
	if !hasOptionalHeader(p.StreamID) {
		p.Data = b[6:end]
		return p, nil
	}
	if len(b) < 9 {
		return nil, fmt.Errorf("mpegts: short PES header")
	}

	flags := b[7] >> 6
	body := min(9+int(b[8]), end)
	if flags&0x2 != 0 && len(b) >= 14 {
		p.PTS = mo.Some(readTimestamp(b[9:14]))
	}
	if flags == 0x3 && len(b) >= 19 {
		p.DTS = mo.Some(readTimestamp(b[14:19]))
	}
	p.Data = b[body:end]
	return p, nil
}

// readTimestamp decodes the 33-bit value spread over five bytes with
// marker bits.
func readTimestamp(b []byte) Timestamp {
	return Timestamp(int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1))
}
