package mpegts

import (
	"errors"
	"fmt"
)

const (
	// PacketSize is the size of a transport packet.
	PacketSize = 188
	// SyncByte starts every transport packet.
	SyncByte = 0x47

	pidPAT  = 0x0000
	pidNull = 0x1FFF
)

// ErrSync is returned for a packet that does not start with SyncByte.
var ErrSync = errors.New("mpegts: lost sync")

func parsePacket(buf []byte, offset int64) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: %d byte packet", len(buf))
	}
	if buf[0] != SyncByte {
		return nil, fmt.Errorf("%w: 0x%02x at %d", ErrSync, buf[0], offset)
	}

	p := &Packet{Offset: offset}
	h := &p.Header
	h.Error = buf[1]&0x80 != 0
	h.Start = buf[1]&0x40 != 0
	h.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	h.HasAdaptation = buf[3]&0x20 != 0
	h.HasPayload = buf[3]&0x10 != 0
	h.Continuity = buf[3] & 0x0F

	pos := 4
	if h.HasAdaptation {
		n := int(buf[pos])
		if n > 0 {
			h.Discontinuity = buf[pos+1]&0x80 != 0
			h.RandomAccess = buf[pos+1]&0x40 != 0
		}
		pos = min(pos+1+n, PacketSize)
	}
	if h.HasPayload && pos < PacketSize {
		p.Payload = append([]byte(nil), buf[pos:]...)
	}
	return p, nil
}
