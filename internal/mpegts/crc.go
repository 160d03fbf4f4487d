package mpegts

import "errors"

// ErrCRC is returned for a table section whose CRC_32 does not match.
var ErrCRC = errors.New("mpegts: crc mismatch")

// crcTable is the MSB-first table for the MPEG-2 polynomial 0x04C11DB7.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// CRC32 computes the checksum carried at the end of PSI sections. Run over
// a whole section including its CRC_32 field, the result is zero.
func CRC32(data []byte) uint32 {
	c := uint32(0xFFFFFFFF)
	for _, b := range data {
		c = c<<8 ^ crcTable[byte(c>>24)^b]
	}
	return c
}

func checkCRC(section []byte) error {
	if len(section) < 4 || CRC32(section) != 0 {
		return ErrCRC
	}
	return nil
}
