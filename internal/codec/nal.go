// Package codec reads the parts of H.264, H.265 and AAC bitstreams that
// demuxing needs: NAL framing, picture size from parameter sets and ADTS
// frame headers.
package codec

// NAL unit types used by the extractor and the caption decoder.
const (
	AVCSlice = 1
	AVCIDR   = 5
	AVCSEI   = 6
	AVCSPS   = 7
	AVCPPS   = 8
	AVCAUD   = 9

	HEVCBLAWLP    = 16
	HEVCCRA       = 21
	HEVCVPS       = 32
	HEVCSPS       = 33
	HEVCPPS       = 34
	HEVCAUD       = 35
	HEVCSEIPrefix = 39
	HEVCSEISuffix = 40
)

// NALU is one NAL unit without its start code. Data starts at the NAL
// header.
type NALU struct {
	Type byte
	Data []byte
}

// AVCType returns the nal_unit_type of an H.264 header byte.
func AVCType(b byte) byte { return b & 0x1F }

// HEVCType returns the nal_unit_type of the first H.265 header byte.
func HEVCType(b byte) byte { return b >> 1 & 0x3F }

// SplitAnnexB cuts an Annex B stream at its three- and four-byte start
// codes. Bytes before the first start code are dropped.
func SplitAnnexB(b []byte, hevc bool) []NALU {
	var out []NALU
	start := -1
	emit := func(end int) {
		if start < 0 || end <= start {
			return
		}
		d := b[start:end]
		// A trailing zero belongs to the next four-byte start code.
		for len(d) > 0 && d[len(d)-1] == 0 {
			d = d[:len(d)-1]
		}
		if len(d) == 0 || hevc && len(d) < 2 {
			return
		}
		n := NALU{Data: d, Type: AVCType(d[0])}
		if hevc {
			n.Type = HEVCType(d[0])
		}
		out = append(out, n)
	}
	for i := 0; i+2 < len(b); {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			emit(i)
			i += 3
			start = i
			continue
		}
		i++
	}
	emit(len(b))
	return out
}

// IsRandomAccess reports whether an access unit holding nalus can start
// decoding: an IDR for H.264, or any IRAP picture for H.265.
func IsRandomAccess(nalus []NALU, hevc bool) bool {
	for _, n := range nalus {
		if !hevc && n.Type == AVCIDR {
			return true
		}
		if hevc && n.Type >= HEVCBLAWLP && n.Type <= 23 {
			return true
		}
	}
	return false
}

// IsSEI reports whether n carries SEI messages.
func IsSEI(n NALU, hevc bool) bool {
	if hevc {
		return n.Type == HEVCSEIPrefix || n.Type == HEVCSEISuffix
	}
	return n.Type == AVCSEI
}
