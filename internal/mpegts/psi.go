package mpegts

import "fmt"

const (
	tablePAT = 0x00
	tablePMT = 0x02

	descLanguage = 0x0A
)

// sections splits a PSI payload into complete sections. complete is false
// when the last section is still missing bytes.
func sections(payload []byte) (out [][]byte, complete bool) {
	if len(payload) == 0 {
		return nil, false
	}
	pos := 1 + int(payload[0])
	for pos < len(payload) {
		if payload[pos] == 0xFF {
			return out, true
		}
		if pos+3 > len(payload) {
			return out, false
		}
		if payload[pos+1]&0x80 == 0 {
			// Zero padding after the last section.
			return out, true
		}
		end := pos + 3 + (int(payload[pos+1]&0x0F)<<8 | int(payload[pos+2]))
		if end > len(payload) {
			return out, false
		}
		out = append(out, payload[pos:end])
		pos = end
	}
	return out, pos == len(payload)
}

func parsePSI(payload []byte) (pats []*PAT, pmts []*PMT, err error) {
	secs, _ := sections(payload)
	for _, s := range secs {
		if len(s) < 8 || s[5]&0x01 == 0 {
			// Too short, or not yet applicable.
			continue
		}
		switch s[0] {
		case tablePAT:
			pat, err := parsePAT(s)
			if err != nil {
				return pats, pmts, err
			}
			pats = append(pats, pat)
		case tablePMT:
			pmt, err := parsePMT(s)
			if err != nil {
				return pats, pmts, err
			}
			pmts = append(pmts, pmt)
		}
	}
	return pats, pmts, nil
}

// parsePAT reads a PAT section. Program 0 points at the network table and
// is left out.
func parsePAT(s []byte) (*PAT, error) {
	if len(s) < 12 {
		return nil, fmt.Errorf("mpegts: %d byte PAT", len(s))
	}
	if err := checkCRC(s); err != nil {
		return nil, fmt.Errorf("PAT: %w", err)
	}
	pat := &PAT{
		StreamID: uint16(s[3])<<8 | uint16(s[4]),
		Version:  s[5] >> 1 & 0x1F,
	}
	for i := 8; i+4 <= len(s)-4; i += 4 {
		num := uint16(s[i])<<8 | uint16(s[i+1])
		if num == 0 {
			continue
		}
		pat.Programs = append(pat.Programs, Program{
			Number: num,
			PMTPID: uint16(s[i+2]&0x1F)<<8 | uint16(s[i+3]),
		})
	}
	return pat, nil
}

func parsePMT(s []byte) (*PMT, error) {
	if len(s) < 16 {
		return nil, fmt.Errorf("mpegts: %d byte PMT", len(s))
	}
	if err := checkCRC(s); err != nil {
		return nil, fmt.Errorf("PMT: %w", err)
	}
	pmt := &PMT{
		Program: uint16(s[3])<<8 | uint16(s[4]),
		Version: s[5] >> 1 & 0x1F,
		PCRPID:  uint16(s[8]&0x1F)<<8 | uint16(s[9]),
	}
	end := len(s) - 4
	pos := 12 + (int(s[10]&0x0F)<<8 | int(s[11]))
	for pos+5 <= end {
		es := ElementaryStream{
			Type: StreamType(s[pos]),
			PID:  uint16(s[pos+1]&0x1F)<<8 | uint16(s[pos+2]),
		}
		info := int(s[pos+3]&0x0F)<<8 | int(s[pos+4])
		pos += 5
		if pos+info > end {
			return nil, fmt.Errorf("mpegts: PMT stream info overruns section")
		}
		es.Language = language(s[pos : pos+info])
		pmt.Streams = append(pmt.Streams, es)
		pos += info
	}
	return pmt, nil
}

func language(desc []byte) string {
	for len(desc) >= 2 {
		tag, n := desc[0], int(desc[1])
		if 2+n > len(desc) {
			return ""
		}
		if tag == descLanguage && n >= 3 {
			return string(desc[2:5])
		}
		desc = desc[2+n:]
	}
	return ""
}
