package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// Stats counts what a Demuxer saw and threw away.
type Stats struct {
	Packets int64 `json:"packets"`
	// Skipped is the number of bytes dropped to regain sync.
	Skipped int64 `json:"skipped"`
	// Corrupt counts units that failed to parse.
	Corrupt int64 `json:"corrupt"`
	Units   int64 `json:"units"`
}

// Demuxer pulls transport packets from a reader and returns tables and PES
// units in stream order.
type Demuxer struct {
	ctx    context.Context
	r      io.Reader
	buf    [PacketSize]byte
	offset int64

	asm    *assembler
	pmts   map[uint16]bool
	filter map[uint16]bool

	out   []*Data
	eof   bool
	stats Stats
}

// Option configures a Demuxer.
type Option func(*Demuxer)

// WithPIDs limits PES output to the given PIDs. Tables are always parsed.
func WithPIDs(pids ...uint16) Option {
	return func(d *Demuxer) {
		d.filter = make(map[uint16]bool, len(pids))
		for _, p := range pids {
			d.filter[p] = true
		}
	}
}

// WithOffset sets the stream position of the first byte read, so reported
// offsets stay absolute when the reader starts mid-stream.
func WithOffset(off int64) Option {
	return func(d *Demuxer) { d.offset = off }
}

// WithPMTPIDs declares PMT PIDs learned earlier, for readers that start
// after the PAT.
func WithPMTPIDs(pids ...uint16) Option {
	return func(d *Demuxer) {
		for _, p := range pids {
			d.pmts[p] = true
		}
	}
}

// NewDemuxer returns a demuxer reading from r. Reads stop once ctx is done.
func NewDemuxer(ctx context.Context, r io.Reader, opts ...Option) *Demuxer {
	d := &Demuxer{
		ctx:  ctx,
		r:    r,
		pmts: make(map[uint16]bool),
	}
	d.asm = newAssembler(d.isPSI)
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Demuxer) isPSI(pid uint16) bool { return pid == pidPAT || d.pmts[pid] }

func (d *Demuxer) wanted(pid uint16) bool {
	switch {
	case pid == pidNull:
		return false
	case d.filter == nil, d.isPSI(pid):
		return true
	}
	return d.filter[pid]
}

// Offset returns the stream position after the last packet read.
func (d *Demuxer) Offset() int64 { return d.offset }

// Stats returns the counters so far.
func (d *Demuxer) Stats() Stats { return d.stats }

// Next returns the next unit. Once the reader is exhausted, partial units
// are returned and then io.EOF.
func (d *Demuxer) Next() (*Data, error) {
	for {
		if len(d.out) > 0 {
			v := d.out[0]
			d.out = d.out[1:]
			return v, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		p, err := d.readPacket()
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			d.eof = true
			for _, u := range d.asm.drain() {
				d.emit(u)
			}
			continue
		case err != nil:
			return nil, err
		}
		if !d.wanted(p.Header.PID) {
			continue
		}
		for _, u := range d.asm.add(p) {
			d.emit(u)
		}
	}
}

// readPacket reads one packet, skipping bytes until a sync byte if the
// stream is misaligned.
func (d *Demuxer) readPacket() (*Packet, error) {
	if _, err := io.ReadFull(d.r, d.buf[:]); err != nil {
		return nil, err
	}
	start := d.offset
	d.offset += PacketSize
	for d.buf[0] != SyncByte {
		skip := bytes.IndexByte(d.buf[1:], SyncByte) + 1
		if skip == 0 {
			skip = PacketSize
		}
		copy(d.buf[:], d.buf[skip:])
		if _, err := io.ReadFull(d.r, d.buf[PacketSize-skip:]); err != nil {
			return nil, err
		}
		start += int64(skip)
		d.offset += int64(skip)
		d.stats.Skipped += int64(skip)
	}
	d.stats.Packets++
	return parsePacket(d.buf[:], start)
}

func (d *Demuxer) emit(u *unit) {
	first := u.packets[0]
	base := Data{
		PID:           first.Header.PID,
		Offset:        first.Offset,
		RandomAccess:  first.Header.RandomAccess,
		Discontinuity: u.lost,
	}
	payload := u.payload()

	if d.isPSI(base.PID) {
		pats, pmts, err := parsePSI(payload)
		if err != nil {
			d.stats.Corrupt++
		}
		for _, pat := range pats {
			for _, prog := range pat.Programs {
				d.pmts[prog.PMTPID] = true
			}
			v := base
			v.PAT = pat
			d.push(&v)
		}
		for _, pmt := range pmts {
			v := base
			v.PMT = pmt
			d.push(&v)
		}
		return
	}

	if d.filter != nil && !d.filter[base.PID] {
		return
	}
	pes, err := parsePES(payload)
	if err != nil {
		d.stats.Corrupt++
		return
	}
	base.PES = pes
	d.push(&base)
}

func (d *Demuxer) push(v *Data) {
	d.stats.Units++
	d.out = append(d.out, v)
}
