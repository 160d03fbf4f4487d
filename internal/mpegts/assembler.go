package mpegts

import (
	"maps"
	"slices"
)

// unit is the run of packets that make up one table or PES.
type unit struct {
	packets []*Packet
	lost    bool
}

func (u *unit) payload() []byte {
	var n int
	for _, p := range u.packets {
		n += len(p.Payload)
	}
	b := make([]byte, 0, n)
	for _, p := range u.packets {
		b = append(b, p.Payload...)
	}
	return b
}

type pidState struct {
	cur    *unit
	size   int
	cc     uint8
	seenCC bool
	lost   bool
}

// assembler groups packets into units per PID, checking continuity
// counters on the way.
type assembler struct {
	pids  map[uint16]*pidState
	isPSI func(pid uint16) bool
}

func newAssembler(isPSI func(uint16) bool) *assembler {
	return &assembler{pids: make(map[uint16]*pidState), isPSI: isPSI}
}

// add buffers p and returns the units it completed, oldest first.
func (a *assembler) add(p *Packet) []*unit {
	st := a.pids[p.Header.PID]
	if st == nil {
		st = &pidState{}
		a.pids[p.Header.PID] = st
	}
	if p.Header.Error {
		st.cur, st.size, st.lost = nil, 0, true
		return nil
	}
	if !p.Header.HasPayload {
		// The counter only advances on packets with payload.
		return nil
	}

	if st.seenCC && !p.Header.Discontinuity {
		want := (st.cc + 1) & 0x0F
		switch p.Header.Continuity {
		case want:
		case st.cc:
			return nil
		default:
			st.cur, st.size, st.lost = nil, 0, true
		}
	}
	st.cc, st.seenCC = p.Header.Continuity, true

	var done []*unit
	if p.Header.Start {
		if st.cur != nil {
			done = append(done, st.cur)
		}
		st.cur, st.size = &unit{lost: st.lost}, 0
		st.lost = false
	}
	if st.cur == nil {
		// Tail of a unit whose start we never saw.
		return done
	}
	st.cur.packets = append(st.cur.packets, p)
	st.size += len(p.Payload)

	if a.complete(p.Header.PID, st) {
		done = append(done, st.cur)
		st.cur, st.size = nil, 0
	}
	return done
}

// complete reports whether the buffered unit can be emitted without
// waiting for the next start indicator.
func (a *assembler) complete(pid uint16, st *pidState) bool {
	first := st.cur.packets[0].Payload
	if a.isPSI(pid) {
		_, ok := sections(st.cur.payload())
		return ok
	}
	n := pesLength(first)
	return n > 0 && st.size >= n
}

// drain returns every partial unit, PAT first.
func (a *assembler) drain() []*unit {
	var out []*unit
	for _, pid := range slices.Sorted(maps.Keys(a.pids)) {
		st := a.pids[pid]
		if st.cur != nil {
			out = append(out, st.cur)
			st.cur, st.size = nil, 0
		}
	}
	return out
}

// reset drops buffered data and continuity state, as after a seek.
func (a *assembler) reset() {
	clear(a.pids)
}
