package mpegts

// Timestamp is a 33-bit PTS or DTS on the 90 kHz clock.
type Timestamp int64

const (
	clockHz  = 90_000
	wrap     = int64(1) << 33
	halfWrap = wrap / 2
)

// Micros converts t to microseconds.
func (t Timestamp) Micros() int64 { return int64(t) * 1_000_000 / clockHz }

// FromMicros converts microseconds to 90 kHz ticks, without wrapping.
func FromMicros(us int64) Timestamp { return Timestamp(us * clockHz / 1_000_000) }

// Unwrapper turns a sequence of 33-bit timestamps into a monotonic-ish
// 64-bit timeline by counting wraps. A jump of more than half the range
// is taken as a wrap in that direction.
type Unwrapper struct {
	last  int64
	valid bool
}

// Unwrap returns t extended to 64 bits relative to the previous value.
func (u *Unwrapper) Unwrap(t Timestamp) Timestamp {
	v := int64(t) & (wrap - 1)
	if !u.valid {
		u.last, u.valid = v, true
		return Timestamp(v)
	}
	base := u.last - u.last&(wrap-1)
	v += base
	switch {
	case v-u.last > halfWrap:
		v -= wrap
	case u.last-v > halfWrap:
		v += wrap
	}
	u.last = v
	return Timestamp(v)
}

// Reset forgets the previous value.
func (u *Unwrapper) Reset() { *u = Unwrapper{} }
