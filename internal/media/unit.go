package media

// AccessUnit is one decodable unit of a track, e.g. one compressed video
// frame or one audio frame.
type AccessUnit struct {
	Data []byte

	// TimeUs is the presentation timestamp. HasTime is false for units
	// that carry no timestamp (e.g. some aggregated audio).
	TimeUs  int64
	HasTime bool

	// DurationUs is zero when unknown.
	DurationUs int64

	IsSync bool

	// TrackIndex is the source track index, set for text units.
	TrackIndex int
	// MIME is set for timed-text units.
	MIME string
}

// NewAccessUnit returns a timestamped unit.
func NewAccessUnit(data []byte, timeUs int64) *AccessUnit {
	return &AccessUnit{Data: data, TimeUs: timeUs, HasTime: true}
}

// Size returns the payload length.
func (au *AccessUnit) Size() int {
	return len(au.Data)
}
