// Package media defines the types shared by the source, the player and the
// collaborator packages: track formats, access units and the result codes
// that flow between them.
package media

import (
	"strings"
)

// TrackType classifies an elementary stream.
type TrackType int

const (
	TrackUnknown TrackType = iota
	TrackVideo
	TrackAudio
	TrackTimedText
	TrackSubtitle
)

func (t TrackType) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	case TrackTimedText:
		return "timed-text"
	case TrackSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// MIME types produced by the bundled extractors.
const (
	MIMEVideoAVC   = "video/avc"
	MIMEVideoHEVC  = "video/hevc"
	MIMEAudioAAC   = "audio/mp4a-latm"
	MIMEAudioRaw   = "audio/raw"
	MIMEText3GPP   = "text/3gpp-tt"
	MIMETextVTT    = "text/vtt"
	MIMETextCEA    = "text/cea-608"
	MIMETextCEA708 = "text/cea-708"
)

// UnknownDuration marks a Format or source whose duration is not known.
const UnknownDuration int64 = -1

// Format describes one track. Zero values mean "not known" except for
// DurationUs and Bitrate, which use -1.
type Format struct {
	MIME       string
	Width      int
	Height     int
	FrameRate  int
	SampleRate int
	Channels   int
	DurationUs int64
	Bitrate    int64
	Language   string

	// Subtitle selection hints.
	Autoselect bool
	Default    bool
	Forced     bool

	// Secure marks a track whose reads must be non-blocking.
	Secure bool

	CodecConfig []byte
}

// NewFormat returns a Format for mime with unknown duration and bitrate.
func NewFormat(mime string) *Format {
	return &Format{MIME: mime, DurationUs: UnknownDuration, Bitrate: -1}
}

// Type derives the track type from the MIME prefix. Timed text is the
// 3GPP text format; every other text/ type is a subtitle.
func (f *Format) Type() TrackType {
	if f == nil {
		return TrackUnknown
	}
	mime := strings.ToLower(f.MIME)
	switch {
	case strings.HasPrefix(mime, "video/"):
		return TrackVideo
	case strings.HasPrefix(mime, "audio/"):
		return TrackAudio
	case mime == MIMEText3GPP:
		return TrackTimedText
	case strings.HasPrefix(mime, "text/"):
		return TrackSubtitle
	default:
		return TrackUnknown
	}
}

// Clone returns a deep copy of f.
func (f *Format) Clone() *Format {
	if f == nil {
		return nil
	}
	c := *f
	if f.CodecConfig != nil {
		c.CodecConfig = append([]byte(nil), f.CodecConfig...)
	}
	return &c
}

// Equal reports whether two formats describe the same configuration. The
// duration and bitrate estimates are ignored.
func (f *Format) Equal(o *Format) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.MIME == o.MIME &&
		f.Width == o.Width && f.Height == o.Height &&
		f.SampleRate == o.SampleRate && f.Channels == o.Channels &&
		string(f.CodecConfig) == string(o.CodecConfig)
}
