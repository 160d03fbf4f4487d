package source

import (
	"io"

	"github.com/samber/mo"

	"github.com/zsiec/mediaplay/internal/media"
)

// DataSource is random-access byte input. Size returns -1 when the length is
// not known yet.
type DataSource interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// CachedSource is a DataSource backed by a bounded cache that fills in the
// background, such as a network spool. Buffering is polled only for sources
// that implement it.
type CachedSource interface {
	DataSource
	// ApproxDataRemaining returns the bytes cached ahead of the read
	// position. final is non-nil once the cache stopped filling, and is
	// media.ErrEndOfStream when the stream ended normally.
	ApproxDataRemaining() (remaining int64, final error)
	// CachedSize is the total number of bytes received so far.
	CachedSize() int64
	// MaxCacheSize bounds how much the cache holds ahead of the reader.
	MaxCacheSize() int64
}

// Disconnecter is implemented by data sources whose blocking reads can be
// interrupted from another goroutine.
type Disconnecter interface {
	Disconnect()
}

// ContentTyper reports the MIME type announced by the transport, if any.
type ContentTyper interface {
	ContentType() string
}

// Metadata is file-level information read at prepare time.
type Metadata struct {
	Title  string
	Artist string
	Album  string
	Genre  string
	Year   int
	MIME   string

	DurationUs int64
	FrameRate  float64
}

// MetadataSource is implemented by data sources that carry tags of their own.
type MetadataSource interface {
	Metadata() (Metadata, error)
}

// SeekMode selects where a seeking read lands relative to the target.
type SeekMode int

const (
	SeekPreviousSync SeekMode = iota
	SeekNextSync
	SeekClosest
)

// ReadOptions tunes a single MediaTrack.Read. Seek, when present, positions
// the track before reading.
type ReadOptions struct {
	Seek        mo.Option[int64]
	Mode        SeekMode
	NonBlocking bool
}

// MediaTrack is one demultiplexed elementary stream.
type MediaTrack interface {
	Start() error
	Stop() error
	Format() *media.Format
	// Read returns the next access unit. It returns media.ErrWouldBlock for a
	// non-blocking read with no data, media.ErrFormatChanged for an in-place
	// format update, and a terminal error at the end of the stream.
	Read(opts ReadOptions) (*media.AccessUnit, error)
}

// Extractor exposes the tracks of a container.
type Extractor interface {
	TrackCount() int
	Track(i int) MediaTrack
	Metadata() Metadata
}

// ExtractorFactory opens a container. mimeHint is the sniffed container type
// and may be empty.
type ExtractorFactory func(ds DataSource, mimeHint string) (Extractor, error)

// Sniffer guesses the container type from the leading bytes. metaSize is the
// number of bytes needed before the container index can be parsed, or -1.
type Sniffer func(ds DataSource) (mime string, metaSize int64, err error)

// PlaybackStatus is reported to a PlaybackStatusSink.
type PlaybackStatus int

const (
	PlaybackStart PlaybackStatus = iota
	PlaybackStop
	PlaybackPause
)

func (p PlaybackStatus) String() string {
	switch p {
	case PlaybackStart:
		return "start"
	case PlaybackStop:
		return "stop"
	case PlaybackPause:
		return "pause"
	default:
		return "unknown"
	}
}

// PlaybackStatusSink receives play/pause intent for license accounting.
type PlaybackStatusSink interface {
	SetPlaybackStatus(status PlaybackStatus, positionMs int64)
}

// Flags describe source capabilities.
type Flags uint32

const (
	FlagSecure Flags = 1 << iota
	FlagCanPause
	FlagCanSeekBackward
	FlagCanSeekForward
	FlagCanSeek
	FlagDynamicDuration
)

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}
