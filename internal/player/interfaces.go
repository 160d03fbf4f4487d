package player

import (
	"context"

	"github.com/samber/mo"

	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/source"
)

// Source is the demux side of playback. *source.Source implements it.
type Source interface {
	PrepareAsync()
	Start()
	Stop()
	Pause()
	Resume()
	// Disconnect may be called from any goroutine.
	Disconnect()

	DequeueAccessUnit(audio bool) (*media.AccessUnit, error)
	// FeedMoreData returns nil while the source can still produce data and
	// the terminal status once every track has drained.
	FeedMoreData() error
	Format(ctx context.Context, audio bool) mo.Option[*media.Format]
	Duration() int64

	SeekTo(ctx context.Context, timeUs int64) error
	SelectTrack(ctx context.Context, index int, selected bool) error
	SelectedTrack(ctx context.Context, kind media.TrackType) int
	TrackCount(ctx context.Context) int
	TrackInfo(ctx context.Context, index int) (source.TrackInfo, error)
}

// Surface is an opaque video output.
type Surface interface {
	String() string
}

// AudioSink is an opaque audio output.
type AudioSink interface {
	String() string
}

// Decoder is driven by the player. Every call must return promptly; results
// come back as DecoderEvents.
type Decoder interface {
	Configure(format *media.Format)
	// SignalFlush drops queued work. newFormat, when non-nil, replaces the
	// configured format once the flush completes.
	SignalFlush(newFormat *media.Format)
	InitiateShutdown()
	SignalResume()
	SignalUpdateFormat(format *media.Format)
	SupportsSeamlessFormatChange(format *media.Format) bool
}

// DecoderConfig is passed to a DecoderFactory.
type DecoderConfig struct {
	Audio   bool
	Format  *media.Format
	Surface Surface
	// Notify delivers events to the player. It never blocks.
	Notify func(DecoderEvent)
}

// DecoderFactory creates a decoder for one track kind.
type DecoderFactory func(cfg DecoderConfig) (Decoder, error)

// DecoderEvent is a notification from a decoder.
type DecoderEvent interface {
	decoderEvent()
}

// FillThisBuffer requests one input unit. Reply is called exactly once with
// a unit or an error. media.ErrDiscontinuity means no unit this time: the
// decoder asks again once it is neither flushing nor shut down. Any other
// error is the stream's terminal status.
type FillThisBuffer struct {
	Reply func(*media.AccessUnit, error)
}

// DrainThisBuffer hands decoded output to the player. Reply releases the
// buffer once it is rendered or dropped.
type DrainThisBuffer struct {
	Buffer *media.AccessUnit
	Reply  func()
}

// DecoderEOS reports that the decoder produced its last output.
type DecoderEOS struct{ Err error }

// FlushCompleted reports that SignalFlush finished.
type FlushCompleted struct{}

// ShutdownCompleted reports that InitiateShutdown finished.
type ShutdownCompleted struct{}

// OutputFormatChanged reports the decoded output format.
type OutputFormatChanged struct{ Format *media.Format }

// DecoderError reports a decoding failure.
type DecoderError struct{ Err error }

func (FillThisBuffer) decoderEvent()      {}
func (DrainThisBuffer) decoderEvent()     {}
func (DecoderEOS) decoderEvent()          {}
func (FlushCompleted) decoderEvent()      {}
func (ShutdownCompleted) decoderEvent()   {}
func (OutputFormatChanged) decoderEvent() {}
func (DecoderError) decoderEvent()        {}

// Renderer synchronizes and presents decoded output.
type Renderer interface {
	QueueBuffer(audio bool, buf *media.AccessUnit, reply func())
	QueueEOS(audio bool, err error)
	Flush(audio bool)
	Pause()
	Resume()
	// OpenAudioSink configures audio output and reports whether the
	// offloaded path was taken. With offloadOnly set, no PCM fallback is
	// opened.
	OpenAudioSink(format *media.Format, offloadOnly, hasVideo bool) (offloaded bool)
	CloseAudioSink()
	SignalTimeDiscontinuity()
	SetVideoFrameRate(fps float64)
	// Position returns the current media time.
	Position() (int64, error)
	// Close releases the renderer. No events are delivered afterwards.
	Close()
}

// RendererConfig is passed to a RendererFactory.
type RendererConfig struct {
	Sink         AudioSink
	OffloadAudio bool
	Notify       func(RendererEvent)
}

// RendererFactory creates the renderer when playback starts.
type RendererFactory func(cfg RendererConfig) Renderer

// RendererEvent is a notification from the renderer.
type RendererEvent interface {
	rendererEvent()
}

// RendererEOS reports that a stream finished rendering.
type RendererEOS struct {
	Audio bool
	Err   error
}

// RendererFlushComplete reports that Flush finished.
type RendererFlushComplete struct{ Audio bool }

// VideoRenderingStart reports the first rendered video frame.
type VideoRenderingStart struct{}

// MediaRenderingStart reports that rendering began or resumed.
type MediaRenderingStart struct{}

// TearDownReason tells why the offloaded audio path was abandoned.
type TearDownReason int

const (
	TearDownIntermission TearDownReason = iota
	TearDownError
)

// AudioOffloadTearDown asks the player to fall back to the PCM path.
type AudioOffloadTearDown struct {
	PositionUs int64
	Reason     TearDownReason
}

func (RendererEOS) rendererEvent()           {}
func (RendererFlushComplete) rendererEvent() {}
func (VideoRenderingStart) rendererEvent()   {}
func (MediaRenderingStart) rendererEvent()   {}
func (AudioOffloadTearDown) rendererEvent()  {}

// CaptionDecoder extracts closed captions carried inside video units and
// exposes them as extra subtitle tracks.
type CaptionDecoder interface {
	// Decode inspects one video input unit.
	Decode(au *media.AccessUnit)
	// Display emits the captions due at timeUs on the selected track.
	Display(timeUs int64)
	TrackCount() int
	TrackInfo(i int) source.TrackInfo
	Select(i int, selected bool) error
	// Selected returns the selected track, or -1.
	Selected() int
	Flush()
}

// CaptionEvents is how a CaptionDecoder reports back to the player.
type CaptionEvents struct {
	// Data carries one caption unit for the selected track.
	Data func(au *media.AccessUnit)
	// TrackAdded is called when a new caption channel appears.
	TrackAdded func()
}

// CaptionFactory creates the caption decoder with the video decoder.
type CaptionFactory func(ev CaptionEvents) CaptionDecoder

// Driver receives the player's outward notifications. Every method is called
// from the player goroutine and must not block.
type Driver interface {
	PrepareCompleted(err error)
	DurationUpdate(durationUs int64)
	SeekCompleted()
	ResetCompleted()
	SetSurfaceCompleted()
	FlagsChanged(flags source.Flags)
	Notify(n Notification)
}
