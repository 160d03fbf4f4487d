// Package player implements the playback controller. A Player owns one
// Source, up to two decoders and a renderer, and runs every state change on
// its own mailbox goroutine. Collaborators talk back by posting events, so
// no handler ever blocks on another component's reply except the source's
// short accessor round trips.
package player

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/zsiec/mediaplay/internal/mailbox"
	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/source"
)

// Config holds the controller's timing and sizing constants.
type Config struct {
	// ScanRetry is the delay before looking for decodable tracks again.
	ScanRetry time.Duration
	// FeedRetry is the delay before retrying a decoder input request that
	// found no data.
	FeedRetry time.Duration
	// PollDurationInterval paces duration updates for live content.
	PollDurationInterval time.Duration
	// AggregateBytes is the capacity of the offloaded-audio aggregate.
	AggregateBytes int
	// OffloadAudio tries the offloaded audio path when starting.
	OffloadAudio bool
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		ScanRetry:            100 * time.Millisecond,
		FeedRetry:            10 * time.Millisecond,
		PollDurationInterval: time.Second,
		AggregateBytes:       24 * 1024,
	}
}

// Options wires the player to its collaborators.
type Options struct {
	// Decoders is required.
	Decoders DecoderFactory
	// Renderers is required.
	Renderers RendererFactory
	// Captions enables closed-caption tracks. Optional.
	Captions CaptionFactory
	// Config overrides DefaultConfig when non-nil.
	Config *Config
}

// KindStats counts what one decoder saw.
type KindStats struct {
	Fed       int64 `json:"fed"`
	Queued    int64 `json:"queued"`
	Dropped   int64 `json:"dropped"`
	Flushes   int   `json:"flushes"`
	Shutdowns int   `json:"shutdowns"`
}

// Stats is a snapshot of the controller.
type Stats struct {
	Audio       KindStats   `json:"audio"`
	Video       KindStats   `json:"video"`
	AudioStatus FlushStatus `json:"audio_status"`
	VideoStatus FlushStatus `json:"video_status"`
	Deferred    int         `json:"deferred"`
	Started     bool        `json:"started"`
	Offloaded   bool        `json:"offloaded"`
}

const (
	videoIdx = 0
	audioIdx = 1
)

func idx(audio bool) int {
	if audio {
		return audioIdx
	}
	return videoIdx
}

func durationUs(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}

func kindName(audio bool) string {
	if audio {
		return "audio"
	}
	return "video"
}

// Player is the playback controller. Its methods are safe for concurrent
// use; they post to the player goroutine started by Run.
type Player struct {
	log    *slog.Logger
	cfg    Config
	opts   Options
	driver Driver
	box    *mailbox.Mailbox[any]
	ctx    context.Context

	// Owned by the player goroutine.
	src           Source
	sourceStarted bool
	flags         source.Flags
	surface       Surface
	sink          AudioSink
	decoders      [2]Decoder
	decoderErr    [2]error
	renderer      Renderer
	cc            CaptionDecoder

	started   bool
	paused    bool
	resetting bool
	offload   bool
	eos       [2]bool

	timeDiscontinuityPending bool
	skipUntil                [2]int64
	flushing                 [2]FlushStatus
	// flushComplete is indexed by kind, then by isDecoder.
	flushComplete [2][2]bool
	deferred      []action

	decoderGen      [2]int
	rendererGen     int
	scanGen         int
	scanPending     bool
	pollDurationGen int
	timedTextGen    int

	agg aggregator

	stats [2]KindStats
}

// New returns a Player that reports to driver. A nil log means
// slog.Default().
func New(driver Driver, opts Options, log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	if opts.Decoders == nil || opts.Renderers == nil {
		panic("player: decoder and renderer factories are required")
	}
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	return &Player{
		log:       log.With("component", "player"),
		cfg:       cfg,
		opts:      opts,
		driver:    driver,
		box:       mailbox.New[any](),
		ctx:       context.Background(),
		skipUntil: [2]int64{-1, -1},
	}
}

// Run processes messages until ctx is cancelled or Close is called.
func (p *Player) Run(ctx context.Context) {
	p.ctx = ctx
	p.box.Run(ctx, p.handle)
}

// Close stops the mailbox. Pending requests fail with mailbox.ErrStopped.
func (p *Player) Close() {
	p.box.Stop()
}

// Done is closed once the player stops.
func (p *Player) Done() <-chan struct{} {
	return p.box.Done()
}

type (
	msgSetDataSource struct{ src Source }
	msgSetSurface    struct{ surface Surface }
	msgSetAudioSink  struct{ sink AudioSink }
	msgPrepare       struct{}
	msgStart         struct{}
	msgPause         struct{}
	msgResume        struct{}
	msgSeek          struct {
		timeUs int64
		notify bool
	}
	msgReset       struct{}
	msgSelectTrack struct {
		id       uuid.UUID
		index    int
		selected bool
	}
	msgTrackInfo     struct{ id uuid.UUID }
	msgSelectedTrack struct {
		id   uuid.UUID
		kind media.TrackType
	}
	msgPosition     struct{ id uuid.UUID }
	msgDuration     struct{ id uuid.UUID }
	msgStats        struct{ id uuid.UUID }
	msgScanSources  struct{ gen int }
	msgPollDuration struct{ gen int }
	msgDecoder      struct {
		audio bool
		gen   int
		ev    DecoderEvent
	}
	msgRenderer struct {
		gen int
		ev  RendererEvent
	}
	msgSource struct {
		ev source.Event
		// gen is set when timed text is re-posted to wait for its time.
		gen mo.Option[int]
	}
	msgCaptionData       struct{ au *media.AccessUnit }
	msgCaptionTrackAdded struct{}
)

func (p *Player) handle(m any) {
	switch m := m.(type) {
	case msgSetDataSource:
		p.onSetDataSource(m.src)
	case msgSetSurface:
		p.onSetSurface(m.surface)
	case msgSetAudioSink:
		p.sink = m.sink
	case msgPrepare:
		if p.src != nil {
			p.src.PrepareAsync()
		}
	case msgStart:
		p.onStart()
	case msgPause:
		p.onPause()
	case msgResume:
		p.onResume()
	case msgSeek:
		p.onSeek(m.timeUs, m.notify)
	case msgReset:
		p.onReset()
	case msgSelectTrack:
		p.box.Reply(m.id, p.onSelectTrack(m.index, m.selected))
	case msgTrackInfo:
		p.box.Reply(m.id, p.onTrackInfo())
	case msgSelectedTrack:
		p.box.Reply(m.id, p.onSelectedTrack(m.kind))
	case msgPosition:
		p.box.Reply(m.id, p.onPosition())
	case msgDuration:
		d := media.UnknownDuration
		if p.src != nil {
			d = p.src.Duration()
		}
		p.box.Reply(m.id, d)
	case msgStats:
		p.box.Reply(m.id, p.onStats())
	case msgScanSources:
		p.onScanSources(m.gen)
	case msgPollDuration:
		p.onPollDuration(m.gen)
	case msgDecoder:
		p.onDecoderNotify(m)
	case msgRenderer:
		p.onRendererNotify(m)
	case msgSource:
		p.onSourceNotify(m)
	case msgCaptionData:
		p.sendSubtitleData(m.au, p.inbandTrackCount())
	case msgCaptionTrackAdded:
		p.notifyListener(MsgInfo, InfoMetadataUpdate, 0)
	default:
		p.log.Warn("unknown message", "type", fmt.Sprintf("%T", m))
	}
}

// SetDataSource installs src. Events raised by src must be delivered
// through HandleSourceEvent.
func (p *Player) SetDataSource(src Source) { p.box.Post(msgSetDataSource{src: src}) }

// HandleSourceEvent queues an event raised by the source. Pass it as the
// source's notify callback.
func (p *Player) HandleSourceEvent(ev source.Event) { p.box.Post(msgSource{ev: ev}) }

// SetSurface replaces the video output. A nil surface disables video.
func (p *Player) SetSurface(s Surface) { p.box.Post(msgSetSurface{surface: s}) }

// SetAudioSink sets the audio output. It takes effect for the next decoder.
func (p *Player) SetAudioSink(s AudioSink) { p.box.Post(msgSetAudioSink{sink: s}) }

// PrepareAsync prepares the source. The driver gets PrepareCompleted.
func (p *Player) PrepareAsync() { p.box.Post(msgPrepare{}) }

// Start begins playback.
func (p *Player) Start() { p.box.Post(msgStart{}) }

// Pause pauses the source and the renderer.
func (p *Player) Pause() { p.box.Post(msgPause{}) }

// Resume undoes Pause.
func (p *Player) Resume() { p.box.Post(msgResume{}) }

// SeekTo flushes the decoders and repositions the source. With notify set,
// the driver gets SeekCompleted.
func (p *Player) SeekTo(timeUs int64, notify bool) {
	p.box.Post(msgSeek{timeUs: timeUs, notify: notify})
}

// Reset shuts down both decoders, drops the renderer and releases the
// source. The driver gets ResetCompleted.
func (p *Player) Reset() { p.box.Post(msgReset{}) }

// SelectTrack selects or deselects a track. Indexes past the source's
// tracks address closed-caption tracks.
func (p *Player) SelectTrack(ctx context.Context, index int, selected bool) error {
	res, err := p.box.Request(ctx, func(id uuid.UUID) any {
		return msgSelectTrack{id: id, index: index, selected: selected}
	})
	if err != nil {
		return err
	}
	if e, ok := res.(error); ok {
		return e
	}
	return nil
}

// TrackInfo lists the source's tracks followed by any caption tracks.
func (p *Player) TrackInfo(ctx context.Context) ([]source.TrackInfo, error) {
	return mailbox.Call[[]source.TrackInfo](ctx, p.box, func(id uuid.UUID) any {
		return msgTrackInfo{id: id}
	})
}

// SelectedTrack returns the selected track of kind, or -1.
func (p *Player) SelectedTrack(ctx context.Context, kind media.TrackType) int {
	i, err := mailbox.Call[int](ctx, p.box, func(id uuid.UUID) any {
		return msgSelectedTrack{id: id, kind: kind}
	})
	if err != nil {
		return -1
	}
	return i
}

type position struct {
	us  int64
	err error
}

// CurrentPosition returns the renderer's media time.
func (p *Player) CurrentPosition(ctx context.Context) (int64, error) {
	pos, err := mailbox.Call[position](ctx, p.box, func(id uuid.UUID) any {
		return msgPosition{id: id}
	})
	if err != nil {
		return 0, err
	}
	return pos.us, pos.err
}

// Duration returns the content duration, or media.UnknownDuration.
func (p *Player) Duration(ctx context.Context) (int64, error) {
	return mailbox.Call[int64](ctx, p.box, func(id uuid.UUID) any {
		return msgDuration{id: id}
	})
}

// Stats returns a snapshot of the controller.
func (p *Player) Stats(ctx context.Context) (Stats, error) {
	return mailbox.Call[Stats](ctx, p.box, func(id uuid.UUID) any {
		return msgStats{id: id}
	})
}

func (p *Player) onSetDataSource(src Source) {
	if p.src != nil {
		p.log.Warn("replacing data source without reset")
	}
	p.src = src
	p.sourceStarted = false
	p.decoderErr = [2]error{}
	p.log.Debug("data source set")
}

func (p *Player) onStart() {
	if p.src == nil {
		p.notifyError(fmt.Errorf("start without data source: %w", media.ErrInvalidOperation))
		return
	}
	if p.started {
		p.onResume()
		return
	}
	if !p.sourceStarted {
		p.sourceStarted = true
		p.src.Start()
	}

	p.offload = false
	p.eos = [2]bool{}
	p.skipUntil = [2]int64{-1, -1}
	p.stats = [2]KindStats{}
	p.started = true
	p.paused = false

	audioFmt, hasAudio := p.src.Format(p.ctx, true).Get()
	videoFmt, hasVideo := p.src.Format(p.ctx, false).Get()
	p.offload = p.cfg.OffloadAudio && hasAudio && audioFmt != nil

	if p.renderer != nil {
		p.renderer.Close()
	}
	p.rendererGen++
	gen := p.rendererGen
	p.renderer = p.opts.Renderers(RendererConfig{
		Sink:         p.sink,
		OffloadAudio: p.offload,
		Notify: func(ev RendererEvent) {
			p.box.Post(msgRenderer{gen: gen, ev: ev})
		},
	})
	if hasVideo && videoFmt.FrameRate > 0 {
		p.renderer.SetVideoFrameRate(float64(videoFmt.FrameRate))
	}

	p.log.Info("started", "offload", p.offload, "renderer_generation", gen)
	p.postScanSources()
}

func (p *Player) onPause() {
	if p.paused {
		return
	}
	p.paused = true
	if p.src != nil {
		p.src.Pause()
	}
	if p.renderer != nil {
		p.renderer.Pause()
	}
	p.notifyListener(MsgPaused, 0, 0)
}

func (p *Player) onResume() {
	if !p.paused || p.resetting {
		return
	}
	p.paused = false
	if p.src != nil {
		p.src.Resume()
	}
	if p.audioDecoderStillNeeded() && p.decoders[audioIdx] == nil && p.sink != nil && p.src != nil {
		p.instantiateDecoder(true)
	}
	if p.renderer != nil {
		p.renderer.Resume()
	}
}

// audioDecoderStillNeeded is false once the audio decoder is shutting down
// or gone for good.
func (p *Player) audioDecoderStillNeeded() bool {
	st := p.flushing[audioIdx]
	return st != ShutDown && st != ShuttingDownDecoder
}

func (p *Player) onSeek(timeUs int64, notify bool) {
	p.log.Debug("seek", "time_us", timeUs, "notify", notify)
	p.deferred = append(p.deferred,
		flushDecoderAction{audio: flushOnly, video: flushOnly},
		seekAction{timeUs: timeUs, notify: notify},
	)
	p.processDeferredActions()
}

func (p *Player) onReset() {
	p.resetting = true
	p.deferred = append(p.deferred,
		flushDecoderAction{audio: flushShutdown, video: flushShutdown},
		simpleAction{name: "reset", fn: (*Player).performReset},
	)
	p.processDeferredActions()
}

func (p *Player) onSetSurface(s Surface) {
	p.deferred = append(p.deferred,
		flushDecoderAction{audio: flushNone, video: flushShutdown},
		setSurfaceAction{surface: s},
	)
	if s != nil {
		if p.started {
			// Refresh the picture from the current position.
			if pos, err := p.currentPosition(); err == nil {
				p.deferred = append(p.deferred, seekAction{timeUs: pos})
			}
		}
		p.deferred = append(p.deferred, simpleAction{name: "scan-sources", fn: (*Player).performScanSources})
	}
	p.processDeferredActions()
}

func (p *Player) currentPosition() (int64, error) {
	if p.renderer == nil {
		return 0, fmt.Errorf("no renderer: %w", media.ErrInvalidOperation)
	}
	return p.renderer.Position()
}

func (p *Player) onPosition() position {
	us, err := p.currentPosition()
	return position{us: us, err: err}
}

func (p *Player) inbandTrackCount() int {
	if p.src == nil {
		return 0
	}
	return p.src.TrackCount(p.ctx)
}

func (p *Player) onSelectTrack(index int, selected bool) error {
	inband := p.inbandTrackCount()
	if index < inband {
		if err := p.src.SelectTrack(p.ctx, index, selected); err != nil {
			return err
		}
		info, err := p.src.TrackInfo(p.ctx, index)
		if err == nil && info.Type == media.TrackTimedText {
			p.timedTextGen++
		}
		return nil
	}
	index -= inband
	if p.cc != nil && index < p.cc.TrackCount() {
		return p.cc.Select(index, selected)
	}
	return fmt.Errorf("select track %d: %w", index+inband, media.ErrInvalidOperation)
}

func (p *Player) onTrackInfo() []source.TrackInfo {
	var out []source.TrackInfo
	for i, n := 0, p.inbandTrackCount(); i < n; i++ {
		info, err := p.src.TrackInfo(p.ctx, i)
		if err != nil {
			p.log.Warn("track info failed", "index", i, "error", err)
			continue
		}
		out = append(out, info)
	}
	if p.cc != nil {
		for i := range p.cc.TrackCount() {
			out = append(out, p.cc.TrackInfo(i))
		}
	}
	return out
}

func (p *Player) onSelectedTrack(kind media.TrackType) int {
	if p.src == nil {
		return -1
	}
	i := p.src.SelectedTrack(p.ctx, kind)
	if kind == media.TrackSubtitle && i < 0 && p.cc != nil {
		if sel := p.cc.Selected(); sel >= 0 {
			return p.inbandTrackCount() + sel
		}
	}
	return i
}

func (p *Player) onStats() Stats {
	return Stats{
		Audio:       p.stats[audioIdx],
		Video:       p.stats[videoIdx],
		AudioStatus: p.flushing[audioIdx],
		VideoStatus: p.flushing[videoIdx],
		Deferred:    len(p.deferred),
		Started:     p.started,
		Offloaded:   p.offload,
	}
}

func (p *Player) notifyListener(code, ext1, ext2 int) {
	p.notify(Notification{Code: code, Ext1: ext1, Ext2: ext2})
}

func (p *Player) notify(n Notification) {
	if p.driver != nil {
		p.driver.Notify(n)
	}
}

func (p *Player) notifyError(err error) {
	p.log.Error("playback error", "error", err)
	p.notifyListener(MsgError, ErrorUnknown, ErrorCodeFor(err))
}
