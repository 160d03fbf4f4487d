package avsim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/mediaplay/internal/mailbox"
	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/player"
)

// Surface is a named video output.
type Surface string

func (s Surface) String() string { return string(s) }

// Sink is a named audio output.
type Sink string

func (s Sink) String() string { return string(s) }

// Renderers returns a factory for clock renderers bound to ctx.
func Renderers(ctx context.Context, log *slog.Logger) player.RendererFactory {
	if log == nil {
		log = slog.Default()
	}
	return func(cfg player.RendererConfig) player.Renderer {
		r := NewClockRenderer(cfg, log)
		go r.box.Run(ctx, r.handle)
		return r
	}
}

type queued struct {
	au    *media.AccessUnit
	reply func()
	eos   bool
	err   error
}

type (
	msgQueue struct {
		audio bool
		q     queued
	}
	msgDrain struct {
		audio bool
		gen   int
	}
	msgRendererFlush  struct{ audio bool }
	msgDiscontinuity  struct{}
	msgPause          struct{}
	msgRendererResume struct{}
)

// RenderStats counts what a ClockRenderer released.
type RenderStats struct {
	AudioRendered   int64 `json:"audio_rendered"`
	VideoRendered   int64 `json:"video_rendered"`
	Flushed         int64 `json:"flushed"`
	Discontinuities int64 `json:"discontinuities"`
}

// ClockRenderer presents each buffer when the wall clock, anchored at the
// first buffer after a start or a time discontinuity, reaches its
// timestamp. Audio and video share that clock.
type ClockRenderer struct {
	log    *slog.Logger
	notify func(player.RendererEvent)
	sink   player.AudioSink
	box    *mailbox.Mailbox[any]
	now    func() time.Time

	// clock is read by Position from the player goroutine.
	clock struct {
		sync.Mutex
		anchored  bool
		wall      time.Time
		mediaUs   int64
		paused    bool
		pausedAt  time.Time
		lastUs    int64
		hasLastUs bool
	}
	frameRate     atomic.Uint64
	audioRendered atomic.Int64
	videoRendered atomic.Int64
	flushed       atomic.Int64
	discontinuity atomic.Int64

	// Owned by the renderer goroutine.
	queues       [2][]queued
	gen          [2]int
	scheduled    [2]bool
	videoStarted bool
	mediaStarted bool
}

// NewClockRenderer returns a renderer that is not running yet. Renderers
// starts its goroutine.
func NewClockRenderer(cfg player.RendererConfig, log *slog.Logger) *ClockRenderer {
	if log == nil {
		log = slog.Default()
	}
	notify := cfg.Notify
	if notify == nil {
		notify = func(player.RendererEvent) {}
	}
	return &ClockRenderer{
		log:    log.With("component", "renderer"),
		notify: notify,
		sink:   cfg.Sink,
		box:    mailbox.New[any](),
		now:    time.Now,
	}
}

func kindIdx(audio bool) int {
	if audio {
		return 1
	}
	return 0
}

func (r *ClockRenderer) QueueBuffer(audio bool, buf *media.AccessUnit, reply func()) {
	r.box.Post(msgQueue{audio: audio, q: queued{au: buf, reply: reply}})
}

func (r *ClockRenderer) QueueEOS(audio bool, err error) {
	r.box.Post(msgQueue{audio: audio, q: queued{eos: true, err: err}})
}

func (r *ClockRenderer) Flush(audio bool)         { r.box.Post(msgRendererFlush{audio: audio}) }
func (r *ClockRenderer) SignalTimeDiscontinuity() { r.box.Post(msgDiscontinuity{}) }
func (r *ClockRenderer) Pause()                   { r.box.Post(msgPause{}) }
func (r *ClockRenderer) Resume()                  { r.box.Post(msgRendererResume{}) }

// OpenAudioSink opens a PCM sink. Offload is never available.
func (r *ClockRenderer) OpenAudioSink(f *media.Format, offloadOnly, hasVideo bool) bool {
	if offloadOnly {
		return false
	}
	r.log.Info("audio sink opened", "sink", fmt.Sprint(r.sink),
		"sample_rate", f.SampleRate, "channels", f.Channels, "has_video", hasVideo)
	return false
}

func (r *ClockRenderer) CloseAudioSink() {
	r.log.Debug("audio sink closed")
}

func (r *ClockRenderer) SetVideoFrameRate(fps float64) {
	r.frameRate.Store(uint64(fps * 1000))
}

// Position returns the media time of the shared clock.
func (r *ClockRenderer) Position() (int64, error) {
	c := &r.clock
	c.Lock()
	defer c.Unlock()
	if !c.anchored {
		if c.hasLastUs {
			return c.lastUs, nil
		}
		return 0, fmt.Errorf("no buffer rendered yet: %w", media.ErrWouldBlock)
	}
	at := r.now()
	if c.paused {
		at = c.pausedAt
	}
	return c.mediaUs + at.Sub(c.wall).Microseconds(), nil
}

// Close stops the renderer. Queued buffers are dropped unreleased.
func (r *ClockRenderer) Close() {
	r.box.Stop()
}

// Stats returns the render counters.
func (r *ClockRenderer) Stats() RenderStats {
	return RenderStats{
		AudioRendered:   r.audioRendered.Load(),
		VideoRendered:   r.videoRendered.Load(),
		Flushed:         r.flushed.Load(),
		Discontinuities: r.discontinuity.Load(),
	}
}

func (r *ClockRenderer) handle(m any) {
	switch m := m.(type) {
	case msgQueue:
		i := kindIdx(m.audio)
		r.queues[i] = append(r.queues[i], m.q)
		r.drain(m.audio)
	case msgDrain:
		i := kindIdx(m.audio)
		if m.gen != r.gen[i] {
			return
		}
		r.scheduled[i] = false
		r.drain(m.audio)
	case msgRendererFlush:
		r.flush(m.audio)
		r.notify(player.RendererFlushComplete{Audio: m.audio})
	case msgDiscontinuity:
		r.discontinuity.Add(1)
		r.clock.Lock()
		r.unanchor()
		r.clock.Unlock()
	case msgPause:
		r.clock.Lock()
		if !r.clock.paused {
			r.clock.paused = true
			r.clock.pausedAt = r.now()
		}
		r.clock.Unlock()
	case msgRendererResume:
		r.clock.Lock()
		if r.clock.paused {
			r.clock.paused = false
			r.clock.wall = r.clock.wall.Add(r.now().Sub(r.clock.pausedAt))
		}
		r.clock.Unlock()
		r.drain(true)
		r.drain(false)
	}
}

// unanchor keeps the last position readable until the next buffer
// re-anchors the clock. The caller holds the clock lock.
func (r *ClockRenderer) unanchor() {
	c := &r.clock
	if c.anchored {
		at := r.now()
		if c.paused {
			at = c.pausedAt
		}
		c.lastUs, c.hasLastUs = c.mediaUs+at.Sub(c.wall).Microseconds(), true
	}
	c.anchored = false
}

func (r *ClockRenderer) flush(audio bool) {
	i := kindIdx(audio)
	for _, q := range r.queues[i] {
		if q.reply != nil {
			q.reply()
			r.flushed.Add(1)
		}
	}
	r.queues[i] = nil
	r.gen[i]++
	r.scheduled[i] = false
}

// drain renders every due buffer at the head of one queue and arms a timer
// for the next one.
func (r *ClockRenderer) drain(audio bool) {
	i := kindIdx(audio)
	for len(r.queues[i]) > 0 {
		head := r.queues[i][0]
		if head.eos {
			r.queues[i] = r.queues[i][1:]
			r.notify(player.RendererEOS{Audio: audio, Err: head.err})
			continue
		}

		wait, ok := r.due(head.au.TimeUs)
		if !ok {
			return
		}
		if wait > 0 {
			if !r.scheduled[i] {
				r.scheduled[i] = true
				r.box.PostDelayed(msgDrain{audio: audio, gen: r.gen[i]}, wait)
			}
			return
		}

		r.queues[i] = r.queues[i][1:]
		r.present(audio, head)
	}
}

// due returns how long until timeUs is reached. ok is false while paused.
func (r *ClockRenderer) due(timeUs int64) (time.Duration, bool) {
	c := &r.clock
	c.Lock()
	defer c.Unlock()
	if c.paused {
		return 0, false
	}
	now := r.now()
	if !c.anchored {
		c.anchored, c.wall, c.mediaUs = true, now, timeUs
		return 0, true
	}
	at := c.wall.Add(time.Duration(timeUs-c.mediaUs) * time.Microsecond)
	return at.Sub(now), true
}

func (r *ClockRenderer) present(audio bool, q queued) {
	if audio {
		r.audioRendered.Add(1)
	} else {
		r.videoRendered.Add(1)
		if !r.videoStarted {
			r.videoStarted = true
			r.log.Debug("video rendering started", "time_us", q.au.TimeUs,
				"frame_rate", float64(r.frameRate.Load())/1000)
			r.notify(player.VideoRenderingStart{})
		}
	}
	if !r.mediaStarted {
		r.mediaStarted = true
		r.notify(player.MediaRenderingStart{})
	}
	q.reply()
}
