package avsim

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/player"
	"github.com/zsiec/mediaplay/internal/source"
)

var discard = slog.New(slog.DiscardHandler)

func next[T any](t *testing.T, ch <-chan any) T {
	t.Helper()
	select {
	case ev := <-ch:
		v, ok := ev.(T)
		if !ok {
			var want T
			t.Fatalf("got %T, want %T", ev, want)
		}
		return v
	case <-time.After(2 * time.Second):
		var want T
		t.Fatalf("timed out waiting for %T", want)
	}
	panic("unreachable")
}

func quiet(t *testing.T, ch <-chan any) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %T", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func newDecoder(t *testing.T) (player.Decoder, <-chan any) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch := make(chan any, 64)
	f := &media.Format{MIME: media.MIMEAudioAAC, SampleRate: 48000, Channels: 2}
	d, err := Decoders(ctx, discard)(player.DecoderConfig{
		Audio:  true,
		Format: f,
		Notify: func(ev player.DecoderEvent) { ch <- ev },
	})
	if err != nil {
		t.Fatal(err)
	}
	d.Configure(f)
	return d, ch
}

func TestPassthroughLifecycle(t *testing.T) {
	t.Parallel()
	d, ch := newDecoder(t)

	fill := next[player.FillThisBuffer](t, ch)
	fill.Reply(media.NewAccessUnit([]byte{1, 2}, 1000), nil)
	if f := next[player.OutputFormatChanged](t, ch); f.Format.SampleRate != 48000 {
		t.Fatalf("output format: got %+v", f.Format)
	}
	drain := next[player.DrainThisBuffer](t, ch)
	if drain.Buffer.TimeUs != 1000 {
		t.Fatalf("drained time: got %d, want 1000", drain.Buffer.TimeUs)
	}
	drain.Reply()

	fill = next[player.FillThisBuffer](t, ch)
	fill.Reply(nil, media.ErrEndOfStream)
	if eos := next[player.DecoderEOS](t, ch); !media.IsEndOfStream(eos.Err) {
		t.Fatalf("eos: got %v", eos.Err)
	}
	quiet(t, ch)

	d.SignalFlush(nil)
	next[player.FlushCompleted](t, ch)
	quiet(t, ch)
	d.SignalResume()
	next[player.FillThisBuffer](t, ch)

	d.InitiateShutdown()
	next[player.ShutdownCompleted](t, ch)
}

func TestPassthroughDropsRepliesFromBeforeFlush(t *testing.T) {
	t.Parallel()
	d, ch := newDecoder(t)

	stale := next[player.FillThisBuffer](t, ch)
	d.SignalFlush(nil)
	next[player.FlushCompleted](t, ch)
	stale.Reply(media.NewAccessUnit([]byte{1}, 0), nil)
	quiet(t, ch)

	d.SignalResume()
	next[player.FillThisBuffer](t, ch)
}

func TestPassthroughBoundsOutstandingBuffers(t *testing.T) {
	t.Parallel()
	_, ch := newDecoder(t)

	var drains []player.DrainThisBuffer
	for i := range maxOutstanding {
		fill := next[player.FillThisBuffer](t, ch)
		fill.Reply(media.NewAccessUnit([]byte{byte(i)}, int64(i)), nil)
		if i == 0 {
			next[player.OutputFormatChanged](t, ch)
		}
		drains = append(drains, next[player.DrainThisBuffer](t, ch))
	}
	quiet(t, ch)

	drains[0].Reply()
	next[player.FillThisBuffer](t, ch)
}

func TestPassthroughSeamlessFormatChange(t *testing.T) {
	t.Parallel()
	d, _ := newDecoder(t)
	if !d.SupportsSeamlessFormatChange(&media.Format{MIME: media.MIMEAudioAAC}) {
		t.Fatal("same codec must be seamless")
	}
	if d.SupportsSeamlessFormatChange(&media.Format{MIME: media.MIMEAudioRaw}) {
		t.Fatal("codec change must not be seamless")
	}
}

func newRenderer(t *testing.T) (*ClockRenderer, <-chan any) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch := make(chan any, 64)
	r := Renderers(ctx, discard)(player.RendererConfig{
		Sink:   Sink("test"),
		Notify: func(ev player.RendererEvent) { ch <- ev },
	})
	return r.(*ClockRenderer), ch
}

func TestClockRendererPacesBuffers(t *testing.T) {
	t.Parallel()
	r, ch := newRenderer(t)

	var released atomic.Int32
	release := func() { released.Add(1) }
	start := time.Now()
	r.QueueBuffer(false, media.NewAccessUnit(nil, 100_000), release)
	r.QueueBuffer(false, media.NewAccessUnit(nil, 160_000), release)
	r.QueueEOS(false, media.ErrEndOfStream)

	next[player.VideoRenderingStart](t, ch)
	next[player.MediaRenderingStart](t, ch)
	eos := next[player.RendererEOS](t, ch)
	if eos.Audio || !media.IsEndOfStream(eos.Err) {
		t.Fatalf("eos: got %+v", eos)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("rendered after %v, want about 60ms of pacing", elapsed)
	}
	if released.Load() != 2 {
		t.Fatalf("released: got %d, want 2", released.Load())
	}
	if st := r.Stats(); st.VideoRendered != 2 {
		t.Fatalf("stats: got %+v", st)
	}
	pos, err := r.Position()
	if err != nil || pos < 160_000 {
		t.Fatalf("position: got %d, %v", pos, err)
	}
}

func TestClockRendererFlushReleasesQueued(t *testing.T) {
	t.Parallel()
	r, ch := newRenderer(t)
	if _, err := r.Position(); err == nil {
		t.Fatal("position before first buffer")
	}

	r.Pause()
	var released atomic.Int32
	for i := range 3 {
		r.QueueBuffer(true, media.NewAccessUnit(nil, int64(i)*20_000), func() { released.Add(1) })
	}
	quiet(t, ch)

	r.Flush(true)
	if fc := next[player.RendererFlushComplete](t, ch); !fc.Audio {
		t.Fatal("flush complete for the wrong kind")
	}
	if released.Load() != 3 {
		t.Fatalf("released: got %d, want 3", released.Load())
	}
	if st := r.Stats(); st.Flushed != 3 || st.AudioRendered != 0 {
		t.Fatalf("stats: got %+v", st)
	}
}

func TestClockRendererNeverOffloads(t *testing.T) {
	t.Parallel()
	r, _ := newRenderer(t)
	f := &media.Format{MIME: media.MIMEAudioAAC, SampleRate: 44100, Channels: 2}
	if r.OpenAudioSink(f, true, false) || r.OpenAudioSink(f, false, false) {
		t.Fatal("offload reported")
	}
}

type memTrack struct {
	format *media.Format
	units  []*media.AccessUnit

	mu  sync.Mutex
	pos int
}

func (m *memTrack) Start() error          { return nil }
func (m *memTrack) Stop() error           { return nil }
func (m *memTrack) Format() *media.Format { return m.format }

func (m *memTrack) Read(opts source.ReadOptions) (*media.AccessUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seek, ok := opts.Seek.Get(); ok {
		m.pos = len(m.units)
		for i, u := range m.units {
			if u.TimeUs >= seek {
				m.pos = i
				break
			}
		}
	}
	if m.pos >= len(m.units) {
		return nil, media.ErrEndOfStream
	}
	au := m.units[m.pos]
	m.pos++
	return au, nil
}

type memExtractor []*memTrack

func (e memExtractor) TrackCount() int               { return len(e) }
func (e memExtractor) Track(i int) source.MediaTrack { return e[i] }
func (e memExtractor) Metadata() source.Metadata     { return source.Metadata{} }

type memData struct{ *bytes.Reader }

func (memData) Close() error { return nil }

func track(f *media.Format, n int, stepUs int64) *memTrack {
	t := &memTrack{format: f}
	for i := range n {
		au := media.NewAccessUnit(make([]byte, 64), int64(i)*stepUs)
		au.IsSync = true
		t.units = append(t.units, au)
	}
	return t
}

type session struct {
	p     *player.Player
	notes chan player.Notification
	rend  atomic.Pointer[ClockRenderer]
}

func play(t *testing.T, audioUnits, videoUnits int) *session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	ex := memExtractor{
		track(&media.Format{MIME: media.MIMEVideoAVC, Width: 320, Height: 240, FrameRate: 30}, videoUnits, 33_333),
		track(&media.Format{MIME: media.MIMEAudioAAC, SampleRate: 48000, Channels: 2}, audioUnits, 20_000),
	}
	s := &session{notes: make(chan player.Notification, 1024)}
	drv := player.NewListenerDriver(func(n player.Notification) {
		select {
		case s.notes <- n:
		default:
		}
	})
	renderers := Renderers(ctx, discard)
	s.p = player.New(drv, player.Options{
		Decoders: Decoders(ctx, discard),
		Renderers: func(cfg player.RendererConfig) player.Renderer {
			r := renderers(cfg)
			s.rend.Store(r.(*ClockRenderer))
			return r
		},
	}, discard)
	src := source.New(memData{bytes.NewReader(nil)}, source.Options{
		Extractors: func(source.DataSource, string) (source.Extractor, error) { return ex, nil },
	}, s.p.HandleSourceEvent, discard)

	go src.Run(ctx)
	go s.p.Run(ctx)

	s.p.SetDataSource(src)
	s.p.SetSurface(Surface("test"))
	s.p.SetAudioSink(Sink("test"))
	s.p.PrepareAsync()
	s.wait(t, player.MsgPrepared)
	return s
}

// wait returns once code arrives. Any error notification fails the test.
func (s *session) wait(t *testing.T, code int) []player.Notification {
	t.Helper()
	var seen []player.Notification
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n := <-s.notes:
			seen = append(seen, n)
			if n.Code == player.MsgError {
				t.Fatalf("playback error: %v", n)
			}
			if n.Code == code {
				return seen
			}
		case <-timeout:
			t.Fatalf("timed out waiting for code %d, saw %v", code, seen)
		}
	}
}

func TestPlaysToCompletion(t *testing.T) {
	t.Parallel()
	s := play(t, 25, 15)
	s.p.Start()
	seen := s.wait(t, player.MsgPlaybackComplete)

	started := false
	for _, n := range seen {
		if n.Code == player.MsgStarted {
			started = true
		}
	}
	if !started {
		t.Fatalf("no started notification in %v", seen)
	}
	st := s.rend.Load().Stats()
	if st.AudioRendered != 25 || st.VideoRendered != 15 {
		t.Fatalf("rendered: got %+v, want 25 audio and 15 video", st)
	}
}

func TestSeekDuringPlayback(t *testing.T) {
	t.Parallel()
	s := play(t, 100, 60)
	s.p.Start()
	s.wait(t, player.MsgStarted)

	s.p.SeekTo(1_500_000, true)
	s.wait(t, player.MsgSeekComplete)
	s.wait(t, player.MsgPlaybackComplete)

	st := s.rend.Load().Stats()
	if st.AudioRendered >= 100 {
		t.Fatalf("audio rendered %d units, want the seek to skip some", st.AudioRendered)
	}
	pos, err := s.p.CurrentPosition(context.Background())
	if err != nil || pos < 1_500_000 {
		t.Fatalf("position: got %d, %v", pos, err)
	}
}

func TestSeekFlushesEachDecoderOnce(t *testing.T) {
	t.Parallel()
	s := play(t, 100, 60)
	s.p.Start()
	s.wait(t, player.MsgStarted)
	before := s.rend.Load().Stats().Discontinuities

	s.p.SeekTo(1_500_000, true)
	s.wait(t, player.MsgSeekComplete)
	// The post-seek markers are dequeued before the streams can end.
	s.wait(t, player.MsgPlaybackComplete)

	st, err := s.p.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Audio.Flushes != 1 || st.Video.Flushes != 1 {
		t.Fatalf("flushes: got audio %d video %d, want 1 each", st.Audio.Flushes, st.Video.Flushes)
	}
	if got := s.rend.Load().Stats().Discontinuities - before; got != 1 {
		t.Fatalf("time discontinuities: got %d, want 1", got)
	}
}
