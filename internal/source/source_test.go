package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/trackbuffer"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) index(entry string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Index(j.entries, entry)
}

type fakeTrack struct {
	name   string
	format *media.Format
	units  []*media.AccessUnit
	j      *journal

	mu       sync.Mutex
	pos      int
	seeks    []int64
	startErr error
	started  int
	stopped  int
}

func (t *fakeTrack) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started++
	t.j.add("%s:start", t.name)
	return t.startErr
}

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
	t.j.add("%s:stop", t.name)
	return nil
}

func (t *fakeTrack) Format() *media.Format {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format
}

func (t *fakeTrack) Read(opts ReadOptions) (*media.AccessUnit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seek, ok := opts.Seek.Get(); ok {
		t.seeks = append(t.seeks, seek)
		t.pos = 0
		for i, u := range t.units {
			if u.TimeUs > seek {
				break
			}
			if u.IsSync {
				t.pos = i
			}
		}
	}
	if t.pos >= len(t.units) {
		return nil, media.ErrEndOfStream
	}
	t.j.add("%s:read", t.name)
	u := *t.units[t.pos]
	t.pos++
	return &u, nil
}

func (t *fakeTrack) lastSeek() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.seeks) == 0 {
		return 0, false
	}
	return t.seeks[len(t.seeks)-1], true
}

func (t *fakeTrack) counts() (started, stopped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started, t.stopped
}

// makeUnits returns n units spaced stepUs apart, with a sync unit every
// syncEvery units.
func makeUnits(n int, stepUs int64, syncEvery int) []*media.AccessUnit {
	units := make([]*media.AccessUnit, n)
	for i := range units {
		au := media.NewAccessUnit([]byte{byte(i)}, int64(i)*stepUs)
		au.IsSync = i%syncEvery == 0
		units[i] = au
	}
	return units
}

type fakeExtractor struct {
	tracks []*fakeTrack
	meta   Metadata
}

func (e *fakeExtractor) TrackCount() int       { return len(e.tracks) }
func (e *fakeExtractor) Track(i int) MediaTrack { return e.tracks[i] }
func (e *fakeExtractor) Metadata() Metadata     { return e.meta }

func (e *fakeExtractor) factory() ExtractorFactory {
	return func(DataSource, string) (Extractor, error) { return e, nil }
}

type memSource struct{ data []byte }

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	return copy(p, m.data[off:]), nil
}
func (m *memSource) Size() int64  { return int64(len(m.data)) }
func (m *memSource) Close() error { return nil }

type fakeCache struct {
	memSource
	remaining atomic.Int64
	final     atomic.Pointer[error]
}

func (c *fakeCache) ApproxDataRemaining() (int64, error) {
	if p := c.final.Load(); p != nil {
		return c.remaining.Load(), *p
	}
	return c.remaining.Load(), nil
}
func (c *fakeCache) CachedSize() int64   { return c.remaining.Load() }
func (c *fakeCache) MaxCacheSize() int64 { return 0 }
func (c *fakeCache) Size() int64         { return -1 }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) waitFor(t *testing.T, what string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range r.snapshot() {
			if match(e) {
				return e
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; got %v", what, r.snapshot())
	return nil
}

func (r *recorder) count(match func(Event) bool) int {
	n := 0
	for _, e := range r.snapshot() {
		if match(e) {
			n++
		}
	}
	return n
}

func is[T Event](e Event) bool {
	_, ok := e.(T)
	return ok
}

type statusSink struct {
	mu  sync.Mutex
	log []PlaybackStatus
}

func (s *statusSink) SetPlaybackStatus(status PlaybackStatus, _ int64) {
	s.mu.Lock()
	s.log = append(s.log, status)
	s.mu.Unlock()
}

func (s *statusSink) statuses() []PlaybackStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.log)
}

func fastConfig() *Config {
	cfg := DefaultConfig()
	cfg.PrefillRetry = 2 * time.Millisecond
	cfg.PollBufferingInterval = 2 * time.Millisecond
	cfg.UpdateDurationInterval = 2 * time.Millisecond
	cfg.MinBytesForSniffing = 100
	cfg.DefaultMetaSize = 500
	cfg.LowWaterMarkBytes = 100
	cfg.HighWaterMarkBytes = 500
	return &cfg
}

func startSource(t *testing.T, ds DataSource, opts Options) (*Source, *recorder) {
	t.Helper()
	rec := &recorder{}
	if opts.Config == nil {
		opts.Config = fastConfig()
	}
	s := New(ds, opts, rec.notify, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, rec
}

// barrier waits until every message posted before it has been handled. The
// second round trip covers messages those handlers posted in turn.
func barrier(t *testing.T, s *Source) {
	t.Helper()
	for range 2 {
		if _, err := s.Stats(context.Background()); err != nil {
			t.Fatalf("Stats: %v", err)
		}
	}
}

func avTracks(j *journal) (video, audio *fakeTrack) {
	video = &fakeTrack{
		name:   "v",
		format: &media.Format{MIME: media.MIMEVideoAVC, Width: 640, Height: 360, DurationUs: 10_000_000, Bitrate: 1_000_000},
		units:  makeUnits(300, 33_333, 10),
		j:      j,
	}
	audio = &fakeTrack{
		name:   "a",
		format: &media.Format{MIME: media.MIMEAudioAAC, SampleRate: 48000, Channels: 2, DurationUs: 10_000_000, Bitrate: 128_000},
		units:  makeUnits(400, 21_333, 1),
		j:      j,
	}
	return video, audio
}

func TestPrepareAudioOnly(t *testing.T) {
	t.Parallel()
	j := &journal{}
	_, audio := avTracks(j)
	ex := &fakeExtractor{tracks: []*fakeTrack{audio}}
	s, rec := startSource(t, &memSource{}, Options{Extractors: ex.factory()})

	s.PrepareAsync()
	ev := rec.waitFor(t, "prepared", is[Prepared]).(Prepared)
	if ev.Err != nil {
		t.Fatalf("prepare failed: %v", ev.Err)
	}
	if n := rec.count(is[VideoSizeChanged]); n != 0 {
		t.Errorf("got %d VideoSizeChanged events, want 0", n)
	}
	if s.Format(context.Background(), false).IsPresent() {
		t.Error("video format should be absent")
	}
	f, ok := s.Format(context.Background(), true).Get()
	if !ok || f.MIME != media.MIMEAudioAAC {
		t.Fatalf("audio format = %v, %v", f, ok)
	}
	if got := s.Duration(); got != 10_000_000 {
		t.Errorf("duration = %d, want 10000000", got)
	}
	if _, err := s.DequeueAccessUnit(false); !errors.Is(err, media.ErrWouldBlock) {
		t.Errorf("video dequeue = %v, want ErrWouldBlock", err)
	}
}

func TestPrepareFlags(t *testing.T) {
	t.Parallel()
	j := &journal{}
	video, audio := avTracks(j)
	video.format.Secure = true
	ex := &fakeExtractor{tracks: []*fakeTrack{video, audio}}
	s, rec := startSource(t, &memSource{}, Options{Extractors: ex.factory(), Live: true})

	s.PrepareAsync()
	rec.waitFor(t, "prepared", is[Prepared])
	ev := rec.waitFor(t, "flags", is[FlagsChanged]).(FlagsChanged)
	want := FlagSecure | FlagCanPause | FlagCanSeekBackward | FlagCanSeekForward | FlagCanSeek | FlagDynamicDuration
	if ev.Flags != want {
		t.Errorf("flags = %b, want %b", ev.Flags, want)
	}
	if !s.IsSecure() {
		t.Error("source should be secure")
	}

	events := rec.snapshot()
	sizeAt := slices.IndexFunc(events, is[VideoSizeChanged])
	prepAt := slices.IndexFunc(events, is[Prepared])
	if sizeAt < 0 || sizeAt > prepAt {
		t.Errorf("VideoSizeChanged at %d, Prepared at %d; want size first", sizeAt, prepAt)
	}
}

func TestPrepareFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ex   ExtractorFactory
		want error
	}{
		{
			name: "no tracks",
			ex:   (&fakeExtractor{}).factory(),
			want: media.ErrUnsupported,
		},
		{
			name: "text only",
			ex: (&fakeExtractor{tracks: []*fakeTrack{{
				name: "t", format: media.NewFormat(media.MIMETextVTT), j: &journal{},
			}}}).factory(),
			want: media.ErrUnsupported,
		},
		{
			name: "extractor error",
			ex: func(DataSource, string) (Extractor, error) {
				return nil, media.ErrMalformed
			},
			want: media.ErrMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, rec := startSource(t, &memSource{}, Options{Extractors: tt.ex})
			s.PrepareAsync()
			ev := rec.waitFor(t, "prepared", is[Prepared]).(Prepared)
			if !errors.Is(ev.Err, tt.want) {
				t.Errorf("got %v, want %v", ev.Err, tt.want)
			}
		})
	}
}

func TestSingleReadInFlight(t *testing.T) {
	t.Parallel()
	s := New(&memSource{}, Options{}, nil, slog.New(slog.DiscardHandler))
	for range 5 {
		s.postReadBuffer(media.TrackAudio)
	}
	s.postReadBuffer(media.TrackVideo)

	if got := s.box.Len(); got != 2 {
		t.Fatalf("queued %d reads, want 2", got)
	}
	if s.readPosts[media.TrackAudio] != 1 {
		t.Errorf("audio read posts = %d, want 1", s.readPosts[media.TrackAudio])
	}

	s.onReadBuffer(media.TrackAudio)
	if s.pendingRead(media.TrackAudio) {
		t.Error("audio read should no longer be pending")
	}
	if !s.pendingRead(media.TrackVideo) {
		t.Error("video read should still be pending")
	}
	s.postReadBuffer(media.TrackAudio)
	if s.readPosts[media.TrackAudio] != 2 {
		t.Errorf("audio read posts = %d, want 2", s.readPosts[media.TrackAudio])
	}
}

func TestSeekAnchorsAudioToVideo(t *testing.T) {
	t.Parallel()
	j := &journal{}
	video, audio := avTracks(j)
	ex := &fakeExtractor{tracks: []*fakeTrack{video, audio}}
	sink := &statusSink{}
	s, rec := startSource(t, &memSource{}, Options{Extractors: ex.factory(), DRM: sink})

	s.PrepareAsync()
	rec.waitFor(t, "prepared", is[Prepared])

	if err := s.SeekTo(context.Background(), 1_000_000); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}

	const landed = 30 * 33_333 // frame 30 is the last sync point before 1s
	_, err := s.DequeueAccessUnit(false)
	var disc *trackbuffer.Discontinuity
	if !errors.As(err, &disc) || disc.Kind != trackbuffer.KindSeek {
		t.Fatalf("first video dequeue = %v, want seek discontinuity", err)
	}
	if at, ok := disc.ResumeAt.Get(); !ok || at != 1_000_000 {
		t.Errorf("resume at = %d, %v; want 1000000", at, ok)
	}
	au, err := s.DequeueAccessUnit(false)
	if err != nil {
		t.Fatalf("video dequeue: %v", err)
	}
	if au.TimeUs != landed || !au.IsSync {
		t.Errorf("video landed at %d (sync %v), want %d", au.TimeUs, au.IsSync, landed)
	}

	if got, _ := audio.lastSeek(); got != landed {
		t.Errorf("audio seeked to %d, want video landing %d", got, landed)
	}
	if _, err := s.DequeueAccessUnit(true); !errors.Is(err, media.ErrDiscontinuity) {
		t.Fatalf("first audio dequeue = %v, want discontinuity", err)
	}
	au, err = s.DequeueAccessUnit(true)
	if err != nil || au.TimeUs > landed {
		t.Fatalf("audio dequeue = %v, %v; want unit at or before %d", au, err, landed)
	}

	want := []PlaybackStatus{PlaybackStart, PlaybackPause}
	if got := sink.statuses(); !slices.Equal(got, want) {
		t.Errorf("playback statuses = %v, want %v", got, want)
	}
}

func TestSeekAfterSecureStop(t *testing.T) {
	t.Parallel()
	j := &journal{}
	video, audio := avTracks(j)
	video.format.Secure = true
	ex := &fakeExtractor{tracks: []*fakeTrack{video, audio}}
	s, rec := startSource(t, &memSource{}, Options{Extractors: ex.factory()})

	s.PrepareAsync()
	rec.waitFor(t, "prepared", is[Prepared])
	s.Start()
	s.Stop()

	if err := s.SeekTo(context.Background(), 0); !errors.Is(err, media.ErrInvalidOperation) {
		t.Errorf("got %v, want ErrInvalidOperation", err)
	}
	st, _ := s.Stats(context.Background())
	if st.Video.Queued != 0 {
		t.Errorf("video queued = %d, want 0 after secure stop", st.Video.Queued)
	}
}

func TestChangeAVSourceStopsOldTrackLast(t *testing.T) {
	t.Parallel()
	j := &journal{}
	video, audio := avTracks(j)
	audio2 := &fakeTrack{
		name:   "a2",
		format: &media.Format{MIME: media.MIMEAudioAAC, SampleRate: 44100, Channels: 2, Language: "fra"},
		units:  makeUnits(400, 23_220, 1),
		j:      j,
	}
	ex := &fakeExtractor{tracks: []*fakeTrack{video, audio, audio2}}
	s, rec := startSource(t, &memSource{}, Options{Extractors: ex.factory()})
	ctx := context.Background()

	s.PrepareAsync()
	rec.waitFor(t, "prepared", is[Prepared])
	s.Start()
	barrier(t, s)

	if err := s.SelectTrack(ctx, 2, true); err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}
	barrier(t, s)

	if got := s.SelectedTrack(ctx, media.TrackAudio); got != 2 {
		t.Errorf("selected audio = %d, want 2", got)
	}
	readAt, stopAt := j.index("a2:read"), j.index("a:stop")
	if readAt < 0 || stopAt < 0 || readAt > stopAt {
		t.Errorf("a2 first read at %d, a stop at %d; want read before stop", readAt, stopAt)
	}

	_, err := s.DequeueAccessUnit(true)
	var disc *trackbuffer.Discontinuity
	if !errors.As(err, &disc) || disc.Kind != trackbuffer.KindFormatChange {
		t.Fatalf("audio dequeue = %v, want format-change discontinuity", err)
	}
	if _, err := s.DequeueAccessUnit(true); err != nil {
		t.Fatalf("dequeue after switch: %v", err)
	}
	if !s.Format(ctx, true).MustGet().Equal(audio2.format) {
		t.Error("audio format should be the new track's")
	}

	// Selecting the active track again is a no-op.
	if err := s.SelectTrack(ctx, 2, true); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if started, _ := audio2.counts(); started != 1 {
		t.Errorf("a2 started %d times, want 1", started)
	}
}

func TestTrackSwitchResumesAtSwitchPoint(t *testing.T) {
	t.Parallel()
	j := &journal{}
	video, audio := avTracks(j)
	audio2 := &fakeTrack{
		name:   "a2",
		format: &media.Format{MIME: media.MIMEAudioAAC, SampleRate: 44100, Channels: 2, Language: "fra"},
		units:  makeUnits(400, 23_220, 1),
		j:      j,
	}
	ex := &fakeExtractor{tracks: []*fakeTrack{video, audio, audio2}}
	s, rec := startSource(t, &memSource{}, Options{Extractors: ex.factory()})
	ctx := context.Background()

	s.PrepareAsync()
	rec.waitFor(t, "prepared", is[Prepared])
	if err := s.SeekTo(ctx, 5_000_000); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if err := s.SelectTrack(ctx, 2, true); err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}
	barrier(t, s)

	switchedAt, ok := audio2.lastSeek()
	if !ok {
		t.Fatal("new track was not seeked")
	}
	var disc *trackbuffer.Discontinuity
	for {
		_, err := s.DequeueAccessUnit(true)
		if !errors.As(err, &disc) {
			t.Fatalf("audio dequeue = %v, want a discontinuity", err)
		}
		if disc.Kind == trackbuffer.KindFormatChange {
			break
		}
	}
	at, ok := disc.ResumeAt.Get()
	if !ok || at != switchedAt {
		t.Fatalf("resume at: got %d, %v, want %d", at, ok, switchedAt)
	}
	if at == 5_000_000 {
		t.Fatal("switch marker carries the earlier seek time")
	}
}

func TestSelectTrackErrors(t *testing.T) {
	t.Parallel()
	j := &journal{}
	video, audio := avTracks(j)
	ex := &fakeExtractor{tracks: []*fakeTrack{video, audio}}
	s, rec := startSource(t, &memSource{}, Options{Extractors: ex.factory()})
	ctx := context.Background()
	s.PrepareAsync()
	rec.waitFor(t, "prepared", is[Prepared])

	if err := s.SelectTrack(ctx, 7, true); !errors.Is(err, media.ErrBadIndex) {
		t.Errorf("out of range: got %v, want ErrBadIndex", err)
	}
	if err := s.SelectTrack(ctx, 1, false); !errors.Is(err, media.ErrInvalidOperation) {
		t.Errorf("deselect audio: got %v, want ErrInvalidOperation", err)
	}
	if _, err := s.TrackInfo(ctx, -1); !errors.Is(err, media.ErrBadIndex) {
		t.Errorf("track info: got %v, want ErrBadIndex", err)
	}
}

func TestTrackInfo(t *testing.T) {
	t.Parallel()
	j := &journal{}
	video, audio := avTracks(j)
	sub := &fakeTrack{
		name: "s",
		format: &media.Format{
			MIME: media.MIMETextVTT, Language: "eng",
			Autoselect: true, Forced: true,
		},
		j: j,
	}
	tt := &fakeTrack{name: "tt", format: media.NewFormat(media.MIMEText3GPP), j: j}
	ex := &fakeExtractor{tracks: []*fakeTrack{video, audio, sub, tt}}
	s, rec := startSource(t, &memSource{}, Options{Extractors: ex.factory()})
	ctx := context.Background()
	s.PrepareAsync()
	rec.waitFor(t, "prepared", is[Prepared])

	if got := s.TrackCount(ctx); got != 4 {
		t.Fatalf("track count = %d, want 4", got)
	}
	want := []TrackInfo{
		{Type: media.TrackVideo, MIME: media.MIMEVideoAVC, Language: "und"},
		{Type: media.TrackAudio, MIME: media.MIMEAudioAAC, Language: "und"},
		{Type: media.TrackSubtitle, MIME: media.MIMETextVTT, Language: "eng", Autoselect: true, Forced: true},
		{Type: media.TrackTimedText, MIME: media.MIMEText3GPP, Language: "und"},
	}
	for i, w := range want {
		got, err := s.TrackInfo(ctx, i)
		if err != nil {
			t.Fatalf("TrackInfo(%d): %v", i, err)
		}
		if got != w {
			t.Errorf("TrackInfo(%d) = %+v, want %+v", i, got, w)
		}
	}
	if got := s.SelectedTrack(ctx, media.TrackSubtitle); got != -1 {
		t.Errorf("selected subtitle = %d, want -1", got)
	}
}

func TestSubtitleDelivery(t *testing.T) {
	t.Parallel()
	j := &journal{}
	_, audio := avTracks(j)
	sub := &fakeTrack{
		name:   "s",
		format: &media.Format{MIME: media.MIMETextVTT},
		units:  makeUnits(3, 50_000, 1),
		j:      j,
	}
	ex := &fakeExtractor{tracks: []*fakeTrack{audio, sub}}
	s, rec := startSource(t, &memSource{}, Options{Extractors: ex.factory()})
	ctx := context.Background()
	s.PrepareAsync()
	rec.waitFor(t, "prepared", is[Prepared])

	if err := s.SelectTrack(ctx, 1, true); err != nil {
		t.Fatalf("select subtitle: %v", err)
	}
	s.Start()
	barrier(t, s)

	if _, err := s.DequeueAccessUnit(true); err != nil {
		t.Fatalf("audio dequeue: %v", err)
	}
	ev := rec.waitFor(t, "subtitle", is[SubtitleData]).(SubtitleData)
	if ev.Unit.TimeUs != 0 || ev.Unit.TrackIndex != 1 || ev.Unit.MIME != media.MIMETextVTT {
		t.Errorf("subtitle unit = %+v", ev.Unit)
	}

	if err := s.SelectTrack(ctx, 1, false); err != nil {
		t.Fatalf("deselect subtitle: %v", err)
	}
	if _, stopped := sub.counts(); stopped != 1 {
		t.Errorf("subtitle stopped %d times, want 1", stopped)
	}
}

func TestCachedPrepareAndBuffering(t *testing.T) {
	t.Parallel()
	j := &journal{}
	_, audio := avTracks(j)
	audio.format.Bitrate = -1
	ex := &fakeExtractor{tracks: []*fakeTrack{audio}}
	cache := &fakeCache{}
	sniffed := make(chan struct{}, 1)
	opts := Options{
		Extractors: ex.factory(),
		Sniff: func(DataSource) (string, int64, error) {
			select {
			case sniffed <- struct{}{}:
			default:
			}
			return "video/mp2t", -1, nil
		},
	}
	s, rec := startSource(t, cache, opts)

	s.PrepareAsync()
	time.Sleep(10 * time.Millisecond)
	if n := rec.count(is[Prepared]); n != 0 {
		t.Fatalf("prepared with an empty cache")
	}

	cache.remaining.Store(1000)
	<-sniffed
	ev := rec.waitFor(t, "prepared", is[Prepared]).(Prepared)
	if ev.Err != nil {
		t.Fatalf("prepare: %v", ev.Err)
	}

	s.Start()
	barrier(t, s)
	cache.remaining.Store(10)
	rec.waitFor(t, "buffering start", is[BufferingStart])
	if _, err := s.DequeueAccessUnit(true); !errors.Is(err, media.ErrWouldBlock) {
		t.Errorf("dequeue while under-run = %v, want ErrWouldBlock", err)
	}

	cache.remaining.Store(1000)
	rec.waitFor(t, "buffering end", is[BufferingEnd])

	fail := error(media.ErrIO)
	cache.final.Store(&fail)
	rec.waitFor(t, "source error", is[SourceError])
	time.Sleep(10 * time.Millisecond)
	if n := rec.count(is[SourceError]); n != 1 {
		t.Errorf("got %d source errors, want 1", n)
	}
}

func TestUpdateDurationAudioOnly(t *testing.T) {
	t.Parallel()
	j := &journal{}
	_, audio := avTracks(j)
	ex := &fakeExtractor{tracks: []*fakeTrack{audio}}
	s, rec := startSource(t, &memSource{}, Options{Extractors: ex.factory()})
	s.PrepareAsync()
	rec.waitFor(t, "prepared", is[Prepared])

	audio.mu.Lock()
	audio.format = audio.format.Clone()
	audio.format.DurationUs = 12_000_000
	audio.mu.Unlock()
	s.Start()

	ev := rec.waitFor(t, "duration", is[DurationUpdate]).(DurationUpdate)
	if ev.DurationUs != 12_000_000 {
		t.Errorf("duration = %d, want 12000000", ev.DurationUs)
	}
}

func TestEndOfStreamPropagates(t *testing.T) {
	t.Parallel()
	j := &journal{}
	_, audio := avTracks(j)
	audio.units = audio.units[:3]
	ex := &fakeExtractor{tracks: []*fakeTrack{audio}}
	s, rec := startSource(t, &memSource{}, Options{Extractors: ex.factory()})
	s.PrepareAsync()
	rec.waitFor(t, "prepared", is[Prepared])
	s.Start()
	barrier(t, s)

	for i := range 3 {
		if _, err := s.DequeueAccessUnit(true); err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
	}
	if _, err := s.DequeueAccessUnit(true); !errors.Is(err, media.ErrEndOfStream) {
		t.Errorf("got %v, want ErrEndOfStream", err)
	}
}
