// Package source demultiplexes a container into independently buffered
// tracks and serves them to the player through a pull interface.
//
// A Source runs its own mailbox goroutine. All demux I/O happens there, so a
// slow read never stalls the caller. DequeueAccessUnit and Disconnect are
// called from other goroutines; they touch only the track buffers, a few
// atomics and the pending-read bitmask, which has its own lock.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/zsiec/mediaplay/internal/mailbox"
	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/trackbuffer"
)

const numKinds = int(media.TrackSubtitle) + 1

// Options configures a Source.
type Options struct {
	// Extractors opens the container. Required.
	Extractors ExtractorFactory
	// Sniff guesses the container type of cached sources during prefill.
	Sniff Sniffer
	// DRM receives play/pause intent. Optional.
	DRM PlaybackStatusSink
	// Live marks content whose duration grows while it plays.
	Live bool
	// Config overrides DefaultConfig when non-nil.
	Config *Config
}

// TrackInfo describes one track for track-selection UIs.
type TrackInfo struct {
	Type       media.TrackType
	MIME       string
	Language   string
	Autoselect bool
	Default    bool
	Forced     bool
}

// TrackStats is a snapshot of one track buffer.
type TrackStats struct {
	Index    int
	Queued   int
	QueuedUs int64
	EOS      bool
}

// Stats is a snapshot of the source.
type Stats struct {
	Audio, Video TrackStats
	// BuffersRead counts every access unit queued since prepare.
	BuffersRead int64
	DurationUs  int64
}

type track struct {
	index  int
	handle MediaTrack
	isEOS  bool
}

// Source is safe for use by one owner goroutine plus Disconnect from any
// goroutine.
type Source struct {
	log    *slog.Logger
	cfg    Config
	opts   Options
	ds     DataSource
	cached CachedSource
	notify func(Event)
	box    *mailbox.Mailbox[any]

	bufs       [numKinds]*trackbuffer.Buffer
	present    [numKinds]atomic.Bool
	fetchGen   [numKinds]atomic.Int32
	secure     atomic.Bool
	underRun   atomic.Bool
	durationUs atomic.Int64
	meta       atomic.Pointer[Metadata]

	readMu       sync.Mutex
	pendingReads uint32
	readPosts    [numKinds]int

	// Owned by the source goroutine.
	extractor       Extractor
	handles         []MediaTrack
	tracks          [numKinds]track
	started         bool
	preparing       bool
	stopRead        bool
	metaSize        int64
	sniffedMIME     string
	prepareDeadline time.Time
	bitrate         int64
	seekTimeUs      int64
	audioTimeUs     int64
	videoTimeUs     int64
	buffersRead     int64

	pollGen       int
	finalReported bool
	durationPolls int
}

// New returns a Source reading from ds. notify receives every Event and must
// not block; a nil log means slog.Default().
func New(ds DataSource, opts Options, notify func(Event), log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	if notify == nil {
		notify = func(Event) {}
	}
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	s := &Source{
		log:      log.With("component", "source"),
		cfg:      cfg,
		opts:     opts,
		ds:       ds,
		notify:   notify,
		box:      mailbox.New[any](),
		metaSize: -1,
	}
	if c, ok := ds.(CachedSource); ok {
		s.cached = c
	}
	for i := range s.bufs {
		s.bufs[i] = trackbuffer.New(nil)
		s.tracks[i].index = -1
	}
	s.durationUs.Store(media.UnknownDuration)
	return s
}

// Run processes messages until ctx is cancelled.
func (s *Source) Run(ctx context.Context) {
	s.box.Run(ctx, s.handle)
}

// Close stops the mailbox and releases the data source.
func (s *Source) Close() error {
	s.box.Stop()
	return s.ds.Close()
}

type (
	msgPrepare        struct{}
	msgStart          struct{}
	msgStop           struct{ id mo.Option[uuid.UUID] }
	msgPause          struct{}
	msgResume         struct{}
	msgReadBuffer     struct{ kind media.TrackType }
	msgSeek           struct {
		id     uuid.UUID
		timeUs int64
	}
	msgSelectTrack struct {
		id       uuid.UUID
		index    int
		selected bool
	}
	msgChangeAVSource struct{ index int }
	msgGetFormat      struct {
		id   uuid.UUID
		kind media.TrackType
	}
	msgSelectedTrack struct {
		id   uuid.UUID
		kind media.TrackType
	}
	msgTrackCount struct{ id uuid.UUID }
	msgTrackInfo  struct {
		id    uuid.UUID
		index int
	}
	msgPollBuffering  struct{ gen int }
	msgUpdateDuration struct{}
	msgFetchText      struct {
		kind   media.TrackType
		timeUs int64
		gen    int32
	}
	msgSendText struct {
		kind media.TrackType
		gen  int32
	}
	msgStats struct{ id uuid.UUID }
)

func (s *Source) handle(m any) {
	switch m := m.(type) {
	case msgPrepare:
		s.onPrepare()
	case msgStart:
		s.onStart()
	case msgStop:
		s.onStop(m)
	case msgPause:
		s.onPause()
	case msgResume:
		s.onResume()
	case msgReadBuffer:
		s.onReadBuffer(m.kind)
	case msgSeek:
		s.box.Reply(m.id, s.onSeek(m.timeUs))
	case msgSelectTrack:
		s.box.Reply(m.id, s.onSelectTrack(m.index, m.selected))
	case msgChangeAVSource:
		s.onChangeAVSource(m.index)
	case msgGetFormat:
		s.box.Reply(m.id, s.onGetFormat(m.kind))
	case msgSelectedTrack:
		s.box.Reply(m.id, s.tracks[m.kind].index)
	case msgTrackCount:
		s.box.Reply(m.id, len(s.handles))
	case msgTrackInfo:
		info, err := s.onTrackInfo(m.index)
		if err != nil {
			s.box.Reply(m.id, err)
			return
		}
		s.box.Reply(m.id, info)
	case msgPollBuffering:
		s.onPollBuffering(m.gen)
	case msgUpdateDuration:
		s.onUpdateDuration()
	case msgFetchText:
		s.onFetchText(m)
	case msgSendText:
		s.onSendText(m)
	case msgStats:
		s.box.Reply(m.id, s.onStats())
	default:
		s.log.Warn("unknown message", "type", fmt.Sprintf("%T", m))
	}
}

// PrepareAsync opens the container. Completion is reported as Prepared.
func (s *Source) PrepareAsync() { s.box.Post(msgPrepare{}) }

// Start starts the active tracks and begins buffering.
func (s *Source) Start() { s.box.Post(msgStart{}) }

// Stop halts playback. On the secure path it waits until reads are fenced
// off and the video buffer is cleared.
func (s *Source) Stop() {
	if !s.secure.Load() {
		s.box.Post(msgStop{})
		return
	}
	_, _ = s.box.Request(context.Background(), func(id uuid.UUID) any {
		return msgStop{id: mo.Some(id)}
	})
}

// Pause reports paused intent.
func (s *Source) Pause() { s.box.Post(msgPause{}) }

// Resume reports play intent.
func (s *Source) Resume() { s.box.Post(msgResume{}) }

// Disconnect unblocks a data source read in progress. It is safe to call
// from any goroutine, concurrently with the source's own reads.
func (s *Source) Disconnect() {
	if d, ok := s.ds.(Disconnecter); ok {
		d.Disconnect()
	}
}

// Duration returns the content duration, or media.UnknownDuration.
func (s *Source) Duration() int64 {
	return s.durationUs.Load()
}

// Metadata returns the file-level metadata read during prepare.
func (s *Source) Metadata() Metadata {
	if m := s.meta.Load(); m != nil {
		return *m
	}
	return Metadata{}
}

// IsSecure reports whether the video track needs the secure read path.
func (s *Source) IsSecure() bool {
	return s.secure.Load()
}

// Format returns the format of the active audio or video track.
func (s *Source) Format(ctx context.Context, audio bool) mo.Option[*media.Format] {
	kind := kindOf(audio)
	f, err := mailbox.Call[*media.Format](ctx, s.box, func(id uuid.UUID) any {
		return msgGetFormat{id: id, kind: kind}
	})
	if err != nil || f == nil {
		return mo.None[*media.Format]()
	}
	return mo.Some(f)
}

// SeekTo positions the active tracks at the sync point preceding timeUs.
func (s *Source) SeekTo(ctx context.Context, timeUs int64) error {
	res, err := s.box.Request(ctx, func(id uuid.UUID) any {
		return msgSeek{id: id, timeUs: timeUs}
	})
	if err != nil {
		return err
	}
	if e, ok := res.(error); ok {
		return e
	}
	return nil
}

// SelectTrack selects or deselects the track at index. Audio and video
// switches complete asynchronously.
func (s *Source) SelectTrack(ctx context.Context, index int, selected bool) error {
	res, err := s.box.Request(ctx, func(id uuid.UUID) any {
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

// SelectedTrack returns the index of the active track of kind, or -1.
func (s *Source) SelectedTrack(ctx context.Context, kind media.TrackType) int {
	if kind <= media.TrackUnknown || int(kind) >= numKinds {
		return -1
	}
	idx, err := mailbox.Call[int](ctx, s.box, func(id uuid.UUID) any {
		return msgSelectedTrack{id: id, kind: kind}
	})
	if err != nil {
		return -1
	}
	return idx
}

// TrackCount returns the number of tracks in the container.
func (s *Source) TrackCount(ctx context.Context) int {
	n, _ := mailbox.Call[int](ctx, s.box, func(id uuid.UUID) any {
		return msgTrackCount{id: id}
	})
	return n
}

// TrackInfo describes the track at index.
func (s *Source) TrackInfo(ctx context.Context, index int) (TrackInfo, error) {
	res, err := s.box.Request(ctx, func(id uuid.UUID) any {
		return msgTrackInfo{id: id, index: index}
	})
	if err != nil {
		return TrackInfo{}, err
	}
	switch v := res.(type) {
	case TrackInfo:
		return v, nil
	case error:
		return TrackInfo{}, v
	}
	return TrackInfo{}, media.ErrInvalidOperation
}

// Stats returns a snapshot of the track buffers.
func (s *Source) Stats(ctx context.Context) (Stats, error) {
	return mailbox.Call[Stats](ctx, s.box, func(id uuid.UUID) any {
		return msgStats{id: id}
	})
}

func (s *Source) onGetFormat(kind media.TrackType) *media.Format {
	t := s.tracks[kind]
	if t.handle == nil {
		return nil
	}
	return t.handle.Format()
}

func (s *Source) onStats() Stats {
	st := Stats{BuffersRead: s.buffersRead, DurationUs: s.durationUs.Load()}
	for _, k := range []media.TrackType{media.TrackAudio, media.TrackVideo} {
		b := s.bufs[k]
		ts := TrackStats{
			Index:    s.tracks[k].index,
			Queued:   b.Len(),
			QueuedUs: b.BufferedDurationUs(),
			EOS:      b.Final() != nil,
		}
		if k == media.TrackAudio {
			st.Audio = ts
		} else {
			st.Video = ts
		}
	}
	return st
}

func kindOf(audio bool) media.TrackType {
	if audio {
		return media.TrackAudio
	}
	return media.TrackVideo
}
