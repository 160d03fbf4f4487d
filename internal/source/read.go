package source

import (
	"errors"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/trackbuffer"
)

// postReadBuffer schedules a refill of kind unless one is already queued.
// It is called from both the source goroutine and the owner's goroutine.
func (s *Source) postReadBuffer(kind media.TrackType) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	bit := uint32(1) << uint(kind)
	if s.pendingReads&bit != 0 {
		return
	}
	s.pendingReads |= bit
	s.readPosts[kind]++
	s.box.Post(msgReadBuffer{kind: kind})
}

func (s *Source) onReadBuffer(kind media.TrackType) {
	s.readMu.Lock()
	s.pendingReads &^= uint32(1) << uint(kind)
	s.readMu.Unlock()
	s.readBuffer(kind, -1, false, mo.None[int64]())
}

// pendingRead reports whether a refill of kind is queued.
func (s *Source) pendingRead(kind media.TrackType) bool {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	return s.pendingReads&(uint32(1)<<uint(kind)) != 0
}

func (s *Source) batchSize(kind media.TrackType) int {
	secure := s.secure.Load()
	switch kind {
	case media.TrackVideo:
		if secure {
			return s.cfg.SecureVideoBatch
		}
		return s.cfg.VideoBatch
	case media.TrackAudio:
		if secure {
			return s.cfg.SecureAudioBatch
		}
		return s.cfg.AudioBatch
	default:
		return 1
	}
}

// readBuffer moves up to one batch of access units from the track into its
// buffer. A non-negative seekTimeUs first seeks to the preceding sync point.
// formatChange marks the first unit after a track switch. resumeAt rides on
// the marker queued when seeking. It returns the timestamp of the first unit
// read, or seekTimeUs when nothing was read.
func (s *Source) readBuffer(kind media.TrackType, seekTimeUs int64, formatChange bool, resumeAt mo.Option[int64]) int64 {
	actual := seekTimeUs
	if s.stopRead {
		return actual
	}
	t := &s.tracks[kind]
	if t.handle == nil {
		return actual
	}

	var opts ReadOptions
	seeking := false
	if seekTimeUs >= 0 {
		opts.Seek = mo.Some(seekTimeUs)
		opts.Mode = SeekPreviousSync
		seeking = true
		t.isEOS = false
	}
	if t.isEOS {
		return actual
	}
	if s.secure.Load() && kind == media.TrackVideo {
		opts.NonBlocking = true
	}

	buf := s.bufs[kind]
	first := true
	for n, max := 0, s.batchSize(kind); n < max; {
		au, err := t.handle.Read(opts)
		opts.Seek = mo.None[int64]()

		switch {
		case err == nil:
			if kind == media.TrackAudio {
				s.audioTimeUs = au.TimeUs
			} else if kind == media.TrackVideo {
				s.videoTimeUs = au.TimeUs
			}
			if (seeking || formatChange) && (kind == media.TrackAudio || kind == media.TrackVideo) {
				dk := trackbuffer.KindSeek
				if formatChange {
					dk = trackbuffer.KindNone
					if seeking {
						dk = trackbuffer.KindFormatChange
					}
				}
				buf.EnqueueDiscontinuity(dk, lo.Ternary(seeking, resumeAt, mo.None[int64]()), true)
			}
			if kind == media.TrackSubtitle || kind == media.TrackTimedText {
				au.TrackIndex = t.index
				au.MIME = t.handle.Format().MIME
			}
			buf.Enqueue(au)
			if first {
				actual = au.TimeUs
				first = false
			}
			s.buffersRead++
			seeking, formatChange = false, false
			n++

		case errors.Is(err, media.ErrWouldBlock):
			return actual

		case errors.Is(err, media.ErrFormatChanged):
			// In-place updates carry no data; the next read returns it.

		default:
			if seeking {
				buf.EnqueueDiscontinuity(trackbuffer.KindSeek, resumeAt, true)
			}
			buf.SignalEOS(err)
			t.isEOS = true
			if errors.Is(err, media.ErrDrmNoLicense) && s.secure.Load() {
				s.notify(DrmNoLicense{})
			}
			if !media.IsEndOfStream(err) {
				s.log.Warn("track read failed", "track", kind, "error", err)
			}
			return actual
		}
	}
	return actual
}

// FeedMoreData returns nil while any active audio or video track can still
// deliver units. Once all of them are drained it returns the first non-EOS
// terminal status, or media.ErrEndOfStream.
func (s *Source) FeedMoreData() error {
	var final error
	for _, k := range []media.TrackType{media.TrackAudio, media.TrackVideo} {
		if !s.present[k].Load() {
			continue
		}
		ok, st := s.bufs[k].HasAvailable()
		if ok || st == nil {
			return nil
		}
		if final == nil || media.IsEndOfStream(final) {
			final = st
		}
	}
	if final == nil {
		return nil
	}
	return final
}

// DequeueAccessUnit returns the next unit of the audio or video track. It
// never blocks: media.ErrWouldBlock means no data yet, a *trackbuffer.
// Discontinuity marks a break in the stream, and any other error is the
// track's terminal status.
func (s *Source) DequeueAccessUnit(audio bool) (*media.AccessUnit, error) {
	kind := kindOf(audio)
	if s.underRun.Load() {
		return nil, media.ErrWouldBlock
	}
	if !s.present[kind].Load() {
		return nil, media.ErrWouldBlock
	}
	if s.secure.Load() && kind == media.TrackVideo {
		// Secure video reads are non-blocking and must be driven by demand.
		s.postReadBuffer(media.TrackVideo)
	}

	buf := s.bufs[kind]
	if ok, final := buf.HasAvailable(); !ok {
		if final != nil {
			return nil, final
		}
		return nil, media.ErrWouldBlock
	}

	au, err := buf.Dequeue()
	if ok, _ := buf.HasAvailable(); !ok {
		s.postReadBuffer(kind)
	}

	if err != nil {
		for _, tk := range []media.TrackType{media.TrackSubtitle, media.TrackTimedText} {
			if s.present[tk].Load() {
				s.bufs[tk].Clear()
				s.fetchGen[tk].Add(1)
			}
		}
		return nil, err
	}

	for _, tk := range []media.TrackType{media.TrackSubtitle, media.TrackTimedText} {
		if !s.present[tk].Load() {
			continue
		}
		if ok, _ := s.bufs[tk].HasAvailable(); ok {
			continue
		}
		s.box.Post(msgFetchText{kind: tk, timeUs: au.TimeUs, gen: s.fetchGen[tk].Load()})
	}
	return au, nil
}
