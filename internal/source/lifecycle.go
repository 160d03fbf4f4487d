package source

import "github.com/zsiec/mediaplay/internal/media"

func (s *Source) onStart() {
	s.stopRead = false
	for _, kind := range []media.TrackType{media.TrackAudio, media.TrackVideo} {
		h := s.tracks[kind].handle
		if h == nil {
			continue
		}
		if err := h.Start(); err != nil {
			s.log.Error("track start failed", "track", kind, "error", err)
			s.notify(SourceError{Err: &media.TrackError{Track: kind, Op: "start", Err: err}})
			return
		}
		s.postReadBuffer(kind)
	}

	s.setPlaybackStatus(PlaybackStart, s.lastReadPositionUs()/1000)
	s.started = true
	s.preparing = false

	if s.tracks[media.TrackVideo].handle == nil && s.tracks[media.TrackAudio].handle != nil {
		s.durationPolls = 0
		s.box.PostDelayed(msgUpdateDuration{}, s.cfg.UpdateDurationInterval)
	}
}

func (s *Source) onStop(m msgStop) {
	s.setPlaybackStatus(PlaybackStop, 0)
	s.started = false
	if s.secure.Load() {
		// No further reads once the secure session is torn down.
		s.stopRead = true
		s.bufs[media.TrackVideo].Clear()
	}
	if id, ok := m.id.Get(); ok {
		s.box.Reply(id, nil)
	}
}

func (s *Source) onPause() {
	s.setPlaybackStatus(PlaybackPause, 0)
	s.started = false
}

func (s *Source) onResume() {
	s.setPlaybackStatus(PlaybackStart, s.lastReadPositionUs()/1000)
	s.started = true
}

func (s *Source) setPlaybackStatus(status PlaybackStatus, posMs int64) {
	if s.opts.DRM != nil {
		s.opts.DRM.SetPlaybackStatus(status, posMs)
	}
}

func (s *Source) lastReadPositionUs() int64 {
	if s.tracks[media.TrackVideo].handle != nil {
		return s.videoTimeUs
	}
	if s.tracks[media.TrackAudio].handle != nil {
		return s.audioTimeUs
	}
	return 0
}

// onUpdateDuration re-reads the duration of audio-only content, whose
// estimate often improves as more of the stream is parsed.
func (s *Source) onUpdateDuration() {
	t := s.tracks[media.TrackAudio]
	if t.handle == nil || t.isEOS || s.durationPolls >= s.cfg.UpdateDurationMaxTries {
		return
	}
	s.durationPolls++

	if d := t.handle.Format().DurationUs; d > 0 && d != s.durationUs.Load() {
		s.durationUs.Store(d)
		s.log.Debug("duration updated", "duration_us", d)
		s.notify(DurationUpdate{DurationUs: d})
	}
	if s.durationPolls < s.cfg.UpdateDurationMaxTries {
		s.box.PostDelayed(msgUpdateDuration{}, s.cfg.UpdateDurationInterval)
	}
}
