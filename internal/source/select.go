package source

import (
	"fmt"

	"github.com/samber/mo"

	"github.com/zsiec/mediaplay/internal/media"
)

func (s *Source) onSelectTrack(index int, selected bool) error {
	if index < 0 || index >= len(s.handles) {
		return fmt.Errorf("track %d of %d: %w", index, len(s.handles), media.ErrBadIndex)
	}

	if !selected {
		for _, kind := range []media.TrackType{media.TrackSubtitle, media.TrackTimedText} {
			t := &s.tracks[kind]
			if t.handle == nil || t.index != index {
				continue
			}
			s.fetchGen[kind].Add(1)
			if err := t.handle.Stop(); err != nil {
				s.log.Warn("track stop failed", "track", kind, "error", err)
			}
			s.tracks[kind] = track{index: -1}
			s.present[kind].Store(false)
			s.bufs[kind].Clear()
			return nil
		}
		return fmt.Errorf("deselect track %d: %w", index, media.ErrInvalidOperation)
	}

	h := s.handles[index]
	switch kind := h.Format().Type(); kind {
	case media.TrackSubtitle, media.TrackTimedText:
		t := &s.tracks[kind]
		if t.handle != nil && t.index == index {
			return nil
		}
		if t.handle != nil {
			if err := t.handle.Stop(); err != nil {
				s.log.Warn("track stop failed", "track", kind, "error", err)
			}
		}
		if err := h.Start(); err != nil {
			s.tracks[kind] = track{index: -1}
			s.present[kind].Store(false)
			return &media.TrackError{Track: kind, Op: "start", Err: err}
		}
		s.tracks[kind] = track{index: index, handle: h}
		s.bufs[kind].Clear()
		s.bufs[kind].SetFormat(h.Format())
		s.present[kind].Store(true)
		s.fetchGen[kind].Add(1)
		return nil

	case media.TrackAudio, media.TrackVideo:
		t := s.tracks[kind]
		if t.handle != nil && t.index == index {
			return nil
		}
		s.box.Post(msgChangeAVSource{index: index})
		return nil
	}
	return fmt.Errorf("select track %d: %w", index, media.ErrInvalidOperation)
}

// onChangeAVSource switches the audio or video track to the track at index.
// The new track is seeked to where the old one left off and its first unit
// is queued behind a format-change marker before the old track is stopped.
func (s *Source) onChangeAVSource(index int) {
	h := s.handles[index]
	kind := h.Format().Type()
	counterpart := media.TrackVideo
	if kind == media.TrackVideo {
		counterpart = media.TrackAudio
	}

	if err := h.Start(); err != nil {
		s.log.Error("track switch failed", "track", kind, "index", index, "error", err)
		s.notify(SourceError{Err: &media.TrackError{Track: kind, Op: "start", Err: err}})
		return
	}

	old := s.tracks[kind]
	s.tracks[kind] = track{index: index, handle: h}
	s.present[kind].Store(true)
	s.bufs[kind].SetFormat(h.Format())

	buf := s.bufs[kind]
	timeUs, ok := buf.LatestEnqueuedTime().Get()
	if !ok {
		timeUs, ok = buf.LatestDequeuedTime().Get()
	}
	if !ok {
		timeUs = s.audioTimeUs
		if kind == media.TrackVideo {
			timeUs = s.videoTimeUs
		}
	}

	actual := s.readBuffer(kind, timeUs, true, mo.Some(timeUs))
	s.readBuffer(counterpart, -1, true, mo.None[int64]())

	if old.handle != nil {
		if err := old.handle.Stop(); err != nil {
			s.log.Warn("track stop failed", "track", kind, "index", old.index, "error", err)
		}
	}
	s.log.Info("switched track", "track", kind, "from", old.index, "to", index, "time_us", actual)
}

func (s *Source) onTrackInfo(index int) (TrackInfo, error) {
	if index < 0 || index >= len(s.handles) {
		return TrackInfo{}, fmt.Errorf("track %d of %d: %w", index, len(s.handles), media.ErrBadIndex)
	}
	f := s.handles[index].Format()
	info := TrackInfo{
		Type:     f.Type(),
		MIME:     f.MIME,
		Language: f.Language,
	}
	if info.Language == "" {
		info.Language = "und"
	}
	if info.Type == media.TrackSubtitle {
		info.Autoselect = f.Autoselect
		info.Default = f.Default
		info.Forced = f.Forced
	}
	return info, nil
}
