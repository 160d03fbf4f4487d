package source

import (
	"fmt"

	"github.com/samber/mo"

	"github.com/zsiec/mediaplay/internal/media"
)

// onSeek seeks video to the sync point before timeUs, then anchors audio at
// the timestamp video actually landed on so both resume together.
func (s *Source) onSeek(timeUs int64) error {
	if s.stopRead {
		return fmt.Errorf("seek after stop: %w", media.ErrInvalidOperation)
	}
	s.seekTimeUs = timeUs

	if s.tracks[media.TrackVideo].handle != nil {
		timeUs = s.readBuffer(media.TrackVideo, timeUs, false, mo.Some(s.seekTimeUs))
	}
	if s.tracks[media.TrackAudio].handle != nil {
		s.readBuffer(media.TrackAudio, timeUs, false, mo.Some(s.seekTimeUs))
	}

	s.setPlaybackStatus(PlaybackStart, timeUs/1000)
	if !s.started {
		s.setPlaybackStatus(PlaybackPause, 0)
	}
	s.log.Debug("seek", "requested_us", s.seekTimeUs, "landed_us", timeUs)
	return nil
}
