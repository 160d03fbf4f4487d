package source

import (
	"time"

	"github.com/zsiec/mediaplay/internal/media"
)

func (s *Source) schedulePollBuffering() {
	s.box.PostDelayed(msgPollBuffering{gen: s.pollGen}, s.cfg.PollBufferingInterval)
}

func (s *Source) cancelPollBuffering() {
	s.pollGen++
}

// onPollBuffering samples the cache and drives the buffering notifications.
// Duration watermarks are used when a bitrate is known, byte watermarks when
// it is not.
func (s *Source) onPollBuffering(gen int) {
	if gen != s.pollGen || s.cached == nil {
		return
	}

	remaining, final := s.cached.ApproxDataRemaining()
	if final != nil {
		if media.IsEndOfStream(final) {
			s.notify(BufferingUpdate{Percent: 100})
		} else if !s.finalReported {
			s.finalReported = true
			s.log.Error("cache failed", "error", final)
			s.notify(SourceError{Err: final})
		}
		s.stopBuffering()
		return
	}

	bitrate := s.estimateBitrate()
	if bitrate > 0 {
		cached := time.Duration(remaining*8_000_000/bitrate) * time.Microsecond
		if d := s.durationUs.Load(); d > 0 {
			posUs := s.lastReadPositionUs() + cached.Microseconds()
			s.notify(BufferingUpdate{Percent: int(min(100*posUs/d, 100))})
		}

		high := s.cfg.HighWaterMark
		if maxCache := s.cached.MaxCacheSize(); maxCache > 0 {
			// A cache smaller than the high watermark could never reach it.
			high = min(high, time.Duration(maxCache*8_000_000/bitrate)*time.Microsecond)
		}
		switch {
		case cached < s.cfg.LowWaterMark:
			s.startBuffering()
		case cached > high:
			s.stopBuffering()
		}
	} else {
		switch {
		case remaining < s.cfg.LowWaterMarkBytes:
			s.startBuffering()
		case remaining > s.cfg.HighWaterMarkBytes:
			s.stopBuffering()
		}
	}
	s.schedulePollBuffering()
}

func (s *Source) estimateBitrate() int64 {
	if d := s.durationUs.Load(); d > 0 {
		if size := s.ds.Size(); size > 0 {
			return size * 8_000_000 / d
		}
	}
	return max(s.bitrate, 0)
}

func (s *Source) startBuffering() {
	if s.preparing || !s.started || s.underRun.Load() {
		return
	}
	s.underRun.Store(true)
	s.log.Info("buffering started")
	s.notify(BufferingStart{})
}

func (s *Source) stopBuffering() {
	if s.preparing {
		s.preparing = false
		s.notify(Prepared{})
		return
	}
	if s.underRun.Load() {
		s.underRun.Store(false)
		s.log.Info("buffering ended")
		s.notify(BufferingEnd{})
	}
}
