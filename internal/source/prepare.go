package source

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zsiec/mediaplay/internal/media"
)

func (s *Source) onPrepare() {
	if s.prepareDeadline.IsZero() {
		s.prepareDeadline = time.Now().Add(s.cfg.PrefillTimeout)
		if s.cached != nil {
			s.schedulePollBuffering()
		}
	}

	if err := s.prefill(); err != nil {
		if errors.Is(err, media.ErrTryAgain) && time.Now().Before(s.prepareDeadline) {
			s.box.PostDelayed(msgPrepare{}, s.cfg.PrefillRetry)
			return
		}
		s.log.Error("prefill failed", "error", err)
		s.failPrepare(fmt.Errorf("prefill: %w", err))
		return
	}

	if err := s.initFromDataSource(); err != nil {
		s.log.Error("init from data source failed", "error", err)
		s.failPrepare(err)
		return
	}

	if h := s.tracks[media.TrackVideo].handle; h != nil {
		s.notify(VideoSizeChanged{Format: h.Format().Clone()})
	}

	flags := FlagCanPause | FlagCanSeekBackward | FlagCanSeekForward | FlagCanSeek
	if s.secure.Load() {
		flags |= FlagSecure
	}
	if s.opts.Live {
		flags |= FlagDynamicDuration
	}
	s.notify(FlagsChanged{Flags: flags})

	if s.cached != nil {
		// Prepared is sent by the buffering poll once enough is cached.
		s.preparing = true
		return
	}
	s.notify(Prepared{})
}

func (s *Source) failPrepare(err error) {
	s.metaSize = -1
	s.sniffedMIME = ""
	s.cancelPollBuffering()
	s.notify(Prepared{Err: err})
}

// prefill returns media.ErrTryAgain until a cached source holds enough data
// to open the container without blocking on the network.
func (s *Source) prefill() error {
	if s.cached == nil {
		return nil
	}
	if ct, ok := s.ds.(ContentTyper); ok && strings.HasPrefix(strings.ToLower(ct.ContentType()), "audio/") {
		// Audio-only streams start without prefill so low bitrates play promptly.
		return nil
	}

	remaining, final := s.cached.ApproxDataRemaining()
	if final != nil || (s.metaSize >= 0 && remaining >= s.metaSize) {
		return nil
	}

	if s.metaSize < 0 && remaining >= s.cfg.MinBytesForSniffing {
		s.metaSize = s.cfg.DefaultMetaSize
		if s.opts.Sniff != nil {
			mime, metaSize, err := s.opts.Sniff(s.ds)
			if err != nil {
				return fmt.Errorf("sniff: %w", err)
			}
			s.sniffedMIME = mime
			if metaSize >= 0 && metaSize < s.cfg.DefaultMetaSize {
				s.metaSize = metaSize
			}
		}
		s.log.Debug("sniffed container", "mime", s.sniffedMIME, "meta_size", s.metaSize)
	}
	return media.ErrTryAgain
}

func (s *Source) initFromDataSource() error {
	if s.opts.Extractors == nil {
		return fmt.Errorf("no extractor: %w", media.ErrUnsupported)
	}
	ex, err := s.opts.Extractors(s.ds, s.sniffedMIME)
	if err != nil {
		return fmt.Errorf("open extractor: %w", err)
	}

	meta := ex.Metadata()
	if ms, ok := s.ds.(MetadataSource); ok {
		if tags, err := ms.Metadata(); err == nil {
			meta = mergeMetadata(meta, tags)
		} else {
			s.log.Debug("no file tags", "error", err)
		}
	}

	n := ex.TrackCount()
	if n == 0 {
		return fmt.Errorf("container has no tracks: %w", media.ErrUnsupported)
	}

	duration := meta.DurationUs
	var bitrate int64
	for i := 0; i < n; i++ {
		h := ex.Track(i)
		f := h.Format()
		switch f.Type() {
		case media.TrackAudio, media.TrackVideo:
			kind := f.Type()
			if s.tracks[kind].handle == nil {
				s.tracks[kind] = track{index: i, handle: h}
				s.bufs[kind].Clear()
				s.bufs[kind].SetFormat(f)
				s.present[kind].Store(true)
				if kind == media.TrackVideo && f.Secure {
					s.secure.Store(true)
				}
			}
		}
		s.handles = append(s.handles, h)

		if f.DurationUs > duration {
			duration = f.DurationUs
		}
		if bitrate >= 0 {
			if f.Bitrate > 0 {
				bitrate += f.Bitrate
			} else {
				bitrate = -1
			}
		}
	}
	if !s.present[media.TrackAudio].Load() && !s.present[media.TrackVideo].Load() {
		return fmt.Errorf("no audio or video track: %w", media.ErrUnsupported)
	}

	s.extractor = ex
	s.meta.Store(&meta)
	if duration > 0 {
		s.durationUs.Store(duration)
	}
	s.bitrate = bitrate
	s.log.Info("prepared container",
		"tracks", n,
		"duration_us", duration,
		"bitrate", bitrate,
		"secure", s.secure.Load())
	return nil
}

func mergeMetadata(base, tags Metadata) Metadata {
	if tags.Title != "" {
		base.Title = tags.Title
	}
	if tags.Artist != "" {
		base.Artist = tags.Artist
	}
	if tags.Album != "" {
		base.Album = tags.Album
	}
	if tags.Genre != "" {
		base.Genre = tags.Genre
	}
	if tags.Year != 0 {
		base.Year = tags.Year
	}
	if base.MIME == "" {
		base.MIME = tags.MIME
	}
	if tags.DurationUs > base.DurationUs {
		base.DurationUs = tags.DurationUs
	}
	return base
}
