package extractor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/zsiec/mediaplay/internal/codec"
	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/source"
)

type adtsExtractor struct {
	track *adtsTrack
}

func (e *adtsExtractor) TrackCount() int             { return 1 }
func (e *adtsExtractor) Track(int) source.MediaTrack { return e.track }
func (e *adtsExtractor) Metadata() source.Metadata {
	return source.Metadata{MIME: MIMEContainerADTS, DurationUs: e.track.Format().DurationUs}
}

type frameRef struct {
	offset int64
	length int
	header int
}

// adtsTrack reads a raw ADTS file. Every frame is a sync point, so seeking
// is a matter of counting frames.
type adtsTrack struct {
	ds  source.DataSource
	log *slog.Logger
	// rate is fixed by the first frame.
	rate int64

	mu     sync.Mutex
	format *media.Format
	// frames lists the frames found so far; next is the offset after the
	// last one.
	frames []frameRef
	next   int64
	done   bool
	pos    int
}

func openADTS(ds source.DataSource, log *slog.Logger) (*adtsExtractor, error) {
	head := make([]byte, 10)
	n, _ := ds.ReadAt(head, 0)
	start := id3Size(head[:n])

	h, err := readADTSHeader(ds, start)
	if err != nil {
		return nil, fmt.Errorf("extractor: first ADTS frame: %w: %w", media.ErrMalformed, err)
	}
	t := &adtsTrack{
		ds:     ds,
		log:    log,
		rate:   int64(h.SampleRate),
		format: audioFormat(h),
		next:   start,
	}
	if size := ds.Size(); size >= 0 {
		if err := t.scan(math.MaxInt); err != nil {
			return nil, err
		}
		t.format.DurationUs = t.frameTime(len(t.frames))
		if t.format.DurationUs > 0 {
			t.format.Bitrate = (size - start) * 8 * 1_000_000 / t.format.DurationUs
		}
	}
	log.Debug("opened ADTS stream", "sample_rate", h.SampleRate, "channels", h.Channels,
		"frames", len(t.frames), "duration_us", t.format.DurationUs)
	return &adtsExtractor{track: t}, nil
}

func readADTSHeader(ds source.DataSource, off int64) (codec.ADTSHeader, error) {
	var b [9]byte
	n, err := ds.ReadAt(b[:], off)
	if n < 7 {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return codec.ADTSHeader{}, err
	}
	return codec.ParseADTSHeader(b[:n])
}

// scan indexes frames until frame i is known or the data ends.
func (t *adtsTrack) scan(i int) error {
	for !t.done && len(t.frames) <= i {
		h, err := readADTSHeader(t.ds, t.next)
		switch {
		case errors.Is(err, io.ErrUnexpectedEOF):
			t.done = true
			return nil
		case errors.Is(err, codec.ErrNoSync):
			t.log.Warn("lost ADTS sync", "offset", t.next, "frames", len(t.frames))
			t.done = true
			return nil
		case err != nil:
			return fmt.Errorf("extractor: ADTS frame at %d: %w: %w", t.next, media.ErrIO, err)
		}
		t.frames = append(t.frames, frameRef{offset: t.next, length: h.FrameLength, header: h.HeaderLength})
		t.next += int64(h.FrameLength)
	}
	return nil
}

func (t *adtsTrack) frameTime(i int) int64 {
	return int64(i) * codec.SamplesPerFrame * 1_000_000 / t.rate
}

// frameAt maps a time to a frame number according to mode.
func (t *adtsTrack) frameAt(timeUs int64, mode source.SeekMode) int {
	if timeUs <= 0 {
		return 0
	}
	num := timeUs * t.rate
	den := int64(codec.SamplesPerFrame) * 1_000_000
	switch mode {
	case source.SeekNextSync:
		return int((num + den - 1) / den)
	case source.SeekClosest:
		return int((num + den/2) / den)
	}
	return int(num / den)
}

func (t *adtsTrack) Start() error { return nil }

func (t *adtsTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos = 0
	return nil
}

func (t *adtsTrack) Format() *media.Format {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format
}

func (t *adtsTrack) Read(opts source.ReadOptions) (*media.AccessUnit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if target, ok := opts.Seek.Get(); ok {
		t.pos = t.frameAt(target, opts.Mode)
	}
	if err := t.scan(t.pos); err != nil {
		return nil, err
	}
	if t.pos >= len(t.frames) {
		return nil, media.ErrEndOfStream
	}

	f := t.frames[t.pos]
	buf := make([]byte, f.length)
	if n, err := t.ds.ReadAt(buf, f.offset); n < len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			// Truncated last frame.
			return nil, media.ErrEndOfStream
		}
		return nil, fmt.Errorf("extractor: ADTS frame at %d: %w: %w", f.offset, media.ErrIO, err)
	}
	au := media.NewAccessUnit(buf[f.header:], t.frameTime(t.pos))
	au.DurationUs = t.frameTime(1)
	au.IsSync = true
	t.pos++
	return au, nil
}
