package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/zsiec/mediaplay/internal/codec"
	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/mpegts"
	"github.com/zsiec/mediaplay/internal/source"
)

// tailSize is how much of the end of a file is demuxed to find the last
// timestamps.
const tailSize = 4000 * mpegts.PacketSize

type tsExtractor struct {
	ds     source.DataSource
	log    *slog.Logger
	pmtPID uint16
	// base is the earliest first timestamp of all tracks. Output times
	// are relative to it.
	base   mpegts.Timestamp
	tracks []*tsTrack
	meta   source.Metadata
}

func (e *tsExtractor) TrackCount() int               { return len(e.tracks) }
func (e *tsExtractor) Track(i int) source.MediaTrack { return e.tracks[i] }
func (e *tsExtractor) Metadata() source.Metadata     { return e.meta }

func supported(t mpegts.StreamType) bool {
	return t == mpegts.StreamH264 || t == mpegts.StreamH265 || t == mpegts.StreamADTS
}

func mimeFor(t mpegts.StreamType) string {
	switch t {
	case mpegts.StreamH264:
		return media.MIMEVideoAVC
	case mpegts.StreamH265:
		return media.MIMEVideoHEVC
	}
	return media.MIMEAudioAAC
}

// openTS demuxes the head of the stream until the program map and a
// format for every supported stream are known.
func openTS(ds source.DataSource, log *slog.Logger) (*tsExtractor, error) {
	e := &tsExtractor{ds: ds, log: log}
	dmx := mpegts.NewDemuxer(context.Background(), io.LimitReader(section(ds, 0), tsMetaSize))

	var (
		pmt     *mpegts.PMT
		wanted  []mpegts.ElementaryStream
		formats = make(map[uint16]*media.Format)
		rates   = make(map[uint16]float64)
		first   = make(map[uint16]mpegts.Timestamp)
	)
	for pmt == nil || len(formats) < len(wanted) || len(first) < len(wanted) {
		d, err := dmx.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("extractor: probe: %w: %w", media.ErrIO, err)
		}
		switch {
		case d.PMT != nil && pmt == nil:
			pmt, e.pmtPID = d.PMT, d.PID
			wanted = lo.Filter(pmt.Streams, func(es mpegts.ElementaryStream, _ int) bool {
				if !supported(es.Type) {
					log.Debug("skipping stream", "pid", es.PID, "type", es.Type)
					return false
				}
				return true
			})
		case d.PES != nil && pmt != nil:
			es, ok := lo.Find(wanted, func(es mpegts.ElementaryStream) bool { return es.PID == d.PID })
			if !ok {
				continue
			}
			if _, seen := first[d.PID]; !seen {
				if ts, ok := pts(d.PES); ok {
					first[d.PID] = ts
				}
			}
			if formats[d.PID] == nil {
				if f, fps := probeFormat(es.Type, d.PES.Data); f != nil {
					formats[d.PID], rates[d.PID] = f, fps
				}
			}
		}
	}
	if pmt == nil {
		return nil, fmt.Errorf("extractor: no program map in the first %d bytes: %w", tsMetaSize, media.ErrUnsupported)
	}
	if len(first) > 0 {
		e.base = lo.Min(lo.Values(first))
	}

	for _, es := range wanted {
		f := formats[es.PID]
		if f == nil {
			log.Warn("no codec parameters found", "pid", es.PID, "type", es.Type)
			f = media.NewFormat(mimeFor(es.Type))
		}
		if es.Language != "" {
			f.Language = es.Language
		}
		t := &tsTrack{
			ex:     e,
			es:     es,
			hevc:   es.Type == mpegts.StreamH265,
			audio:  es.Type.IsAudio(),
			format: f,
		}
		t.unwrap.Unwrap(e.base)
		if fps := rates[es.PID]; fps > 0 {
			t.frameUs = int64(1_000_000 / fps)
			e.meta.FrameRate = fps
		}
		e.tracks = append(e.tracks, t)
	}

	e.meta.MIME = MIMEContainerTS
	e.meta.DurationUs = media.UnknownDuration
	if ds.Size() > 0 && len(e.tracks) > 0 {
		e.scanDuration()
		e.meta.DurationUs = lo.Max(lo.Map(e.tracks, func(t *tsTrack, _ int) int64 { return t.format.DurationUs }))
	}
	log.Debug("opened transport stream", "pmt_pid", e.pmtPID, "tracks", len(e.tracks),
		"duration_us", e.meta.DurationUs)
	return e, nil
}

// probeFormat returns nil until data carries the codec parameters.
func probeFormat(t mpegts.StreamType, data []byte) (*media.Format, float64) {
	if t == mpegts.StreamADTS {
		frames, _ := codec.SplitADTS(data)
		if len(frames) == 0 {
			return nil, 0
		}
		return audioFormat(frames[0].Header), 0
	}
	hevc := t == mpegts.StreamH265
	f, sps, ok := videoFormat(codec.SplitAnnexB(data, hevc), hevc)
	if !ok {
		return nil, 0
	}
	return f, sps.FrameRate
}

func audioFormat(h codec.ADTSHeader) *media.Format {
	f := media.NewFormat(media.MIMEAudioAAC)
	f.SampleRate = h.SampleRate
	f.Channels = h.Channels
	f.CodecConfig = h.AudioSpecificConfig()
	return f
}

// videoFormat reads the first SPS in nalus. CodecConfig holds the parameter
// sets of the unit in Annex B form.
func videoFormat(nalus []codec.NALU, hevc bool) (*media.Format, codec.SPS, bool) {
	spsType, mime := byte(codec.AVCSPS), media.MIMEVideoAVC
	if hevc {
		spsType, mime = codec.HEVCSPS, media.MIMEVideoHEVC
	}
	n, ok := lo.Find(nalus, func(n codec.NALU) bool { return n.Type == spsType })
	if !ok {
		return nil, codec.SPS{}, false
	}
	parse := codec.ParseAVCSPS
	if hevc {
		parse = codec.ParseHEVCSPS
	}
	sps, err := parse(n.Data)
	if err != nil {
		return nil, codec.SPS{}, false
	}

	f := media.NewFormat(mime)
	f.Width, f.Height = sps.Width, sps.Height
	f.FrameRate = int(math.Round(sps.FrameRate))
	for _, n := range nalus {
		if isParameterSet(n.Type, hevc) {
			f.CodecConfig = append(f.CodecConfig, 0, 0, 0, 1)
			f.CodecConfig = append(f.CodecConfig, n.Data...)
		}
	}
	return f, sps, true
}

func isParameterSet(t byte, hevc bool) bool {
	if hevc {
		return t == codec.HEVCVPS || t == codec.HEVCSPS || t == codec.HEVCPPS
	}
	return t == codec.AVCSPS || t == codec.AVCPPS
}

// scanDuration demuxes the tail of the file and sets each track's duration
// to the end of its last unit.
func (e *tsExtractor) scanDuration() {
	size := e.ds.Size()
	off := max(size-tailSize, 0)
	off -= off % mpegts.PacketSize
	pids := lo.Map(e.tracks, func(t *tsTrack, _ int) uint16 { return t.es.PID })
	dmx := mpegts.NewDemuxer(context.Background(), section(e.ds, off),
		mpegts.WithOffset(off), mpegts.WithPMTPIDs(e.pmtPID), mpegts.WithPIDs(pids...))

	ends := make(map[uint16]int64)
	for {
		d, err := dmx.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.log.Warn("duration scan stopped", "error", err)
			}
			break
		}
		if d.PES == nil {
			continue
		}
		ts, ok := pts(d.PES)
		if !ok {
			continue
		}
		t, _ := lo.Find(e.tracks, func(t *tsTrack) bool { return t.es.PID == d.PID })
		end := e.sinceBase(ts) + t.span(d.PES.Data)
		ends[d.PID] = max(ends[d.PID], end)
	}
	for _, t := range e.tracks {
		if end, ok := ends[t.es.PID]; ok {
			t.format.DurationUs = end
		}
	}
}

// sinceBase converts a timestamp from anywhere in the stream, assuming
// less than half the 33-bit range has passed since base.
func (e *tsExtractor) sinceBase(ts mpegts.Timestamp) int64 {
	var u mpegts.Unwrapper
	u.Unwrap(e.base)
	return (u.Unwrap(ts) - e.base).Micros()
}

// section reads ds from off to its end. Live sources have no end.
func section(ds source.DataSource, off int64) *io.SectionReader {
	n := ds.Size() - off
	if ds.Size() < 0 {
		n = math.MaxInt64 - off
	}
	return io.NewSectionReader(ds, off, max(n, 0))
}

func pts(p *mpegts.PES) (mpegts.Timestamp, bool) {
	if v, ok := p.PTS.Get(); ok {
		return v, true
	}
	return p.DTS.Get()
}

type syncPoint struct {
	timeUs int64
	offset int64
}

// pesUnit is a PES unit of the track with its time on the output clock.
type pesUnit struct {
	offset int64
	timeUs int64
	sync   bool
	lost   bool
	data   []byte
	nalus  []codec.NALU
}

// tsTrack reads one elementary stream through a demuxer of its own, so
// tracks never wait on each other.
type tsTrack struct {
	ex      *tsExtractor
	es      mpegts.ElementaryStream
	hevc    bool
	audio   bool
	frameUs int64

	mu     sync.Mutex
	format *media.Format
	dmx    *mpegts.Demuxer
	unwrap mpegts.Unwrapper
	lastUs int64
	// held is returned again by the next nextPES call.
	held   *pesUnit
	frames []*media.AccessUnit
	rest   []byte
	// index lists sync points seen so far in increasing time.
	index []syncPoint
}

func (t *tsTrack) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dmx == nil {
		t.open(0)
	}
	return nil
}

func (t *tsTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dmx = nil
	t.held, t.frames, t.rest = nil, nil, nil
	return nil
}

func (t *tsTrack) Format() *media.Format {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format
}

// Read never blocks on a file. On a live source it waits for the data
// source, so NonBlocking has no effect.
func (t *tsTrack) Read(opts source.ReadOptions) (*media.AccessUnit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dmx == nil {
		t.open(0)
	}
	if target, ok := opts.Seek.Get(); ok {
		if err := t.seek(target, opts.Mode); err != nil {
			return nil, err
		}
	}
	for len(t.frames) == 0 {
		u, err := t.nextPES()
		if err != nil {
			return nil, err
		}
		if err := t.unpack(u); err != nil {
			return nil, err
		}
	}
	au := t.frames[0]
	t.frames = t.frames[1:]
	return au, nil
}

func (t *tsTrack) open(off int64) {
	t.held, t.frames, t.rest = nil, nil, nil
	t.dmx = mpegts.NewDemuxer(context.Background(), section(t.ex.ds, off),
		mpegts.WithOffset(off), mpegts.WithPMTPIDs(t.ex.pmtPID), mpegts.WithPIDs(t.es.PID))
}

// seek positions the demuxer so the next unit read is the sync point the
// mode asks for. Indexed points bound the scan.
func (t *tsTrack) seek(target int64, mode source.SeekMode) error {
	t.open(t.floor(target).offset)
	var prev *pesUnit
	for {
		u, err := t.nextPES()
		if err != nil {
			if media.IsEndOfStream(err) && prev != nil && mode != source.SeekNextSync {
				break
			}
			return err
		}
		if !u.sync {
			continue
		}
		if u.timeUs < target {
			prev = &u
			continue
		}
		if u.timeUs == target || prev == nil || mode == source.SeekNextSync ||
			(mode == source.SeekClosest && u.timeUs-target < target-prev.timeUs) {
			t.held = &u
			return nil
		}
		break
	}
	t.open(prev.offset)
	return nil
}

func (t *tsTrack) floor(timeUs int64) syncPoint {
	i := sort.Search(len(t.index), func(i int) bool { return t.index[i].timeUs > timeUs })
	if i == 0 {
		return syncPoint{}
	}
	return t.index[i-1]
}

func (t *tsTrack) remember(p syncPoint) {
	if n := len(t.index); n == 0 || p.timeUs > t.index[n-1].timeUs && p.offset > t.index[n-1].offset {
		t.index = append(t.index, p)
	}
}

func (t *tsTrack) nextPES() (pesUnit, error) {
	if u := t.held; u != nil {
		t.held = nil
		return *u, nil
	}
	for {
		d, err := t.dmx.Next()
		if errors.Is(err, io.EOF) {
			return pesUnit{}, media.ErrEndOfStream
		}
		if err != nil {
			return pesUnit{}, fmt.Errorf("extractor: pid %d: %w: %w", t.es.PID, media.ErrIO, err)
		}
		if d.PES == nil || d.PID != t.es.PID {
			continue
		}

		u := pesUnit{offset: d.Offset, lost: d.Discontinuity, data: d.PES.Data, timeUs: t.lastUs}
		if ts, ok := pts(d.PES); ok {
			u.timeUs = (t.unwrap.Unwrap(ts) - t.ex.base).Micros()
			t.lastUs = u.timeUs
		}
		if t.audio {
			u.sync = true
		} else {
			u.nalus = codec.SplitAnnexB(u.data, t.hevc)
			u.sync = d.RandomAccess || codec.IsRandomAccess(u.nalus, t.hevc)
		}
		if u.sync {
			t.remember(syncPoint{timeUs: u.timeUs, offset: u.offset})
		}
		return u, nil
	}
}

// unpack turns a unit into access units. A change of picture size or audio
// layout updates the format and holds the unit back for the next read.
func (t *tsTrack) unpack(u pesUnit) error {
	if t.audio {
		return t.unpackAudio(u)
	}
	if u.sync {
		if f, sps, ok := videoFormat(u.nalus, t.hevc); ok && (f.Width != t.format.Width || f.Height != t.format.Height) {
			t.ex.log.Info("video format changed", "pid", t.es.PID, "sps", sps.String(), "time_us", u.timeUs)
			f.Language, f.DurationUs = t.format.Language, t.format.DurationUs
			t.format = f
			t.held = &u
			return media.ErrFormatChanged
		}
	}
	au := media.NewAccessUnit(u.data, u.timeUs)
	au.IsSync = u.sync
	au.DurationUs = t.frameUs
	t.frames = append(t.frames, au)
	return nil
}

func (t *tsTrack) unpackAudio(u pesUnit) error {
	data := u.data
	if len(t.rest) > 0 && !u.lost {
		data = append(t.rest, u.data...)
	}
	frames, rest := codec.SplitADTS(data)
	if len(frames) == 0 {
		t.rest = append([]byte(nil), rest...)
		return nil
	}
	if h := frames[0].Header; h.SampleRate != t.format.SampleRate || h.Channels != t.format.Channels {
		t.ex.log.Info("audio format changed", "pid", t.es.PID, "sample_rate", h.SampleRate, "channels", h.Channels)
		f := audioFormat(h)
		f.Language, f.DurationUs = t.format.Language, t.format.DurationUs
		t.format = f
		t.held = &u
		return media.ErrFormatChanged
	}
	t.rest = append([]byte(nil), rest...)

	timeUs := u.timeUs
	for _, fr := range frames {
		au := media.NewAccessUnit(fr.Data[fr.Header.HeaderLength:], timeUs)
		au.IsSync = true
		au.DurationUs = fr.Header.DurationUs()
		t.frames = append(t.frames, au)
		timeUs += au.DurationUs
	}
	return nil
}

// span is the play time of one unit.
func (t *tsTrack) span(data []byte) int64 {
	if !t.audio {
		return t.frameUs
	}
	frames, _ := codec.SplitADTS(data)
	return lo.SumBy(frames, func(f codec.ADTSFrame) int64 { return f.Header.DurationUs() })
}
