package player

import (
	"errors"

	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/source"
)

func (p *Player) postScanSources() {
	if p.scanPending {
		return
	}
	p.box.Post(msgScanSources{gen: p.scanGen})
	p.scanPending = true
}

// onScanSources creates decoders for every output that has none yet and
// retries until both exist or the source runs dry.
func (p *Player) onScanSources(gen int) {
	if gen != p.scanGen {
		return
	}
	p.scanPending = false
	if p.src == nil {
		return
	}

	hadAny := p.decoders[audioIdx] != nil || p.decoders[videoIdx] != nil

	// Video first: its presence decides whether audio may be offloaded.
	if p.surface != nil {
		p.instantiateDecoder(false)
	}
	if p.sink != nil && p.decoders[audioIdx] == nil {
		if p.offload {
			p.tryOpenAudioSinkForOffload()
		}
		p.instantiateDecoder(true)
	}

	haveAny := p.decoders[audioIdx] != nil || p.decoders[videoIdx] != nil
	if !hadAny && haveAny && p.flags.Has(source.FlagDynamicDuration) {
		p.schedulePollDuration()
	}

	if err := p.src.FeedMoreData(); err != nil {
		if !haveAny {
			if media.IsEndOfStream(err) {
				p.notifyListener(MsgPlaybackComplete, 0, 0)
			} else {
				p.notifyError(err)
			}
		}
		return
	}

	if p.wantsDecoder(true) || p.wantsDecoder(false) {
		p.box.PostDelayed(msgScanSources{gen: p.scanGen}, p.cfg.ScanRetry)
		p.scanPending = true
	}
}

// wantsDecoder reports whether kind has an output but no decoder yet.
func (p *Player) wantsDecoder(audio bool) bool {
	i := idx(audio)
	if p.decoders[i] != nil || p.decoderErr[i] != nil {
		return false
	}
	if audio {
		return p.sink != nil
	}
	return p.surface != nil
}

// instantiateDecoder creates the decoder for kind. It returns
// media.ErrWouldBlock while the source has no format for it.
func (p *Player) instantiateDecoder(audio bool) error {
	i := idx(audio)
	if p.decoders[i] != nil {
		return nil
	}
	if p.decoderErr[i] != nil {
		return p.decoderErr[i]
	}
	f, ok := p.src.Format(p.ctx, audio).Get()
	if !ok {
		return media.ErrWouldBlock
	}
	f = f.Clone()

	cfg := DecoderConfig{Audio: audio, Format: f}
	if !audio {
		if p.cc == nil && p.opts.Captions != nil {
			p.cc = p.opts.Captions(CaptionEvents{
				Data:       func(au *media.AccessUnit) { p.box.Post(msgCaptionData{au: au}) },
				TrackAdded: func() { p.box.Post(msgCaptionTrackAdded{}) },
			})
		}
		f.Secure = f.Secure || p.flags.Has(source.FlagSecure)
		cfg.Surface = p.surface
	}

	p.decoderGen[i]++
	gen := p.decoderGen[i]
	cfg.Notify = func(ev DecoderEvent) {
		p.box.Post(msgDecoder{audio: audio, gen: gen, ev: ev})
	}

	dec, err := p.opts.Decoders(cfg)
	if err != nil {
		p.decoderErr[i] = err
		p.notifyError(err)
		return err
	}
	dec.Configure(f)
	p.decoders[i] = dec
	p.log.Info("decoder created", "track", kindName(audio), "mime", f.MIME, "generation", gen)
	return nil
}

func (p *Player) tryOpenAudioSinkForOffload() {
	if p.renderer == nil {
		return
	}
	f, ok := p.src.Format(p.ctx, true).Get()
	if !ok {
		return
	}
	hasVideo := p.src.Format(p.ctx, false).IsPresent()
	p.offload = p.renderer.OpenAudioSink(f, true, hasVideo)
	if !p.offload {
		p.log.Info("audio offload unavailable, using pcm")
	}
}

func (p *Player) openAudioSink(f *media.Format) {
	if p.renderer == nil {
		return
	}
	hasVideo := p.src != nil && p.src.Format(p.ctx, false).IsPresent()
	p.offload = p.renderer.OpenAudioSink(f, false, hasVideo)
}

func (p *Player) closeAudioSink() {
	if p.renderer != nil {
		p.renderer.CloseAudioSink()
	}
}

func (p *Player) schedulePollDuration() {
	p.box.Post(msgPollDuration{gen: p.pollDurationGen})
}

func (p *Player) cancelPollDuration() {
	p.pollDurationGen++
}

func (p *Player) onPollDuration(gen int) {
	if gen != p.pollDurationGen || p.src == nil {
		return
	}
	if d := p.src.Duration(); d >= 0 && p.driver != nil {
		p.driver.DurationUpdate(d)
	}
	p.box.PostDelayed(msgPollDuration{gen: gen}, p.cfg.PollDurationInterval)
}

func isDiscontinuity(err error) bool {
	return errors.Is(err, media.ErrDiscontinuity)
}
