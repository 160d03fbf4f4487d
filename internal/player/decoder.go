package player

import (
	"errors"
	"fmt"

	"github.com/zsiec/mediaplay/internal/media"
)

func (p *Player) onDecoderNotify(m msgDecoder) {
	audio := m.audio
	i := idx(audio)
	if m.gen != p.decoderGen[i] {
		p.log.Debug("message from old decoder", "track", kindName(audio),
			"generation", m.gen, "current", p.decoderGen[i])
		switch ev := m.ev.(type) {
		case FillThisBuffer:
			ev.Reply(nil, media.ErrDiscontinuity)
		case DrainThisBuffer:
			ev.Reply()
		}
		return
	}

	switch ev := m.ev.(type) {
	case FillThisBuffer:
		err := p.feedDecoderInputData(audio, ev.Reply)
		if errors.Is(err, media.ErrWouldBlock) && p.src != nil && p.src.FeedMoreData() == nil {
			p.box.PostDelayed(m, p.cfg.FeedRetry)
		}

	case DrainThisBuffer:
		p.renderBuffer(audio, ev)

	case DecoderEOS:
		if ev.Err == nil || media.IsEndOfStream(ev.Err) {
			p.log.Debug("decoder eos", "track", kindName(audio))
		} else {
			p.log.Warn("decoder eos with error", "track", kindName(audio), "error", ev.Err)
		}
		if p.renderer != nil {
			p.renderer.QueueEOS(audio, ev.Err)
		}

	case FlushCompleted:
		p.handleFlushComplete(audio, true)
		p.finishFlushIfPossible()

	case OutputFormatChanged:
		if audio {
			p.openAudioSink(ev.Format)
		} else {
			p.updateVideoSize(ev.Format)
		}

	case ShutdownCompleted:
		p.log.Debug("decoder shut down", "track", kindName(audio))
		if p.flushing[i] != ShuttingDownDecoder {
			panic("player: decoder shutdown completed in state " + p.flushing[i].String())
		}
		p.decoders[i] = nil
		p.decoderGen[i]++
		p.flushing[i] = ShutDown
		p.finishFlushIfPossible()

	case DecoderError:
		p.onDecoderError(audio, ev.Err)
	}
}

// onDecoderError shuts the failed decoder down gracefully from whatever
// state it is in, then reports the error.
func (p *Player) onDecoderError(audio bool, err error) {
	if err == nil {
		err = fmt.Errorf("%s decoder failed: %w", kindName(audio), media.ErrIO)
	}
	i := idx(audio)
	p.log.Error("decoder error, shutting down", "track", kindName(audio),
		"status", p.flushing[i], "error", err)

	switch p.flushing[i] {
	case FlushNone:
		a, v := flushNone, flushShutdown
		if audio {
			a, v = flushShutdown, flushNone
		}
		p.deferred = append(p.deferred, flushDecoderAction{audio: a, video: v})
		p.processDeferredActions()
	case FlushingDecoder:
		// Shut down once the flush completes.
		p.flushing[i] = FlushingDecoderShutdown
	case FlushingDecoderShutdown, ShuttingDownDecoder:
	case Flushed:
		// Mid-seek.
		p.shutdownDecoder(audio)
	case ShutDown:
		p.finishFlushIfPossible()
	}
	p.notifyError(err)
}

// renderBuffer passes one decoded buffer to the renderer, or releases it
// right away while flushing or while output is being skipped.
func (p *Player) renderBuffer(audio bool, ev DrainThisBuffer) {
	i := idx(audio)
	if p.flushing[i] != FlushNone || p.renderer == nil {
		ev.Reply()
		return
	}
	timeUs := ev.Buffer.TimeUs
	if p.skipUntil[i] >= 0 {
		if timeUs < p.skipUntil[i] {
			p.stats[i].Dropped++
			ev.Reply()
			return
		}
		p.skipUntil[i] = -1
	}
	if !audio && p.cc != nil && p.cc.Selected() >= 0 {
		p.cc.Display(timeUs)
	}
	p.stats[i].Queued++
	p.renderer.QueueBuffer(audio, ev.Buffer, ev.Reply)
}

func (p *Player) updateVideoSize(f *media.Format) {
	if f == nil {
		return
	}
	p.notifyListener(MsgSetVideoSize, f.Width, f.Height)
}
