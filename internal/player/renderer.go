package player

import (
	"github.com/zsiec/mediaplay/internal/media"
)

func (p *Player) onRendererNotify(m msgRenderer) {
	if m.gen != p.rendererGen {
		p.log.Debug("message from old renderer", "generation", m.gen, "current", p.rendererGen)
		return
	}

	switch ev := m.ev.(type) {
	case RendererEOS:
		p.eos[idx(ev.Audio)] = true
		if ev.Err != nil && !media.IsEndOfStream(ev.Err) {
			p.notifyError(ev.Err)
		}
		p.log.Debug("renderer eos", "track", kindName(ev.Audio))
		if (p.eos[audioIdx] || p.decoders[audioIdx] == nil) &&
			(p.eos[videoIdx] || p.decoders[videoIdx] == nil) {
			p.notifyListener(MsgPlaybackComplete, 0, 0)
		}

	case RendererFlushComplete:
		p.handleFlushComplete(ev.Audio, false)
		p.finishFlushIfPossible()

	case VideoRenderingStart:
		p.notifyListener(MsgInfo, InfoRenderingStart, 0)

	case MediaRenderingStart:
		p.notifyListener(MsgStarted, 0, 0)

	case AudioOffloadTearDown:
		p.onOffloadTearDown(ev)
	}
}

// onOffloadTearDown drops the offloaded audio path and reseeks so a PCM
// decoder can continue from the reported position.
func (p *Player) onOffloadTearDown(ev AudioOffloadTearDown) {
	p.log.Info("tearing down audio offload", "position_us", ev.PositionUs, "reason", ev.Reason)
	p.closeAudioSink()
	if dec := p.decoders[audioIdx]; dec != nil {
		// Its completion arrives with a stale generation and is ignored.
		dec.InitiateShutdown()
	}
	p.decoders[audioIdx] = nil
	p.decoderGen[audioIdx]++
	p.agg.reset()

	p.renderer.Flush(true)
	if p.decoders[videoIdx] != nil {
		p.renderer.Flush(false)
	}
	p.offload = false

	p.performSeek(ev.PositionUs, false)
	if ev.Reason == TearDownError {
		p.instantiateDecoder(true)
	}
}
