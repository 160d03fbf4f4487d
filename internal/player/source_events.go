package player

import (
	"github.com/samber/mo"

	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/source"
)

func (p *Player) onSourceNotify(m msgSource) {
	switch ev := m.ev.(type) {
	case source.Prepared:
		if p.src == nil {
			// The source was reset while it was preparing.
			return
		}
		if p.driver != nil {
			// Duration goes first so it is set when prepare completes.
			if d := p.src.Duration(); d >= 0 {
				p.driver.DurationUpdate(d)
			}
			p.driver.PrepareCompleted(ev.Err)
		}

	case source.FlagsChanged:
		if p.driver != nil {
			if !ev.Flags.Has(source.FlagCanSeek) {
				p.notifyListener(MsgInfo, InfoNotSeekable, 0)
			}
			p.driver.FlagsChanged(ev.Flags)
		}
		was := p.flags.Has(source.FlagDynamicDuration)
		now := ev.Flags.Has(source.FlagDynamicDuration)
		switch {
		case was && !now:
			p.cancelPollDuration()
		case !was && now && (p.decoders[audioIdx] != nil || p.decoders[videoIdx] != nil):
			p.schedulePollDuration()
		}
		p.flags = ev.Flags

	case source.VideoSizeChanged:
		p.updateVideoSize(ev.Format)

	case source.BufferingUpdate:
		p.notifyListener(MsgBufferingUpdate, ev.Percent, 0)

	case source.BufferingStart:
		p.notifyListener(MsgInfo, InfoBufferingStart, 0)

	case source.BufferingEnd:
		p.notifyListener(MsgInfo, InfoBufferingEnd, 0)

	case source.SubtitleData:
		p.sendSubtitleData(ev.Unit, 0)

	case source.TimedTextData:
		p.onTimedText(m, ev.Unit)

	case source.QueueDecoderShutdown:
		p.queueDecoderShutdown(ev.Audio, ev.Video, ev.Reply)

	case source.DrmNoLicense:
		p.notifyError(media.ErrDrmNoLicense)

	case source.DurationUpdate:
		if p.driver != nil {
			p.driver.DurationUpdate(ev.DurationUs)
		}

	case source.SourceError:
		p.notifyError(ev.Err)
	}
}

// onTimedText holds a timed-text unit until playback reaches its time. A
// re-posted unit carries the generation it was held under, so a seek or a
// track change drops it.
func (p *Player) onTimedText(m msgSource, au *media.AccessUnit) {
	if gen, held := m.gen.Get(); held && gen != p.timedTextGen {
		return
	}
	var posUs int64
	if p.renderer != nil {
		if pos, err := p.renderer.Position(); err == nil {
			posUs = pos
		}
	}
	if posUs < au.TimeUs {
		m.gen = mo.Some(p.timedTextGen)
		p.box.PostDelayed(m, durationUs(au.TimeUs-posUs))
		return
	}
	p.notify(Notification{Code: MsgTimedText, Payload: textPayload(au, 0)})
}

func (p *Player) sendSubtitleData(au *media.AccessUnit, baseIndex int) {
	p.notify(Notification{Code: MsgSubtitleData, Payload: textPayload(au, baseIndex)})
}

func (p *Player) queueDecoderShutdown(audio, video bool, reply func()) {
	cmd := func(b bool) flushCommand {
		if b {
			return flushShutdown
		}
		return flushNone
	}
	p.deferred = append(p.deferred,
		flushDecoderAction{audio: cmd(audio), video: cmd(video)},
		simpleAction{name: "scan-sources", fn: (*Player).performScanSources},
		postMessageAction{fn: reply},
	)
	p.processDeferredActions()
}
