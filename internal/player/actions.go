package player

import (
	"fmt"
)

// action is work that must wait until no decoder is flushing. The set is
// closed: processDeferredActions switches over the types below.
type action interface {
	deferredAction()
}

type flushCommand int

const (
	flushNone flushCommand = iota
	flushOnly
	flushShutdown
)

type flushDecoderAction struct {
	audio, video flushCommand
}

type seekAction struct {
	timeUs int64
	notify bool
}

type setSurfaceAction struct {
	surface Surface
}

// postMessageAction runs a callback supplied by another component.
type postMessageAction struct {
	fn func()
}

type simpleAction struct {
	name string
	fn   func(*Player)
}

func (flushDecoderAction) deferredAction() {}
func (seekAction) deferredAction()         {}
func (setSurfaceAction) deferredAction()   {}
func (postMessageAction) deferredAction()  {}
func (simpleAction) deferredAction()       {}

func actionName(a action) string {
	if s, ok := a.(simpleAction); ok {
		return s.name
	}
	return fmt.Sprintf("%T", a)
}

// processDeferredActions runs queued actions in order until one of them
// starts a flush.
func (p *Player) processDeferredActions() {
	for len(p.deferred) > 0 {
		if p.flushing[audioIdx] != FlushNone || p.flushing[videoIdx] != FlushNone {
			return
		}
		a := p.deferred[0]
		p.deferred = p.deferred[1:]
		p.log.Debug("deferred action", "action", actionName(a))
		switch a := a.(type) {
		case flushDecoderAction:
			p.performDecoderFlush(a.audio, a.video)
		case seekAction:
			p.performSeek(a.timeUs, a.notify)
		case setSurfaceAction:
			p.performSetSurface(a.surface)
		case postMessageAction:
			if a.fn != nil {
				a.fn()
			}
		case simpleAction:
			a.fn(p)
		default:
			panic(fmt.Sprintf("player: unknown deferred action %T", a))
		}
	}
}

func (p *Player) performDecoderFlush(audio, video flushCommand) {
	hasAudio := audio != flushNone && p.decoders[audioIdx] != nil
	hasVideo := video != flushNone && p.decoders[videoIdx] != nil
	if !hasAudio && !hasVideo {
		return
	}
	p.timeDiscontinuityPending = true
	if hasAudio {
		p.flushDecoder(true, audio == flushShutdown, nil)
	}
	if hasVideo {
		p.flushDecoder(false, video == flushShutdown, nil)
	}
}

func (p *Player) performSeek(timeUs int64, notify bool) {
	if p.src == nil {
		if p.decoders[audioIdx] != nil || p.decoders[videoIdx] != nil {
			panic("player: decoders present without a source")
		}
		return
	}
	if err := p.src.SeekTo(p.ctx, timeUs); err != nil {
		p.log.Warn("seek failed", "time_us", timeUs, "error", err)
	}
	p.timedTextGen++
	if p.cc != nil {
		p.cc.Flush()
	}
	if notify && p.driver != nil {
		p.driver.SeekCompleted()
	}
}

func (p *Player) performSetSurface(s Surface) {
	p.surface = s
	p.log.Info("surface set", "surface", s)
	if p.driver != nil {
		p.driver.SetSurfaceCompleted()
	}
}

func (p *Player) performScanSources() {
	if !p.started {
		return
	}
	if p.decoders[audioIdx] == nil || p.decoders[videoIdx] == nil {
		p.postScanSources()
	}
}

func (p *Player) performReset() {
	if p.decoders[audioIdx] != nil || p.decoders[videoIdx] != nil {
		panic("player: reset with live decoders")
	}
	p.cancelPollDuration()

	p.scanGen++
	p.scanPending = false

	if p.renderer != nil {
		p.renderer.Close()
		p.renderer = nil
	}
	p.rendererGen++

	if p.src != nil {
		p.src.Stop()
		p.src.Disconnect()
		p.src = nil
	}
	p.sourceStarted = false
	p.started = false
	p.paused = false
	p.resetting = false
	p.log.Info("reset")

	if p.driver != nil {
		p.driver.ResetCompleted()
	}
}
