package player

import (
	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/source"
)

// FlushStatus tracks one decoder through a flush or shutdown.
type FlushStatus int

const (
	FlushNone FlushStatus = iota
	FlushingDecoder
	FlushingDecoderShutdown
	ShuttingDownDecoder
	Flushed
	ShutDown
)

func (s FlushStatus) String() string {
	switch s {
	case FlushNone:
		return "none"
	case FlushingDecoder:
		return "flushing"
	case FlushingDecoderShutdown:
		return "flushing-shutdown"
	case ShuttingDownDecoder:
		return "shutting-down"
	case Flushed:
		return "flushed"
	case ShutDown:
		return "shut-down"
	}
	return "invalid"
}

// MarshalText renders the status name in stats output.
func (s FlushStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// settled reports whether s no longer blocks deferred actions.
func (s FlushStatus) settled() bool {
	return s == FlushNone || s == Flushed || s == ShutDown
}

// flushDecoder starts flushing one decoder and its renderer queue. Scanning
// for new decoders is suspended until the flush settles.
func (p *Player) flushDecoder(audio, needShutdown bool, newFormat *media.Format) {
	i := idx(audio)
	dec := p.decoders[i]
	if dec == nil {
		p.log.Info("flush without decoder", "track", kindName(audio))
		return
	}
	if p.flushing[i] != FlushNone {
		p.log.Error("flush while not idle", "track", kindName(audio), "status", p.flushing[i])
	}

	p.scanGen++
	p.scanPending = false

	p.flushComplete[i] = [2]bool{}
	dec.SignalFlush(newFormat)
	if p.renderer != nil {
		p.renderer.Flush(audio)
	} else {
		p.flushComplete[i][0] = true
	}

	p.flushing[i] = FlushingDecoder
	if needShutdown {
		p.flushing[i] = FlushingDecoderShutdown
	}
	p.stats[i].Flushes++
	p.log.Debug("flushing decoder", "track", kindName(audio), "shutdown", needShutdown)
}

// handleFlushComplete records one half of a flush. Only when both the
// decoder and the renderer have finished does the kind move on.
func (p *Player) handleFlushComplete(audio, isDecoder bool) {
	i := idx(audio)
	p.flushComplete[i][boolIdx(isDecoder)] = true
	if !p.flushComplete[i][boolIdx(!isDecoder)] {
		return
	}

	switch p.flushing[i] {
	case FlushingDecoder:
		p.flushing[i] = Flushed
	case FlushingDecoderShutdown:
		p.log.Debug("initiating decoder shutdown", "track", kindName(audio))
		p.shutdownDecoder(audio)
	default:
		if isDecoder {
			panic("player: decoder flush completed in state " + p.flushing[i].String())
		}
	}
}

// shutdownDecoder asks the decoder to shut down. Secure video reads must be
// fenced off first.
func (p *Player) shutdownDecoder(audio bool) {
	i := idx(audio)
	if !audio && p.src != nil && p.flags.Has(source.FlagSecure) {
		p.src.Stop()
	}
	p.flushing[i] = ShuttingDownDecoder
	p.stats[i].Shutdowns++
	p.decoders[i].InitiateShutdown()
}

// finishFlushIfPossible resumes flushed decoders once neither kind is in an
// intermediate state and then runs the deferred actions.
func (p *Player) finishFlushIfPossible() {
	if !p.flushing[audioIdx].settled() || !p.flushing[videoIdx].settled() {
		return
	}
	p.log.Debug("flush settled",
		"audio", p.flushing[audioIdx], "video", p.flushing[videoIdx])

	p.agg.reset()

	if p.timeDiscontinuityPending {
		if p.renderer != nil {
			p.renderer.SignalTimeDiscontinuity()
		}
		p.timeDiscontinuityPending = false
	}

	for _, i := range []int{audioIdx, videoIdx} {
		if p.decoders[i] != nil && p.flushing[i] == Flushed {
			p.decoders[i].SignalResume()
		}
		p.flushing[i] = FlushNone
	}
	p.flushComplete = [2][2]bool{}

	p.processDeferredActions()
}

func boolIdx(b bool) int {
	if b {
		return 1
	}
	return 0
}
