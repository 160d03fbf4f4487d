package player

import (
	"errors"

	"github.com/samber/mo"

	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/trackbuffer"
)

// aggregator packs small offloaded-audio units into one larger buffer. A
// unit that cannot join the current aggregate is parked as pending and
// leads the next one.
type aggregator struct {
	buf        *media.AccessUnit
	pending    *media.AccessUnit
	pendingErr error
	hasPending bool
}

func (a *aggregator) reset() {
	*a = aggregator{}
}

func (a *aggregator) park(au *media.AccessUnit, err error) {
	a.pending, a.pendingErr, a.hasPending = au, err, true
}

func (a *aggregator) takePending() (*media.AccessUnit, error) {
	au, err := a.pending, a.pendingErr
	a.pending, a.pendingErr, a.hasPending = nil, nil, false
	return au, err
}

// absorb appends au to the aggregate. It returns false and parks au when au
// does not fit, or when it carries a timestamp that the untimed aggregate
// started without.
func (a *aggregator) absorb(au *media.AccessUnit) bool {
	big := a.buf
	room := cap(big.Data) - len(big.Data)
	if au.Size() > room || (!big.HasTime && len(big.Data) > 0 && au.HasTime) {
		a.park(au, nil)
		return false
	}
	if len(big.Data) == 0 && au.HasTime {
		big.TimeUs, big.HasTime = au.TimeUs, true
	}
	big.Data = append(big.Data, au.Data...)
	big.DurationUs += au.DurationUs
	return true
}

// feedDecoderInputData answers one FillThisBuffer. It returns
// media.ErrWouldBlock, without replying, when the source has nothing yet.
func (p *Player) feedDecoderInputData(audio bool, reply func(*media.AccessUnit, error)) error {
	i := idx(audio)
	if p.flushing[i] != FlushNone || p.src == nil {
		reply(nil, media.ErrDiscontinuity)
		return nil
	}

	aggregate := audio && p.offload
	var au *media.AccessUnit
	for {
		var err error
		if audio && p.agg.hasPending {
			au, err = p.agg.takePending()
		} else {
			au, err = p.src.DequeueAccessUnit(audio)
		}

		if errors.Is(err, media.ErrWouldBlock) {
			return err
		}
		if err != nil {
			if aggregate && p.agg.buf != nil {
				// Send what we have; the status leads the next request.
				p.agg.park(au, err)
				au = nil
				break
			}
			if isDiscontinuity(err) {
				return p.handleDiscontinuity(audio, err, reply)
			}
			reply(nil, err)
			return nil
		}

		p.stats[i].Fed++
		if !aggregate {
			break
		}
		if p.agg.buf == nil && au.Size() < p.cfg.AggregateBytes/3 {
			p.agg.buf = &media.AccessUnit{Data: make([]byte, 0, p.cfg.AggregateBytes)}
		}
		if p.agg.buf == nil {
			break
		}
		if !p.agg.absorb(au) {
			au = nil
			break
		}
	}

	if !audio && p.cc != nil && au != nil {
		p.cc.Decode(au)
	}
	if aggregate && p.agg.buf != nil {
		out := p.agg.buf
		p.agg.buf = nil
		reply(out, nil)
		return nil
	}
	reply(au, nil)
	return nil
}

// handleDiscontinuity reacts to a marker read from the source. A format
// change the decoder cannot absorb replaces the decoder, a time change
// flushes it, and a seamless change only updates its format. A resume time
// suppresses rendering below it whatever the kind.
func (p *Player) handleDiscontinuity(audio bool, err error, reply func(*media.AccessUnit, error)) error {
	i := idx(audio)
	kind := trackbuffer.KindTime
	resumeAt := mo.None[int64]()
	var disc *trackbuffer.Discontinuity
	if errors.As(err, &disc) {
		kind, resumeAt = disc.Kind, disc.ResumeAt
	}
	formatChange := kind.IsFormatChange()
	timeChange := kind.IsTimeChange()
	p.log.Info("discontinuity", "track", kindName(audio),
		"format_change", formatChange, "time_change", timeChange)

	p.skipUntil[i] = -1
	if at, ok := resumeAt.Get(); ok {
		p.log.Info("suppressing rendering", "track", kindName(audio), "until_us", at)
		p.skipUntil[i] = at
	}
	p.timeDiscontinuityPending = p.timeDiscontinuityPending || timeChange

	var newFormat *media.Format
	if f, ok := p.src.Format(p.ctx, audio).Get(); ok {
		newFormat = f.Clone()
	}
	seamless := false
	if formatChange {
		seamless = newFormat != nil && p.decoders[i].SupportsSeamlessFormatChange(newFormat)
		formatChange = !seamless
	}

	// One rescan per discontinuity: only the first kind to hit it finds
	// both decoders idle.
	if (formatChange || timeChange) &&
		p.flushing[audioIdx] == FlushNone && p.flushing[videoIdx] == FlushNone {
		scan := simpleAction{name: "scan-sources", fn: (*Player).performScanSources}
		p.deferred = append([]action{scan}, p.deferred...)
	}

	switch {
	case formatChange:
		p.flushDecoder(audio, true, nil)
	case timeChange:
		p.flushDecoder(audio, false, newFormat)
	case seamless:
		p.decoders[i].SignalUpdateFormat(newFormat)
	default:
		// This stream is unaffected. Seek markers land here since the
		// seek already flushed.
		return media.ErrWouldBlock
	}
	reply(nil, media.ErrDiscontinuity)
	return nil
}
