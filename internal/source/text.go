package source

import (
	"time"

	"github.com/samber/mo"

	"github.com/zsiec/mediaplay/internal/media"
)

// onFetchText reads the text unit nearest to the media time just handed to
// the player and schedules its delivery.
func (s *Source) onFetchText(m msgFetchText) {
	if m.gen != s.fetchGen[m.kind].Load() {
		return
	}
	if ok, _ := s.bufs[m.kind].HasAvailable(); ok {
		return
	}

	subTimeUs := s.readBuffer(m.kind, m.timeUs, false, mo.None[int64]())
	delay := time.Duration(subTimeUs-m.timeUs) * time.Microsecond
	if m.kind == media.TrackSubtitle {
		delay -= s.cfg.SubtitleLead
	}
	s.box.PostDelayed(msgSendText{kind: m.kind, gen: m.gen}, max(delay, 0))
}

// onSendText delivers the head text unit and schedules the next one at its
// own timestamp.
func (s *Source) onSendText(m msgSendText) {
	if m.gen != s.fetchGen[m.kind].Load() {
		return
	}
	buf := s.bufs[m.kind]
	subTimeUs, ok := buf.PeekNextTimestamp().Get()
	if !ok {
		return
	}

	nextSubTimeUs := s.readBuffer(m.kind, -1, false, mo.None[int64]())

	au, err := buf.Dequeue()
	if err != nil {
		return
	}
	if m.kind == media.TrackSubtitle {
		s.notify(SubtitleData{Unit: au})
	} else {
		s.notify(TimedTextData{Unit: au})
	}

	delay := time.Duration(nextSubTimeUs-subTimeUs) * time.Microsecond
	s.box.PostDelayed(m, max(delay, 0))
}
