// Package captions turns CEA-608 and CEA-708 caption data carried in video
// SEI messages into subtitle tracks. Each 608 channel and 708 service that
// shows up becomes its own track, in order of appearance.
//
// A Decoder is driven from a single goroutine, the player's.
package captions

import (
	"fmt"
	"log/slog"

	"github.com/samber/lo"
	"github.com/zsiec/ccx"

	"github.com/zsiec/mediaplay/internal/codec"
	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/player"
	"github.com/zsiec/mediaplay/internal/source"
)

// maxPending bounds the cues held for display.
const maxPending = 64

// Channel numbers follow the CEA-608 CC1 to CC4 numbering. 708 services
// are numbered after them, so service 1 is channel 7.
const serviceBase = 6

type cue struct {
	timeUs int64
	track  int
	text   string
}

// Decoder implements player.CaptionDecoder.
type Decoder struct {
	ev  player.CaptionEvents
	log *slog.Logger

	dec608   map[int]*ccx.CEA608Decoder
	svc708   map[int]*ccx.CEA708Service
	dtvcc    []byte
	channels []int
	selected int
	pending  []cue

	// Repeated control codes are sent twice per frame pair and must be
	// acted on once.
	lastCtrl     [2][2]byte
	lastWasCtrl  [2]bool
	lastCtrlUnit [2]int64
	units        int64
}

// Factory returns a player.CaptionFactory.
func Factory(log *slog.Logger) player.CaptionFactory {
	return func(ev player.CaptionEvents) player.CaptionDecoder { return New(ev, log) }
}

// New returns a decoder that reports through ev.
func New(ev player.CaptionEvents, log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	d := &Decoder{
		ev:       ev,
		log:      log.With("component", "captions"),
		selected: -1,
	}
	d.reset()
	return d
}

func (d *Decoder) reset() {
	d.dec608 = map[int]*ccx.CEA608Decoder{}
	for ch := 1; ch <= 4; ch++ {
		d.dec608[ch] = ccx.NewCEA608Decoder()
	}
	d.svc708 = map[int]*ccx.CEA708Service{}
	for svc := 1; svc <= 6; svc++ {
		d.svc708[svc] = ccx.NewCEA708Service()
	}
	d.dtvcc = d.dtvcc[:0]
	d.lastWasCtrl = [2]bool{}
}

// Decode scans the SEI NAL units of one video access unit. Both H.264 and
// H.265 framing are tried.
func (d *Decoder) Decode(au *media.AccessUnit) {
	if au == nil || len(au.Data) == 0 {
		return
	}
	d.units++
	for _, n := range seis(au.Data) {
		cd := ccx.ExtractCaptions(n.Data)
		if cd == nil {
			continue
		}
		for _, pair := range cd.CC608Pairs {
			d.decode608(au.TimeUs, int(pair.Field), pair.Channel, pair.Data[0], pair.Data[1])
		}
		for _, t := range cd.DTVCC {
			if t.Start {
				d.drainDTVCC(au.TimeUs)
				d.dtvcc = d.dtvcc[:0]
			}
			d.dtvcc = append(d.dtvcc, t.Data[0], t.Data[1])
		}
	}
}

// seis returns the SEI units of an access unit whatever its codec. An
// H.264 SEI header byte is 0x06; an H.265 prefix or suffix SEI starts
// with 0x4E or 0x50.
func seis(data []byte) []codec.NALU {
	avc := lo.Filter(codec.SplitAnnexB(data, false), func(n codec.NALU, _ int) bool {
		return n.Data[0] == 0x06
	})
	if len(avc) > 0 {
		return avc
	}
	return lo.Filter(codec.SplitAnnexB(data, true), func(n codec.NALU, _ int) bool {
		return codec.IsSEI(n, true)
	})
}

func (d *Decoder) decode608(timeUs int64, field, channel int, cc1, cc2 byte) {
	f := field & 1
	if cc1 >= 0x10 && cc1 <= 0x1F {
		code := [2]byte{cc1, cc2}
		if d.lastWasCtrl[f] && d.lastCtrl[f] == code && d.units-d.lastCtrlUnit[f] <= 2 {
			d.lastWasCtrl[f] = false
			return
		}
		d.lastCtrl[f], d.lastWasCtrl[f], d.lastCtrlUnit[f] = code, true, d.units
	} else {
		d.lastWasCtrl[f] = false
	}

	dec := d.dec608[channel]
	if dec == nil {
		return
	}
	if text := dec.Decode(cc1, cc2); text != "" {
		d.add(timeUs, channel, text)
	}
}

func (d *Decoder) drainDTVCC(timeUs int64) {
	if len(d.dtvcc) == 0 {
		return
	}
	size := ccx.DTVCCPacketSize(d.dtvcc[0])
	if len(d.dtvcc) < size {
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(d.dtvcc[:size]) {
		svc := d.svc708[block.ServiceNum]
		if svc == nil || !svc.ProcessBlock(block.Data) {
			continue
		}
		if text := svc.DisplayText(); text != "" {
			d.add(timeUs, serviceBase+block.ServiceNum, text)
		}
	}
}

// add queues text for display, creating the channel's track on first use.
func (d *Decoder) add(timeUs int64, channel int, text string) {
	track := lo.IndexOf(d.channels, channel)
	if track < 0 {
		d.channels = append(d.channels, channel)
		track = len(d.channels) - 1
		d.log.Info("caption track found", "channel", channelName(channel), "track", track)
		if d.ev.TrackAdded != nil {
			d.ev.TrackAdded()
		}
	}
	if track != d.selected {
		return
	}
	if len(d.pending) == maxPending {
		d.pending = d.pending[1:]
	}
	d.pending = append(d.pending, cue{timeUs: timeUs, track: track, text: text})
}

// Display sends every cue due at timeUs.
func (d *Decoder) Display(timeUs int64) {
	n := 0
	for _, c := range d.pending {
		if c.timeUs > timeUs {
			break
		}
		n++
		if c.track != d.selected || d.ev.Data == nil {
			continue
		}
		au := media.NewAccessUnit([]byte(c.text), c.timeUs)
		au.TrackIndex = c.track
		au.MIME = mimeFor(d.channels[c.track])
		d.ev.Data(au)
	}
	d.pending = d.pending[n:]
}

func (d *Decoder) TrackCount() int { return len(d.channels) }

func (d *Decoder) TrackInfo(i int) source.TrackInfo {
	if i < 0 || i >= len(d.channels) {
		return source.TrackInfo{}
	}
	return source.TrackInfo{
		Type: media.TrackSubtitle,
		MIME: mimeFor(d.channels[i]),
	}
}

// Select makes track i the one whose cues are delivered. Deselecting a
// track that is not selected is a no-op.
func (d *Decoder) Select(i int, selected bool) error {
	if i < 0 || i >= len(d.channels) {
		return fmt.Errorf("caption track %d of %d: %w", i, len(d.channels), media.ErrBadIndex)
	}
	switch {
	case selected && d.selected != i:
		d.selected = i
		d.pending = d.pending[:0]
	case !selected && d.selected == i:
		d.selected = -1
		d.pending = d.pending[:0]
	}
	return nil
}

func (d *Decoder) Selected() int { return d.selected }

// Flush drops queued cues and decoder state, as after a seek.
func (d *Decoder) Flush() {
	d.pending = d.pending[:0]
	d.reset()
}

func mimeFor(channel int) string {
	if channel > serviceBase {
		return media.MIMETextCEA708
	}
	return media.MIMETextCEA
}

func channelName(channel int) string {
	if channel > serviceBase {
		return fmt.Sprintf("SERVICE%d", channel-serviceBase)
	}
	return fmt.Sprintf("CC%d", channel)
}
