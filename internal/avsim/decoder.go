// Package avsim provides software stand-ins for a codec and an output
// device. The passthrough decoder hands access units straight through as
// decoded buffers, and the clock renderer releases them when the wall clock
// reaches their timestamps. Together they let the player run end to end
// without hardware.
package avsim

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/mediaplay/internal/mailbox"
	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/player"
)

// maxOutstanding bounds the buffers handed to the renderer and not yet
// released, which is the only back-pressure the decoder applies.
const maxOutstanding = 4

// Decoders returns a factory for passthrough decoders whose goroutines live
// until ctx ends or the player shuts them down.
func Decoders(ctx context.Context, log *slog.Logger) player.DecoderFactory {
	if log == nil {
		log = slog.Default()
	}
	return func(cfg player.DecoderConfig) (player.Decoder, error) {
		if cfg.Notify == nil {
			return nil, errors.New("avsim: decoder without notify")
		}
		d := newPassthrough(cfg, log)
		go d.box.Run(ctx, d.handle)
		return d, nil
	}
}

type (
	msgConfigure    struct{ format *media.Format }
	msgFlush        struct{ format *media.Format }
	msgResume       struct{}
	msgShutdown     struct{}
	msgUpdateFormat struct{ format *media.Format }
	msgInput        struct {
		gen int
		au  *media.AccessUnit
		err error
	}
	msgReleased struct{ gen int }
)

// Passthrough is a decoder that emits every input unit unchanged.
type Passthrough struct {
	log    *slog.Logger
	audio  bool
	notify func(player.DecoderEvent)
	box    *mailbox.Mailbox[any]
	mime   atomic.Pointer[string]

	// Owned by the decoder goroutine.
	format      *media.Format
	reported    bool
	configured  bool
	flushing    bool
	eos         bool
	requesting  bool
	outstanding int
	gen         int
	decoded     int64
}

func newPassthrough(cfg player.DecoderConfig, log *slog.Logger) *Passthrough {
	kind := "video"
	if cfg.Audio {
		kind = "audio"
	}
	d := &Passthrough{
		log:    log.With("component", "decoder", "track", kind),
		audio:  cfg.Audio,
		notify: cfg.Notify,
		box:    mailbox.New[any](),
		format: cfg.Format,
	}
	if cfg.Format != nil {
		d.mime.Store(&cfg.Format.MIME)
	}
	return d
}

func (d *Passthrough) Configure(f *media.Format)          { d.box.Post(msgConfigure{format: f}) }
func (d *Passthrough) SignalFlush(f *media.Format)        { d.box.Post(msgFlush{format: f}) }
func (d *Passthrough) SignalResume()                      { d.box.Post(msgResume{}) }
func (d *Passthrough) InitiateShutdown()                  { d.box.Post(msgShutdown{}) }
func (d *Passthrough) SignalUpdateFormat(f *media.Format) { d.box.Post(msgUpdateFormat{format: f}) }

// SupportsSeamlessFormatChange is true when the codec stays the same.
func (d *Passthrough) SupportsSeamlessFormatChange(f *media.Format) bool {
	cur := d.mime.Load()
	return cur != nil && f != nil && *cur == f.MIME
}

func (d *Passthrough) handle(m any) {
	switch m := m.(type) {
	case msgConfigure:
		d.setFormat(m.format)
		d.configured = true
		d.requestInput()
	case msgFlush:
		d.gen++
		d.flushing = true
		d.eos = false
		d.requesting = false
		d.outstanding = 0
		if m.format != nil {
			d.setFormat(m.format)
		}
		d.notify(player.FlushCompleted{})
	case msgResume:
		d.flushing = false
		d.requestInput()
	case msgUpdateFormat:
		d.setFormat(m.format)
	case msgShutdown:
		d.log.Debug("shut down", "decoded", d.decoded)
		d.notify(player.ShutdownCompleted{})
		d.box.Stop()
	case msgInput:
		d.onInput(m)
	case msgReleased:
		if m.gen == d.gen && d.outstanding > 0 {
			d.outstanding--
		}
		d.requestInput()
	}
}

func (d *Passthrough) setFormat(f *media.Format) {
	if f == nil {
		return
	}
	d.format = f
	d.reported = false
	d.mime.Store(&f.MIME)
}

func (d *Passthrough) requestInput() {
	if !d.configured || d.flushing || d.eos || d.requesting || d.outstanding >= maxOutstanding {
		return
	}
	d.requesting = true
	gen := d.gen
	d.notify(player.FillThisBuffer{Reply: func(au *media.AccessUnit, err error) {
		d.box.Post(msgInput{gen: gen, au: au, err: err})
	}})
}

func (d *Passthrough) onInput(m msgInput) {
	if m.gen != d.gen {
		// Answer to a request made before the last flush.
		return
	}
	d.requesting = false
	switch {
	case errors.Is(m.err, media.ErrDiscontinuity):
		// A flush or a newer decoder follows.
		d.requestInput()
		return
	case m.err != nil:
		d.eos = true
		d.notify(player.DecoderEOS{Err: m.err})
		return
	case m.au == nil:
		d.requestInput()
		return
	}

	if !d.reported && d.format != nil {
		d.reported = true
		d.notify(player.OutputFormatChanged{Format: d.format.Clone()})
	}
	d.decoded++
	d.outstanding++
	gen := d.gen
	d.notify(player.DrainThisBuffer{Buffer: m.au, Reply: func() {
		d.box.Post(msgReleased{gen: gen})
	}})
	d.requestInput()
}
