// Package trackbuffer implements the per-track queue that sits between the
// source's read loop (producer) and the player's decoder feed (consumer).
//
// A Buffer holds access units in order, interleaved with discontinuity
// markers, and ends with an optional terminal status. It never blocks and
// enforces no capacity; bounding is done by the source's read scheduling.
package trackbuffer

import (
	"fmt"
	"sync"

	"github.com/samber/mo"

	"github.com/zsiec/mediaplay/internal/media"
)

// Kind classifies a discontinuity marker.
type Kind int

const (
	// KindNone marks a break that does not affect this stream's decoder.
	KindNone Kind = iota
	// KindTime marks a jump in the timeline.
	KindTime
	// KindSeek marks the point a seek resumes from. The player has already
	// flushed for the seek, so the marker only carries the resume time.
	KindSeek
	// KindFormatChange marks a new format, which also implies a time jump.
	KindFormatChange
)

func (k Kind) String() string {
	switch k {
	case KindTime:
		return "time"
	case KindSeek:
		return "seek"
	case KindFormatChange:
		return "format-change"
	default:
		return "none"
	}
}

// IsTimeChange reports whether downstream clocks must be reset.
func (k Kind) IsTimeChange() bool {
	return k == KindTime || k == KindFormatChange
}

// IsFormatChange reports whether the decoder may need to be replaced.
func (k Kind) IsFormatChange() bool {
	return k == KindFormatChange
}

// Discontinuity is a marker dequeued from a Buffer. It is returned as the
// error of Dequeue so callers branch on it explicitly, and it matches
// media.ErrDiscontinuity under errors.Is.
type Discontinuity struct {
	Kind Kind
	// ResumeAt is the media time below which output should be suppressed.
	ResumeAt mo.Option[int64]
}

func (d *Discontinuity) Error() string {
	if at, ok := d.ResumeAt.Get(); ok {
		return fmt.Sprintf("trackbuffer: %s discontinuity (resume at %dus)", d.Kind, at)
	}
	return fmt.Sprintf("trackbuffer: %s discontinuity", d.Kind)
}

func (d *Discontinuity) Is(target error) bool {
	return target == media.ErrDiscontinuity
}

type entry struct {
	au   *media.AccessUnit
	disc *Discontinuity
}

// Buffer is safe for one producer and one consumer goroutine.
type Buffer struct {
	mu      sync.Mutex
	format  *media.Format
	entries []entry
	eos     error

	lastEnqueued mo.Option[int64]
	lastDequeued mo.Option[int64]
}

// New returns an open, empty buffer for a track of the given format.
func New(format *media.Format) *Buffer {
	return &Buffer{format: format}
}

// Format returns the format the buffer was created or last reset with.
func (b *Buffer) Format() *media.Format {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format
}

// SetFormat replaces the track format.
func (b *Buffer) SetFormat(f *media.Format) {
	b.mu.Lock()
	b.format = f
	b.mu.Unlock()
}

// Enqueue appends au to the tail.
func (b *Buffer) Enqueue(au *media.AccessUnit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry{au: au})
	if au.HasTime {
		b.lastEnqueued = mo.Some(au.TimeUs)
	}
}

// EnqueueDiscontinuity appends a marker. With discard set, every buffered
// access unit is dropped first; earlier markers are kept so none is lost.
// Queuing a marker reopens a buffer that had signaled EOS.
func (b *Buffer) EnqueueDiscontinuity(kind Kind, resumeAt mo.Option[int64], discard bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if discard {
		kept := b.entries[:0]
		for _, e := range b.entries {
			if e.disc != nil {
				kept = append(kept, e)
			}
		}
		clear(b.entries[len(kept):])
		b.entries = kept
	}
	b.eos = nil
	b.lastEnqueued = mo.None[int64]()
	b.entries = append(b.entries, entry{disc: &Discontinuity{Kind: kind, ResumeAt: resumeAt}})
}

// Dequeue removes and returns the head. When the head is a discontinuity
// marker it is returned once, as a *Discontinuity error. An empty open
// buffer returns media.ErrWouldBlock; an empty closed buffer returns its
// terminal status.
func (b *Buffer) Dequeue() (*media.AccessUnit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		if b.eos != nil {
			return nil, b.eos
		}
		return nil, media.ErrWouldBlock
	}
	head := b.entries[0]
	b.entries[0] = entry{}
	b.entries = b.entries[1:]
	if head.disc != nil {
		return nil, head.disc
	}
	if head.au.HasTime {
		b.lastDequeued = mo.Some(head.au.TimeUs)
	}
	return head.au, nil
}

// HasAvailable reports whether Dequeue would return an entry. When it
// would not, final is the terminal status, or nil while the buffer is open.
func (b *Buffer) HasAvailable() (ok bool, final error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) > 0 {
		return true, nil
	}
	return false, b.eos
}

// PeekNextTimestamp returns the timestamp of the head access unit. It is
// absent when the buffer is empty or a marker is at the head.
func (b *Buffer) PeekNextTimestamp() mo.Option[int64] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 || b.entries[0].au == nil || !b.entries[0].au.HasTime {
		return mo.None[int64]()
	}
	return mo.Some(b.entries[0].au.TimeUs)
}

// SignalEOS closes the buffer with a terminal status. Buffered content is
// still delivered before the status.
func (b *Buffer) SignalEOS(err error) {
	if err == nil {
		panic("trackbuffer: SignalEOS with nil status")
	}
	b.mu.Lock()
	b.eos = err
	b.mu.Unlock()
}

// Clear drops all content and reopens the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.entries)
	b.entries = b.entries[:0]
	b.eos = nil
	b.lastEnqueued = mo.None[int64]()
	b.lastDequeued = mo.None[int64]()
}

// Len returns the number of queued entries, markers included.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// LatestEnqueuedTime returns the timestamp of the last unit queued since the
// last marker or Clear.
func (b *Buffer) LatestEnqueuedTime() mo.Option[int64] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastEnqueued
}

// LatestDequeuedTime returns the timestamp of the last unit handed out.
func (b *Buffer) LatestDequeuedTime() mo.Option[int64] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDequeued
}

// BufferedDurationUs sums the timestamp span of each run of access units
// between markers.
func (b *Buffer) BufferedDurationUs() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total, first, last int64
	inRun := false
	for _, e := range b.entries {
		if e.disc != nil {
			if inRun {
				total += last - first
			}
			inRun = false
			continue
		}
		if !e.au.HasTime {
			continue
		}
		if !inRun {
			first, inRun = e.au.TimeUs, true
		}
		last = e.au.TimeUs
	}
	if inRun {
		total += last - first
	}
	return total
}

// Final returns the terminal status, or nil while the buffer is open.
func (b *Buffer) Final() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eos
}
