package source

import "github.com/zsiec/mediaplay/internal/media"

// Event is a notification from the source to its owner. Events are delivered
// from the source goroutine through the Notify callback, which must not block.
type Event interface {
	sourceEvent()
}

// Prepared reports the outcome of PrepareAsync.
type Prepared struct{ Err error }

// FlagsChanged reports a new capability set.
type FlagsChanged struct{ Flags Flags }

// VideoSizeChanged carries the video format once it is known.
type VideoSizeChanged struct{ Format *media.Format }

// BufferingUpdate carries the cached share of the content in percent.
type BufferingUpdate struct{ Percent int }

// BufferingStart is sent when the cache runs under its low watermark.
type BufferingStart struct{}

// BufferingEnd is sent when the cache recovers past its high watermark.
type BufferingEnd struct{}

// SubtitleData carries one subtitle unit that is due for display.
type SubtitleData struct{ Unit *media.AccessUnit }

// TimedTextData carries one timed-text unit that is due for display.
type TimedTextData struct{ Unit *media.AccessUnit }

// QueueDecoderShutdown asks the owner to shut the given decoders down and
// call Reply once that is done.
type QueueDecoderShutdown struct {
	Audio, Video bool
	Reply        func()
}

// DrmNoLicense reports that a secure track could not be decrypted.
type DrmNoLicense struct{}

// DurationUpdate carries a new content duration.
type DurationUpdate struct{ DurationUs int64 }

// SourceError reports a fatal source failure after prepare.
type SourceError struct{ Err error }

func (Prepared) sourceEvent()             {}
func (FlagsChanged) sourceEvent()         {}
func (VideoSizeChanged) sourceEvent()     {}
func (BufferingUpdate) sourceEvent()      {}
func (BufferingStart) sourceEvent()       {}
func (BufferingEnd) sourceEvent()         {}
func (SubtitleData) sourceEvent()         {}
func (TimedTextData) sourceEvent()        {}
func (QueueDecoderShutdown) sourceEvent() {}
func (DrmNoLicense) sourceEvent()         {}
func (DurationUpdate) sourceEvent()       {}
func (SourceError) sourceEvent()          {}
