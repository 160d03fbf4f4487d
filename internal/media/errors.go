package media

import (
	"errors"
	"fmt"
)

// Result codes shared across the source, player and collaborators.
var (
	// ErrWouldBlock means no data is available yet. It is transient.
	ErrWouldBlock = errors.New("media: would block")
	// ErrEndOfStream is the terminal status of a track that ended normally.
	ErrEndOfStream = errors.New("media: end of stream")
	// ErrNotPresent means the requested track kind or format does not exist.
	ErrNotPresent = errors.New("media: not present")
	// ErrBadIndex means a track index is out of range.
	ErrBadIndex = errors.New("media: bad track index")
	// ErrInvalidOperation means the operation is not allowed in the current state.
	ErrInvalidOperation = errors.New("media: invalid operation")
	// ErrUnsupported means the container or its track set cannot be played.
	ErrUnsupported = errors.New("media: unsupported content")
	// ErrTryAgain means a cached source needs more data before it can proceed.
	ErrTryAgain = errors.New("media: try again")
	// ErrDiscontinuity is returned for an input request that must be dropped
	// because the requester is stale or flushing, and for a dequeued
	// discontinuity marker.
	ErrDiscontinuity = errors.New("media: discontinuity")
	// ErrFormatChanged is returned by a track read when the track format
	// changed in place. It carries no data.
	ErrFormatChanged = errors.New("media: format changed")
	// ErrDrmNoLicense is returned by a secure track that has no usable license.
	ErrDrmNoLicense = errors.New("media: no DRM license")
	// ErrIO covers data-source failures.
	ErrIO = errors.New("media: i/o error")
	// ErrMalformed covers parse failures in container data.
	ErrMalformed = errors.New("media: malformed data")
)

// TrackError wraps an error with the track and operation it came from.
type TrackError struct {
	Track TrackType
	Op    string
	Err   error
}

func (e *TrackError) Error() string {
	return fmt.Sprintf("media: %s %s: %v", e.Track, e.Op, e.Err)
}

func (e *TrackError) Unwrap() error {
	return e.Err
}

// IsEndOfStream reports whether err is a normal end of content.
func IsEndOfStream(err error) bool {
	return errors.Is(err, ErrEndOfStream)
}
