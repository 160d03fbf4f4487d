package player

import (
	"errors"
	"fmt"

	"github.com/zsiec/mediaplay/internal/media"
)

// Listener message codes.
const (
	MsgPrepared         = 1
	MsgPlaybackComplete = 2
	MsgBufferingUpdate  = 3
	MsgSeekComplete     = 4
	MsgSetVideoSize     = 5
	MsgStarted          = 6
	MsgPaused           = 7
	MsgTimedText        = 99
	MsgError            = 100
	MsgInfo             = 200
	MsgSubtitleData     = 201
)

// Extras for MsgInfo.
const (
	InfoRenderingStart = 3
	InfoBufferingStart = 701
	InfoBufferingEnd   = 702
	InfoNotSeekable    = 801
	InfoMetadataUpdate = 802
)

// ErrorUnknown is the first extra of every MsgError.
const ErrorUnknown = 1

// Status codes carried in the second extra of MsgError.
const (
	StatusUnknown          = -2147483648
	StatusWouldBlock       = -11
	StatusInvalidOperation = -38
	StatusBadIndex         = -75
	StatusIO               = -1004
	StatusMalformed        = -1007
	StatusUnsupported      = -1010
	StatusEndOfStream      = -1011
	StatusDrmNoLicense     = -2001
)

// TextPayload accompanies MsgSubtitleData and MsgTimedText.
type TextPayload struct {
	TrackIndex int    `json:"track_index"`
	TimeUs     int64  `json:"time_us"`
	DurationUs int64  `json:"duration_us"`
	MIME       string `json:"mime"`
	Data       []byte `json:"data"`
}

// Notification is one listener message.
type Notification struct {
	Code    int          `json:"code"`
	Ext1    int          `json:"ext1"`
	Ext2    int          `json:"ext2"`
	Payload *TextPayload `json:"payload,omitempty"`
}

func (n Notification) String() string {
	return fmt.Sprintf("%s(%d,%d)", codeName(n.Code), n.Ext1, n.Ext2)
}

func codeName(code int) string {
	switch code {
	case MsgPrepared:
		return "prepared"
	case MsgPlaybackComplete:
		return "playback-complete"
	case MsgBufferingUpdate:
		return "buffering-update"
	case MsgSeekComplete:
		return "seek-complete"
	case MsgSetVideoSize:
		return "set-video-size"
	case MsgStarted:
		return "started"
	case MsgPaused:
		return "paused"
	case MsgTimedText:
		return "timed-text"
	case MsgError:
		return "error"
	case MsgInfo:
		return "info"
	case MsgSubtitleData:
		return "subtitle-data"
	}
	return fmt.Sprintf("msg-%d", code)
}

var statusCodes = []struct {
	err  error
	code int
}{
	{media.ErrEndOfStream, StatusEndOfStream},
	{media.ErrDrmNoLicense, StatusDrmNoLicense},
	{media.ErrIO, StatusIO},
	{media.ErrMalformed, StatusMalformed},
	{media.ErrUnsupported, StatusUnsupported},
	{media.ErrInvalidOperation, StatusInvalidOperation},
	{media.ErrBadIndex, StatusBadIndex},
	{media.ErrWouldBlock, StatusWouldBlock},
}

// ErrorCodeFor maps err to the status code reported with MsgError.
func ErrorCodeFor(err error) int {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	return StatusUnknown
}

func textPayload(au *media.AccessUnit, baseIndex int) *TextPayload {
	return &TextPayload{
		TrackIndex: au.TrackIndex + baseIndex,
		TimeUs:     au.TimeUs,
		DurationUs: au.DurationUs,
		MIME:       au.MIME,
		Data:       au.Data,
	}
}
