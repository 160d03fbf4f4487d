package source

import "time"

// Config holds the buffering and scheduling constants of a Source.
type Config struct {
	// Duration watermarks apply when the content bitrate is known.
	LowWaterMark  time.Duration
	HighWaterMark time.Duration
	// Byte watermarks apply when it is not.
	LowWaterMarkBytes  int64
	HighWaterMarkBytes int64

	MinBytesForSniffing int64
	DefaultMetaSize     int64
	PrefillRetry        time.Duration
	PrefillTimeout      time.Duration

	PollBufferingInterval  time.Duration
	UpdateDurationInterval time.Duration
	UpdateDurationMaxTries int

	AudioBatch       int
	SecureAudioBatch int
	VideoBatch       int
	SecureVideoBatch int

	// SubtitleLead is how far ahead of its timestamp a subtitle is sent.
	SubtitleLead time.Duration
}

// DefaultConfig returns the stock playback constants.
func DefaultConfig() Config {
	return Config{
		LowWaterMark:           2 * time.Second,
		HighWaterMark:          5 * time.Second,
		LowWaterMarkBytes:      40000,
		HighWaterMarkBytes:     200000,
		MinBytesForSniffing:    192 * 1024,
		DefaultMetaSize:        200000,
		PrefillRetry:           200 * time.Millisecond,
		PrefillTimeout:         30 * time.Second,
		PollBufferingInterval:  time.Second,
		UpdateDurationInterval: 200 * time.Millisecond,
		UpdateDurationMaxTries: 10,
		AudioBatch:             64,
		SecureAudioBatch:       8,
		VideoBatch:             1,
		SecureVideoBatch:       2,
		SubtitleLead:           time.Second,
	}
}
