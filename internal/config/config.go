// Package config loads playback settings from defaults, an optional
// mediaplay.yaml, MEDIAPLAY_* environment variables and bound CLI flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/zsiec/mediaplay/internal/datasource"
	"github.com/zsiec/mediaplay/internal/player"
	"github.com/zsiec/mediaplay/internal/source"
)

const (
	// Name is the config file name without extension, and the env prefix.
	Name = "mediaplay"

	DefaultTapAddr = "127.0.0.1:4450"
)

// EnvKeyReplacer maps config keys to environment variable names.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Keys. Flags bind to these.
const (
	KeyLowWaterMark           = "source.low_water_mark"
	KeyHighWaterMark          = "source.high_water_mark"
	KeyLowWaterMarkBytes      = "source.low_water_mark_bytes"
	KeyHighWaterMarkBytes     = "source.high_water_mark_bytes"
	KeyMinBytesForSniffing    = "source.min_bytes_for_sniffing"
	KeyDefaultMetaSize        = "source.default_meta_size"
	KeyPrefillRetry           = "source.prefill_retry"
	KeyPrefillTimeout         = "source.prefill_timeout"
	KeyPollBufferingInterval  = "source.poll_buffering_interval"
	KeyUpdateDurationInterval = "source.update_duration_interval"
	KeyUpdateDurationMaxTries = "source.update_duration_max_tries"
	KeyAudioBatch             = "source.audio_batch"
	KeySecureAudioBatch       = "source.secure_audio_batch"
	KeyVideoBatch             = "source.video_batch"
	KeySecureVideoBatch       = "source.secure_video_batch"
	KeySubtitleLead           = "source.subtitle_lead"

	KeyScanRetry            = "player.scan_retry"
	KeyFeedRetry            = "player.feed_retry"
	KeyPollDurationInterval = "player.poll_duration_interval"
	KeyAggregateBytes       = "player.aggregate_bytes"
	KeyOffloadAudio         = "player.offload_audio"

	KeySRTLatency     = "srt.latency"
	KeySRTDialTimeout = "srt.dial_timeout"
	KeySRTMaxCache    = "srt.max_cache"

	KeyTapAddr = "tap.addr"
	KeyDebug   = "log.debug"
)

// Config is everything the CLI needs to build a player.
type Config struct {
	Source source.Config
	Player player.Config
	SRT    datasource.SRTOptions
	// TapAddr is where the event tap listens. Empty disables it.
	TapAddr string
	Debug   bool
}

// Defaults returns the default value of every key.
func Defaults() map[string]any {
	s := source.DefaultConfig()
	p := player.DefaultConfig()
	return map[string]any{
		KeyLowWaterMark:           s.LowWaterMark,
		KeyHighWaterMark:          s.HighWaterMark,
		KeyLowWaterMarkBytes:      s.LowWaterMarkBytes,
		KeyHighWaterMarkBytes:     s.HighWaterMarkBytes,
		KeyMinBytesForSniffing:    s.MinBytesForSniffing,
		KeyDefaultMetaSize:        s.DefaultMetaSize,
		KeyPrefillRetry:           s.PrefillRetry,
		KeyPrefillTimeout:         s.PrefillTimeout,
		KeyPollBufferingInterval:  s.PollBufferingInterval,
		KeyUpdateDurationInterval: s.UpdateDurationInterval,
		KeyUpdateDurationMaxTries: s.UpdateDurationMaxTries,
		KeyAudioBatch:             s.AudioBatch,
		KeySecureAudioBatch:       s.SecureAudioBatch,
		KeyVideoBatch:             s.VideoBatch,
		KeySecureVideoBatch:       s.SecureVideoBatch,
		KeySubtitleLead:           s.SubtitleLead,

		KeyScanRetry:            p.ScanRetry,
		KeyFeedRetry:            p.FeedRetry,
		KeyPollDurationInterval: p.PollDurationInterval,
		KeyAggregateBytes:       p.AggregateBytes,
		KeyOffloadAudio:         p.OffloadAudio,

		KeySRTLatency:     120 * time.Millisecond,
		KeySRTDialTimeout: 10 * time.Second,
		KeySRTMaxCache:    int64(64 << 20),

		KeyTapAddr: DefaultTapAddr,
		KeyDebug:   false,
	}
}

// New returns a viper instance with defaults, environment bindings and,
// when one is found in paths, the config file. A nil fs means the OS
// filesystem.
func New(fs afero.Fs, paths ...string) (*viper.Viper, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	v := viper.New()
	v.SetConfigName(Name)
	v.SetConfigType("yaml")
	v.SetFs(fs)
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(Name)
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	v.AutomaticEnv()

	v.SetTypeByDefaultValue(true)
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	if len(paths) == 0 {
		return v, nil
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	return v, nil
}

// Load reads a Config out of v.
func Load(v *viper.Viper) Config {
	return Config{
		Source: source.Config{
			LowWaterMark:           v.GetDuration(KeyLowWaterMark),
			HighWaterMark:          v.GetDuration(KeyHighWaterMark),
			LowWaterMarkBytes:      v.GetInt64(KeyLowWaterMarkBytes),
			HighWaterMarkBytes:     v.GetInt64(KeyHighWaterMarkBytes),
			MinBytesForSniffing:    v.GetInt64(KeyMinBytesForSniffing),
			DefaultMetaSize:        v.GetInt64(KeyDefaultMetaSize),
			PrefillRetry:           v.GetDuration(KeyPrefillRetry),
			PrefillTimeout:         v.GetDuration(KeyPrefillTimeout),
			PollBufferingInterval:  v.GetDuration(KeyPollBufferingInterval),
			UpdateDurationInterval: v.GetDuration(KeyUpdateDurationInterval),
			UpdateDurationMaxTries: v.GetInt(KeyUpdateDurationMaxTries),
			AudioBatch:             v.GetInt(KeyAudioBatch),
			SecureAudioBatch:       v.GetInt(KeySecureAudioBatch),
			VideoBatch:             v.GetInt(KeyVideoBatch),
			SecureVideoBatch:       v.GetInt(KeySecureVideoBatch),
			SubtitleLead:           v.GetDuration(KeySubtitleLead),
		},
		Player: player.Config{
			ScanRetry:            v.GetDuration(KeyScanRetry),
			FeedRetry:            v.GetDuration(KeyFeedRetry),
			PollDurationInterval: v.GetDuration(KeyPollDurationInterval),
			AggregateBytes:       v.GetInt(KeyAggregateBytes),
			OffloadAudio:         v.GetBool(KeyOffloadAudio),
		},
		SRT: datasource.SRTOptions{
			Latency:     v.GetDuration(KeySRTLatency),
			DialTimeout: v.GetDuration(KeySRTDialTimeout),
			MaxCache:    v.GetInt64(KeySRTMaxCache),
		},
		TapAddr: v.GetString(KeyTapAddr),
		Debug:   v.GetBool(KeyDebug),
	}
}
