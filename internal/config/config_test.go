package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/zsiec/mediaplay/internal/player"
	"github.com/zsiec/mediaplay/internal/source"
)

func TestDefaults(t *testing.T) {
	t.Parallel()
	v, err := New(afero.NewMemMapFs(), "/etc/mediaplay")
	if err != nil {
		t.Fatal(err)
	}
	cfg := Load(v)
	if cfg.Source != source.DefaultConfig() {
		t.Errorf("source: got %+v, want %+v", cfg.Source, source.DefaultConfig())
	}
	if cfg.Player != player.DefaultConfig() {
		t.Errorf("player: got %+v, want %+v", cfg.Player, player.DefaultConfig())
	}
	if cfg.SRT.Latency != 120*time.Millisecond || cfg.SRT.MaxCache != 64<<20 {
		t.Errorf("srt: got %+v", cfg.SRT)
	}
	if cfg.TapAddr != DefaultTapAddr || cfg.Debug {
		t.Errorf("got tap %q debug %v", cfg.TapAddr, cfg.Debug)
	}
}

func TestConfigFile(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	yaml := `source:
  low_water_mark: 500ms
  audio_batch: 16
player:
  offload_audio: true
srt:
  latency: 300ms
tap:
  addr: ""
`
	if err := afero.WriteFile(fs, "/etc/mediaplay/mediaplay.yaml", []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := New(fs, "/etc/mediaplay")
	if err != nil {
		t.Fatal(err)
	}
	cfg := Load(v)

	tests := []struct {
		name      string
		got, want any
	}{
		{"low water mark", cfg.Source.LowWaterMark, 500 * time.Millisecond},
		{"audio batch", cfg.Source.AudioBatch, 16},
		{"high water mark untouched", cfg.Source.HighWaterMark, 5 * time.Second},
		{"offload", cfg.Player.OffloadAudio, true},
		{"srt latency", cfg.SRT.Latency, 300 * time.Millisecond},
		{"tap disabled", cfg.TapAddr, ""},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestBadConfigFile(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/cfg/mediaplay.yaml", []byte("source: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(fs, "/cfg"); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MEDIAPLAY_PLAYER_SCAN_RETRY", "250ms")
	t.Setenv("MEDIAPLAY_TAP_ADDR", "0.0.0.0:9000")
	v, err := New(afero.NewMemMapFs())
	if err != nil {
		t.Fatal(err)
	}
	cfg := Load(v)
	if cfg.Player.ScanRetry != 250*time.Millisecond {
		t.Errorf("scan retry: got %v, want 250ms", cfg.Player.ScanRetry)
	}
	if cfg.TapAddr != "0.0.0.0:9000" {
		t.Errorf("tap: got %q, want 0.0.0.0:9000", cfg.TapAddr)
	}
}

func TestEnvKeyReplacer(t *testing.T) {
	t.Parallel()
	if got := EnvKeyReplacer.Replace(KeyHighWaterMarkBytes); got != "source_high_water_mark_bytes" {
		t.Errorf("got %q", got)
	}
}
