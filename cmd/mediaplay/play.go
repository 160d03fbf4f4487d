package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/mediaplay/internal/certs"
	"github.com/zsiec/mediaplay/internal/config"
	"github.com/zsiec/mediaplay/internal/eventtap"
	"github.com/zsiec/mediaplay/internal/player"
)

// resetTimeout bounds the wait for a clean reset before exiting.
const resetTimeout = 5 * time.Second

func newPlayCmd(v *viper.Viper) *cobra.Command {
	var seek time.Duration
	cmd := &cobra.Command{
		Use:   "play <path|srt://host:port?streamid=...>",
		Short: "Play a file or SRT stream until it completes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), args[0], seek, config.Load(v))
		},
	}
	cmd.Flags().DurationVar(&seek, "seek", 0, "Seek to this position before starting")
	cmd.Flags().String("tap", config.DefaultTapAddr, "Event tap address, empty to disable")
	lo.Must0(v.BindPFlag(config.KeyTapAddr, cmd.Flags().Lookup("tap")))
	cmd.Flags().Duration("srt-latency", 120*time.Millisecond, "SRT receiver latency")
	lo.Must0(v.BindPFlag(config.KeySRTLatency, cmd.Flags().Lookup("srt-latency")))
	cmd.Flags().Bool("offload", false, "Try offloaded audio first")
	lo.Must0(v.BindPFlag(config.KeyOffloadAudio, cmd.Flags().Lookup("offload")))
	return cmd
}

func runPlay(parent context.Context, uri string, seek time.Duration, cfg config.Config) error {
	log := newLogger(cfg.Debug)
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var tap *eventtap.Server
	var notify func(player.Notification)
	if cfg.TapAddr != "" {
		cert, err := certs.Generate(0)
		if err != nil {
			return err
		}
		tap = eventtap.New(cfg.TapAddr, cert, log)
		if err := tap.Listen(); err != nil {
			return err
		}
		notify = tap.Notify
		g.Go(func() error { return tap.Serve(ctx) })
	}

	s, err := newSession(ctx, uri, cfg, notify, log)
	if err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}
	defer s.close()
	g.Go(func() error { return s.run(ctx) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var result error
	g.Go(func() error {
		defer cancel()
		var deadline <-chan time.Time
		reset := func() {
			if deadline == nil {
				deadline = time.After(resetTimeout)
				s.player.Reset()
			}
		}
		for {
			select {
			case n := <-s.notes:
				log.Debug("notification", "notification", n.String())
				switch n.Code {
				case player.MsgPrepared:
					log.Info("prepared", "duration", time.Duration(s.driver.DurationUs())*time.Microsecond, "flags", s.driver.Flags())
					if seek > 0 {
						s.player.SeekTo(seek.Microseconds(), true)
					}
					s.player.Start()
				case player.MsgStarted:
					log.Info("playing", "uri", uri)
				case player.MsgSubtitleData, player.MsgTimedText:
					if n.Payload != nil {
						fmt.Printf("[%s] %s\n", time.Duration(n.Payload.TimeUs)*time.Microsecond, n.Payload.Data)
					}
				case player.MsgPlaybackComplete:
					log.Info("playback complete")
					reset()
				case player.MsgError:
					result = playbackError(n)
					log.Error("playback error", "status", n.Ext2)
					reset()
				}
			case sig := <-sigCh:
				log.Info("received signal, resetting", "signal", sig)
				reset()
			case <-s.driver.reset:
				if st, err := statsOf(ctx, s); err == nil {
					log.Info("stopped", "audio_fed", st.Audio.Fed, "video_fed", st.Video.Fed, "flushes", st.Audio.Flushes+st.Video.Flushes)
				}
				if tap != nil {
					ts := tap.Stats()
					log.Debug("tap", "watchers", ts.Watchers, "published", ts.Published, "dropped", ts.Dropped)
				}
				return nil
			case <-deadline:
				log.Warn("reset did not complete in time")
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return result
}

func statsOf(ctx context.Context, s *session) (player.Stats, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	return s.player.Stats(ctx)
}
