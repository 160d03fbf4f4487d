package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/mediaplay/internal/config"
	"github.com/zsiec/mediaplay/internal/player"
	"github.com/zsiec/mediaplay/internal/source"
)

const probeTimeout = 60 * time.Second

func newProbeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <path|srt://...>",
		Short: "Prepare the input and print its tracks and duration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), args[0], config.Load(v), cmd.OutOrStdout())
		},
	}
}

func runProbe(parent context.Context, uri string, cfg config.Config, out io.Writer) error {
	log := newLogger(cfg.Debug)
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	s, err := newSession(ctx, uri, cfg, nil, log)
	if err != nil {
		return err
	}
	defer s.close()
	go s.run(ctx)

	for {
		select {
		case n := <-s.notes:
			switch n.Code {
			case player.MsgError:
				return playbackError(n)
			case player.MsgPrepared:
				return printProbe(ctx, s, out)
			}
		case <-ctx.Done():
			return fmt.Errorf("probe %s: %w", uri, ctx.Err())
		}
	}
}

func printProbe(ctx context.Context, s *session, out io.Writer) error {
	tracks, err := s.player.TrackInfo(ctx)
	if err != nil {
		return err
	}
	durationUs, err := s.player.Duration(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTYPE\tMIME\tLANGUAGE\tFLAGS")
	for i, t := range tracks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, t.Type, t.MIME, t.Language, trackFlags(t))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if durationUs < 0 {
		fmt.Fprintln(out, "duration: unknown")
	} else {
		fmt.Fprintf(out, "duration: %s\n", time.Duration(durationUs)*time.Microsecond)
	}
	meta := s.src.Metadata()
	for _, kv := range [][2]string{{"title", meta.Title}, {"artist", meta.Artist}, {"album", meta.Album}, {"genre", meta.Genre}} {
		if kv[1] != "" {
			fmt.Fprintf(out, "%s: %s\n", kv[0], kv[1])
		}
	}
	return nil
}

func trackFlags(t source.TrackInfo) string {
	flags := lo.Compact([]string{
		lo.Ternary(t.Autoselect, "auto", ""),
		lo.Ternary(t.Default, "default", ""),
		lo.Ternary(t.Forced, "forced", ""),
	})
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}
