package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/mediaplay/internal/certs"
	"github.com/zsiec/mediaplay/internal/config"
	"github.com/zsiec/mediaplay/internal/eventtap"
)

func newWatchCmd(v *viper.Viper) *cobra.Command {
	var fingerprint string
	var raw bool
	cmd := &cobra.Command{
		Use:   "watch <addr>",
		Short: "Print the events of a running player's tap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := certs.ParseFingerprint(fingerprint)
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), args[0], fp, raw, config.Load(v), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "SHA-256 fingerprint the play command logged")
	cmd.Flags().BoolVar(&raw, "json", false, "Print events as JSON lines")
	lo.Must0(cmd.MarkFlagRequired("fingerprint"))
	return cmd
}

func runWatch(parent context.Context, addr string, fp [32]byte, raw bool, cfg config.Config, out io.Writer) error {
	log := newLogger(cfg.Debug)
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events, err := eventtap.Watch(ctx, addr, fp, log)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for ev := range events {
		if raw {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			continue
		}
		line := fmt.Sprintf("%s %s", ev.Time.Format(time.TimeOnly+".000"), ev.Name)
		if len(ev.Payload) > 0 {
			line += fmt.Sprintf(" %q", ev.Payload)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
