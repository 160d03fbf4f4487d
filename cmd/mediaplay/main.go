// Command mediaplay plays local media files and SRT streams through the
// playback engine, probes their tracks, and watches a running player's
// event tap.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/mediaplay/internal/config"
)

var version = "dev"

func main() {
	v, err := config.New(nil, configPaths()...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCmd(v).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func configPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, config.Name))
	}
	return paths
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:          config.Name,
		Short:        "Play, probe and watch media through the playback engine",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("debug", false, "Log at debug level (also enabled by DEBUG)")
	lo.Must0(v.BindPFlag(config.KeyDebug, root.PersistentFlags().Lookup("debug")))

	root.AddCommand(newPlayCmd(v), newProbeCmd(v), newWatchCmd(v))
	return root
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}
