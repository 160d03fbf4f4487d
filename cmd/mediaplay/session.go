package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zsiec/mediaplay/internal/avsim"
	"github.com/zsiec/mediaplay/internal/captions"
	"github.com/zsiec/mediaplay/internal/config"
	"github.com/zsiec/mediaplay/internal/datasource"
	"github.com/zsiec/mediaplay/internal/extractor"
	"github.com/zsiec/mediaplay/internal/player"
	"github.com/zsiec/mediaplay/internal/source"
)

const notificationBuffer = 1024

// driver reports ResetCompleted on a channel on top of the listener
// translation.
type driver struct {
	*player.ListenerDriver
	reset chan struct{}
}

func (d *driver) ResetCompleted() {
	d.ListenerDriver.ResetCompleted()
	select {
	case d.reset <- struct{}{}:
	default:
	}
}

// session is one data source wired through a source and a player.
type session struct {
	log    *slog.Logger
	src    *source.Source
	player *player.Player
	driver *driver
	notes  chan player.Notification
}

// newSession opens uri and wires the engine around it. Every notification
// goes to tap as well when it is set. The actors run once run is called.
func newSession(ctx context.Context, uri string, cfg config.Config, tap func(player.Notification), log *slog.Logger) (*session, error) {
	ds, err := datasource.Open(ctx, uri, datasource.Options{SRT: cfg.SRT}, log)
	if err != nil {
		return nil, err
	}
	_, live := ds.(*datasource.Live)

	s := &session{log: log, notes: make(chan player.Notification, notificationBuffer)}
	s.driver = &driver{
		ListenerDriver: player.NewListenerDriver(func(n player.Notification) {
			if tap != nil {
				tap(n)
			}
			select {
			case s.notes <- n:
			default:
				log.Warn("notification dropped", "notification", n.String())
			}
		}),
		reset: make(chan struct{}, 1),
	}
	s.player = player.New(s.driver, player.Options{
		Decoders:  avsim.Decoders(ctx, log),
		Renderers: avsim.Renderers(ctx, log),
		Captions:  captions.Factory(log),
		Config:    &cfg.Player,
	}, log)
	s.src = source.New(ds, source.Options{
		Extractors: extractor.Factory(log),
		Sniff:      extractor.Sniff,
		Live:       live,
		Config:     &cfg.Source,
	}, s.player.HandleSourceEvent, log)
	return s, nil
}

// run starts both actors and prepares. It returns when ctx is done.
func (s *session) run(ctx context.Context) error {
	go s.src.Run(ctx)
	go s.player.Run(ctx)

	s.player.SetDataSource(s.src)
	s.player.SetSurface(avsim.Surface("cli"))
	s.player.SetAudioSink(avsim.Sink("cli"))
	s.player.PrepareAsync()

	<-ctx.Done()
	return nil
}

func (s *session) close() {
	s.player.Close()
	if err := s.src.Close(); err != nil {
		s.log.Debug("closing source", "error", err)
	}
}

func playbackError(n player.Notification) error {
	return fmt.Errorf("playback failed: status %d", n.Ext2)
}
