package eventtap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/mediaplay/internal/certs"
)

// maxLine bounds one encoded event, payload included.
const maxLine = 1 << 20

// Watch connects to a tap at addr whose certificate has fingerprint fp.
// Watch returns once the server has registered the watcher. Events
// arrive on the returned channel, which is closed when the server
// goes away or ctx is cancelled.
func Watch(ctx context.Context, addr string, fp [32]byte, log *slog.Logger) (<-chan Event, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "eventtap-watch", "addr", addr)

	conn, err := quic.DialAddr(ctx, addr, certs.ClientConfig(fp, ALPN), &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: idleTimeout / 3,
	})
	if err != nil {
		return nil, fmt.Errorf("eventtap: dial %s: %w", addr, err)
	}
	stream, err := conn.AcceptUniStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, fmt.Errorf("eventtap: accept stream: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { conn.CloseWithError(0, "") })

	sc := bufio.NewScanner(stream)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	var hello Event
	if !sc.Scan() || json.Unmarshal(sc.Bytes(), &hello) != nil || hello.Name != helloName {
		stop()
		conn.CloseWithError(0, "")
		return nil, fmt.Errorf("eventtap: %s did not greet: %v", addr, sc.Err())
	}
	log.Debug("watching")

	out := make(chan Event)
	go func() {
		defer close(out)
		defer stop()
		defer conn.CloseWithError(0, "")

		for sc.Scan() {
			var ev Event
			if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
				log.Warn("bad event", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
			log.Info("tap closed", "reason", err)
		}
	}()
	return out, nil
}
