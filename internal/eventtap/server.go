// Package eventtap mirrors listener notifications to remote watchers over
// QUIC. Each watcher gets one unidirectional stream carrying one JSON
// object per line. A watcher that cannot keep up loses events instead of
// slowing down the player.
package eventtap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/zsiec/mediaplay/internal/certs"
	"github.com/zsiec/mediaplay/internal/player"
)

// ALPN is the protocol both ends negotiate.
const ALPN = "mediaplay-tap"

const (
	helloName     = "hello"
	watcherBuffer = 256
	idleTimeout   = 30 * time.Second
)

// Event is one notification on the wire. Payload is base64 in JSON.
type Event struct {
	Code    int       `json:"code"`
	Name    string    `json:"name"`
	Ext1    int       `json:"ext1"`
	Ext2    int       `json:"ext2"`
	Payload []byte    `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// FromNotification stamps n with the current time. Text payloads keep
// only their data.
func FromNotification(n player.Notification) Event {
	ev := Event{Code: n.Code, Name: n.String(), Ext1: n.Ext1, Ext2: n.Ext2, Time: time.Now()}
	if n.Payload != nil {
		ev.Payload = n.Payload.Data
	}
	return ev
}

// Stats counts what the server delivered.
type Stats struct {
	Watchers  int   `json:"watchers"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
}

type watcher struct {
	id      string
	remote  net.Addr
	events  chan Event
	dropped atomic.Int64
}

// Server accepts watchers and fans published events out to them.
type Server struct {
	log  *slog.Logger
	addr string
	cert *certs.Cert
	ln   *quic.Listener

	mu       sync.Mutex
	watchers map[string]*watcher

	published atomic.Int64
	dropped   atomic.Int64
}

// New returns a server for addr presenting cert. Call Listen, then Serve.
func New(addr string, cert *certs.Cert, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "eventtap"),
		addr:     addr,
		cert:     cert,
		watchers: make(map[string]*watcher),
	}
}

// Listen binds the UDP socket.
func (s *Server) Listen() error {
	ln, err := quic.ListenAddr(s.addr, s.cert.ServerConfig(ALPN), &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: idleTimeout / 3,
	})
	if err != nil {
		return fmt.Errorf("eventtap: listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.log.Info("event tap listening", "addr", ln.Addr().String(), "fingerprint", s.cert.FingerprintHex())
	return nil
}

// Addr is the bound address. Listen must have succeeded.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts watchers until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("eventtap: Serve before Listen")
	}
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("eventtap: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveWatcher(ctx, conn)
		}()
	}
}

func (s *Server) serveWatcher(ctx context.Context, conn quic.Connection) {
	w := &watcher{
		id:     uuid.NewString(),
		remote: conn.RemoteAddr(),
		events: make(chan Event, watcherBuffer),
	}
	log := s.log.With("watcher", w.id, "remote", w.remote.String())

	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		log.Warn("opening stream failed", "error", err)
		conn.CloseWithError(1, "stream")
		return
	}

	s.mu.Lock()
	s.watchers[w.id] = w
	n := len(s.watchers)
	s.mu.Unlock()
	log.Info("watcher connected", "watchers", n)

	defer func() {
		s.mu.Lock()
		delete(s.watchers, w.id)
		s.mu.Unlock()
		stream.Close()
		conn.CloseWithError(0, "bye")
		log.Info("watcher disconnected", "dropped", w.dropped.Load())
	}()

	enc := json.NewEncoder(stream)
	// A stream reaches the peer with its first bytes.
	if err := enc.Encode(Event{Name: helloName, Time: time.Now()}); err != nil {
		log.Debug("write failed", "error", err)
		return
	}
	for {
		select {
		case ev := <-w.events:
			if err := enc.Encode(ev); err != nil {
				log.Debug("write failed", "error", err)
				return
			}
		case <-conn.Context().Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// Publish queues ev for every watcher without blocking.
func (s *Server) Publish(ev Event) {
	s.published.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watchers {
		select {
		case w.events <- ev:
		default:
			w.dropped.Add(1)
			s.dropped.Add(1)
		}
	}
}

// Notify publishes a listener notification. It has the shape
// player.NewListenerDriver expects.
func (s *Server) Notify(n player.Notification) { s.Publish(FromNotification(n)) }

func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.watchers)
	s.mu.Unlock()
	return Stats{Watchers: n, Published: s.published.Load(), Dropped: s.dropped.Load()}
}
