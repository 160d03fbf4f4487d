package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/mediaplay/internal/media"
)

const (
	// readBufferSize holds ten SRT payloads of seven TS packets each.
	readBufferSize = 1316 * 10

	defaultLatency     = 120 * time.Millisecond
	defaultDialTimeout = 10 * time.Second
	defaultMaxCache    = 64 << 20
)

// ErrDisconnected is the final status of a Live source after Disconnect.
var ErrDisconnected = errors.New("datasource: disconnected")

// ErrEvicted is returned for reads below the oldest cached byte.
var ErrEvicted = errors.New("datasource: data evicted from cache")

// Live caches a stream that arrives in order and serves random reads from
// it. Reads past the received data block until it arrives, the stream
// ends, or Disconnect is called.
type Live struct {
	log      *slog.Logger
	r        io.Reader
	closeFn  func()
	maxCache int64
	done     chan struct{}

	mu   sync.Mutex
	cond *sync.Cond
	// buf holds the bytes from base on.
	buf     []byte
	base    int64
	readPos int64
	final   error
}

// NewLive starts receiving from r. closeFn, if set, must make a blocked
// r.Read return.
func NewLive(r io.Reader, closeFn func(), maxCache int64, log *slog.Logger) *Live {
	if log == nil {
		log = slog.Default()
	}
	if maxCache <= 0 {
		maxCache = defaultMaxCache
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	l := &Live{
		log:      log.With("component", "live-source"),
		r:        r,
		closeFn:  closeFn,
		maxCache: maxCache,
		done:     make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.receive()
	return l
}

// DialSRT connects to srt://host:port, passing the streamid query
// parameter along, and streams into a Live source.
func DialSRT(ctx context.Context, uri string, opts SRTOptions, log *slog.Logger) (*Live, error) {
	if log == nil {
		log = slog.Default()
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("datasource: %q has no host", uri)
	}
	latency := opts.Latency
	if latency <= 0 {
		latency = defaultLatency
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	cfg := srtgo.DefaultConfig()
	setLatency(&cfg.Latency, latency)
	cfg.StreamID = u.Query().Get("streamid")

	log.Info("dialing", "address", u.Host, "stream_id", cfg.StreamID)
	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(u.Host, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("datasource: SRT dial %s: %w: %w", u.Host, media.ErrIO, res.err)
		}
		log.Info("connected", "address", u.Host)
		conn := res.conn
		return NewLive(conn, func() { conn.Close() }, opts.MaxCache, log), nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("datasource: SRT dial %s timed out after %s: %w", u.Host, timeout, media.ErrIO)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// setLatency stores d in srtgo's latency field, which counts nanoseconds.
func setLatency[T ~int | ~int32 | ~int64 | ~uint32 | ~uint64](dst *T, d time.Duration) { *dst = T(d) }

func (l *Live) receive() {
	defer close(l.done)
	buf := make([]byte, readBufferSize)
	for {
		n, err := l.r.Read(buf)
		if n > 0 {
			l.append(buf[:n])
		}
		if err != nil {
			final := media.ErrEndOfStream
			if !errors.Is(err, io.EOF) {
				final = fmt.Errorf("datasource: receive: %w: %w", media.ErrIO, err)
			}
			l.finish(final)
			return
		}
	}
}

func (l *Live) append(p []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.final != nil {
		return
	}
	l.buf = append(l.buf, p...)
	if over := int64(len(l.buf)) - l.maxCache; over > 0 {
		l.base += over
		l.buf = l.buf[over:]
	}
	l.cond.Broadcast()
}

func (l *Live) finish(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.final == nil {
		l.final = err
		if errors.Is(err, media.ErrEndOfStream) || errors.Is(err, ErrDisconnected) {
			l.log.Info("stream ended", "reason", err, "received", l.end())
		} else {
			l.log.Warn("stream stopped", "error", err, "received", l.end())
		}
	}
	l.cond.Broadcast()
}

// end is the offset after the newest byte. The caller holds mu.
func (l *Live) end() int64 { return l.base + int64(len(l.buf)) }

// ReadAt waits until p can be filled or the stream is over.
func (l *Live) ReadAt(p []byte, off int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.final == nil && l.end() < off+int64(len(p)) {
		l.cond.Wait()
	}
	if off < l.base {
		return 0, fmt.Errorf("datasource: offset %d: %w", off, ErrEvicted)
	}
	if off >= l.end() {
		return 0, l.eof()
	}
	n := copy(p, l.buf[off-l.base:])
	l.readPos = max(l.readPos, off+int64(n))
	if n < len(p) {
		return n, l.eof()
	}
	return n, nil
}

// eof maps the final status to what a reader expects. The caller holds mu.
func (l *Live) eof() error {
	if errors.Is(l.final, media.ErrEndOfStream) {
		return io.EOF
	}
	return l.final
}

// Size is always unknown.
func (l *Live) Size() int64 { return -1 }

func (l *Live) ApproxDataRemaining() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return max(l.end()-l.readPos, 0), l.final
}

func (l *Live) CachedSize() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.end()
}

func (l *Live) MaxCacheSize() int64 { return l.maxCache }

// ContentType is the transport stream SRT carries.
func (l *Live) ContentType() string { return "video/mp2ts" }

// Disconnect fails pending and future reads. It may be called from any
// goroutine.
func (l *Live) Disconnect() {
	l.finish(ErrDisconnected)
	l.closeFn()
}

// Close disconnects and waits for the receiver to stop.
func (l *Live) Close() error {
	l.Disconnect()
	<-l.done
	return nil
}
