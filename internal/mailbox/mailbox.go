// Package mailbox provides the serial message loop that the source and the
// player run on. A Mailbox is an unbounded FIFO with one consumer: every
// message is handled to completion before the next one starts, so state
// owned by the handler needs no locking.
//
// Posting never blocks, which keeps two mailboxes that post to each other
// free of deadlock. Delayed posts are driven by timers and land at the tail
// of the queue when they fire.
package mailbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrStopped is returned by Request when the mailbox stops before replying.
var ErrStopped = errors.New("mailbox: stopped")

// Mailbox delivers messages of type M to a single handler goroutine.
type Mailbox[M any] struct {
	mu      sync.Mutex
	queue   []M
	timers  map[*time.Timer]struct{}
	replies map[uuid.UUID]chan any
	stopped bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// New returns an idle mailbox. Call Run to start delivering.
func New[M any]() *Mailbox[M] {
	return &Mailbox[M]{
		timers:  make(map[*time.Timer]struct{}),
		replies: make(map[uuid.UUID]chan any),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Post appends m to the queue. Posting to a stopped mailbox is a no-op.
func (b *Mailbox[M]) Post(m M) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, m)
	b.mu.Unlock()
	b.signal()
}

// PostDelayed posts m after d. A non-positive delay posts immediately.
func (b *Mailbox[M]) PostDelayed(m M, d time.Duration) {
	if d <= 0 {
		b.Post(m)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		b.mu.Lock()
		delete(b.timers, t)
		b.mu.Unlock()
		b.Post(m)
	})
	b.timers[t] = struct{}{}
}

func (b *Mailbox[M]) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run delivers messages to handle until ctx is cancelled or Stop is called.
func (b *Mailbox[M]) Run(ctx context.Context, handle func(M)) {
	defer b.Stop()
	for {
		m, ok := b.next()
		if ok {
			handle(m)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-b.wake:
		}
	}
}

func (b *Mailbox[M]) next() (M, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero M
	if b.stopped || len(b.queue) == 0 {
		return zero, false
	}
	m := b.queue[0]
	b.queue[0] = zero
	b.queue = b.queue[1:]
	return m, true
}

// Stop discards queued messages, cancels pending timers and fails any
// outstanding requests. It is safe to call more than once.
func (b *Mailbox[M]) Stop() {
	b.once.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.queue = nil
		for t := range b.timers {
			t.Stop()
		}
		clear(b.timers)
		b.mu.Unlock()
		close(b.done)
	})
}

// Done is closed once the mailbox has stopped.
func (b *Mailbox[M]) Done() <-chan struct{} {
	return b.done
}

// Len returns the number of queued messages.
func (b *Mailbox[M]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Request posts the message built for a fresh request id and blocks until
// the handler calls Reply with that id.
func (b *Mailbox[M]) Request(ctx context.Context, build func(id uuid.UUID) M) (any, error) {
	id := uuid.New()
	ch := make(chan any, 1)
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, ErrStopped
	}
	b.replies[id] = ch
	b.mu.Unlock()

	b.Post(build(id))

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		b.drop(id)
		return nil, ctx.Err()
	case <-b.done:
		b.drop(id)
		return nil, ErrStopped
	}
}

// Reply fulfils the request with the given id. Unknown ids are ignored.
func (b *Mailbox[M]) Reply(id uuid.UUID, v any) {
	b.mu.Lock()
	ch, ok := b.replies[id]
	delete(b.replies, id)
	b.mu.Unlock()
	if ok {
		ch <- v
	}
}

func (b *Mailbox[M]) drop(id uuid.UUID) {
	b.mu.Lock()
	delete(b.replies, id)
	b.mu.Unlock()
}

// Call is Request with the reply asserted to T. A nil reply yields the zero T.
func Call[T any, M any](ctx context.Context, b *Mailbox[M], build func(id uuid.UUID) M) (T, error) {
	var zero T
	v, err := b.Request(ctx, build)
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.New("mailbox: unexpected reply type")
	}
	return t, nil
}
