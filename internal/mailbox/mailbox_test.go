package mailbox

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type request struct {
	id  uuid.UUID
	arg int
}

func run(t *testing.T, b *Mailbox[any], handle func(any)) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx, handle)
	t.Cleanup(func() {
		cancel()
		<-b.Done()
	})
	return cancel
}

func TestFIFOAndRequest(t *testing.T) {
	t.Parallel()
	b := New[any]()
	var mu sync.Mutex
	var seen []int
	run(t, b, func(m any) {
		switch m := m.(type) {
		case int:
			mu.Lock()
			seen = append(seen, m)
			mu.Unlock()
		case request:
			b.Reply(m.id, m.arg*2)
		}
	})

	for i := range 100 {
		b.Post(i)
	}
	got, err := Call[int](context.Background(), b, func(id uuid.UUID) any {
		return request{id: id, arg: 21}
	})
	if err != nil || got != 42 {
		t.Fatalf("call: got %d, %v", got, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 100 {
		t.Fatalf("handled %d messages, want 100", len(seen))
	}
	if !slices.IsSorted(seen) {
		t.Fatal("messages out of order")
	}
}

func TestPostDelayed(t *testing.T) {
	t.Parallel()
	b := New[any]()
	got := make(chan string, 2)
	run(t, b, func(m any) { got <- m.(string) })

	b.PostDelayed("late", 30*time.Millisecond)
	b.Post("now")

	if m := <-got; m != "now" {
		t.Fatalf("first: got %q, want now", m)
	}
	select {
	case m := <-got:
		if m != "late" {
			t.Fatalf("second: got %q", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed message never arrived")
	}
}

func TestStopFailsRequests(t *testing.T) {
	t.Parallel()
	b := New[any]()
	// Requests are swallowed so the caller waits until Stop.
	run(t, b, func(any) {})

	errc := make(chan error, 1)
	go func() {
		_, err := b.Request(context.Background(), func(id uuid.UUID) any { return request{id: id} })
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Stop()

	if err := <-errc; !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}
	if _, err := b.Request(context.Background(), func(id uuid.UUID) any { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: got %v", err)
	}
	b.Post("ignored")
	b.Stop()
}

func TestRequestContextCancel(t *testing.T) {
	t.Parallel()
	b := New[any]()
	run(t, b, func(any) {})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.Request(ctx, func(id uuid.UUID) any { return request{id: id} })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestCallNilReply(t *testing.T) {
	t.Parallel()
	b := New[any]()
	run(t, b, func(m any) {
		if r, ok := m.(request); ok {
			b.Reply(r.id, nil)
		}
	})
	got, err := Call[[]string](context.Background(), b, func(id uuid.UUID) any { return request{id: id} })
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	b := New[any]()
	cancel := run(t, b, func(any) {})
	cancel()
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("mailbox did not stop")
	}
	if b.Len() != 0 {
		t.Fatal("queue not cleared")
	}
}
