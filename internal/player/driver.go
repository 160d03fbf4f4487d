package player

import (
	"sync"

	"github.com/zsiec/mediaplay/internal/source"
)

// ListenerDriver is a Driver that turns the lifecycle callbacks into
// listener notifications and remembers the latest duration and flags.
type ListenerDriver struct {
	listener func(Notification)

	mu         sync.Mutex
	durationUs int64
	flags      source.Flags
	prepared   bool
}

// NewListenerDriver returns a driver that forwards to listener, which must
// not block.
func NewListenerDriver(listener func(Notification)) *ListenerDriver {
	return &ListenerDriver{listener: listener, durationUs: -1}
}

func (d *ListenerDriver) PrepareCompleted(err error) {
	d.mu.Lock()
	d.prepared = err == nil
	d.mu.Unlock()
	if err != nil {
		d.listener(Notification{Code: MsgError, Ext1: ErrorUnknown, Ext2: ErrorCodeFor(err)})
		return
	}
	d.listener(Notification{Code: MsgPrepared})
}

func (d *ListenerDriver) DurationUpdate(durationUs int64) {
	d.mu.Lock()
	d.durationUs = durationUs
	d.mu.Unlock()
}

func (d *ListenerDriver) SeekCompleted() {
	d.listener(Notification{Code: MsgSeekComplete})
}

func (d *ListenerDriver) ResetCompleted() {
	d.mu.Lock()
	d.prepared = false
	d.mu.Unlock()
}

func (d *ListenerDriver) SetSurfaceCompleted() {}

func (d *ListenerDriver) FlagsChanged(flags source.Flags) {
	d.mu.Lock()
	d.flags = flags
	d.mu.Unlock()
}

func (d *ListenerDriver) Notify(n Notification) {
	d.listener(n)
}

// DurationUs returns the last reported duration, or -1.
func (d *ListenerDriver) DurationUs() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.durationUs
}

// Flags returns the last reported source flags.
func (d *ListenerDriver) Flags() source.Flags {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flags
}

// Prepared reports whether the last prepare succeeded and no reset followed.
func (d *ListenerDriver) Prepared() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prepared
}
