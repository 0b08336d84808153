// Package eventbus is the fan-out primitive behind the supervisor's
// pool-delta publishing: a typed multi-consumer bus, safe for concurrent
// publishers, where every subscriber owns a bounded channel and a publish that
// finds that channel full is dropped for that subscriber rather than
// queued. Delivery is at-most-once; a subscriber that falls behind
// loses events and is expected to re-synchronise out of band.
package eventbus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Bus fans published values out to every live subscription.
type Bus[T any] struct {
	subs       *xsync.Map[uint64, *subscription[T]]
	nextID     atomic.Uint64
	bufferSize int
	shutdown   atomic.Bool

	reapTicker *time.Ticker
	stopReaper chan struct{}
}

// subscription is one consumer's end of the bus. lastActive and dropped
// feed the reaper and Stats; active gates sends so an unsubscribed
// channel is never written again.
type subscription[T any] struct {
	ch         chan T
	lastActive atomic.Int64
	dropped    atomic.Uint64
	active     atomic.Bool
}

// Config tunes per-subscriber buffering and stale-subscription reaping.
type Config struct {
	// BufferSize bounds how many undelivered events a subscriber may
	// hold before further publishes are dropped for it.
	BufferSize int
	// ReapPeriod is how often stale subscriptions are swept. Zero
	// disables the reaper.
	ReapPeriod time.Duration
	// InactiveTimeout is how long a subscription may go without a
	// delivery before the reaper removes it.
	InactiveTimeout time.Duration
}

// DefaultConfig is a small in-flight window per subscriber and a slow
// sweep that removes any subscription which has taken no delivery for
// InactiveTimeout, whether or not its consumer is still draining.
var DefaultConfig = Config{
	BufferSize:      5,
	ReapPeriod:      5 * time.Minute,
	InactiveTimeout: 10 * time.Minute,
}

// New returns a Bus with the default configuration.
func New[T any]() *Bus[T] {
	return NewWithConfig[T](DefaultConfig)
}

// NewWithConfig returns a Bus tuned by cfg.
func NewWithConfig[T any](cfg Config) *Bus[T] {
	b := &Bus[T]{
		subs:       xsync.NewMap[uint64, *subscription[T]](),
		bufferSize: cfg.BufferSize,
		stopReaper: make(chan struct{}),
	}

	if cfg.ReapPeriod > 0 {
		b.reapTicker = time.NewTicker(cfg.ReapPeriod)
		go b.reapLoop(cfg.InactiveTimeout)
	}

	return b
}

// Subscribe registers a new subscription and returns its receive
// channel plus an unsubscribe function. The subscription is also torn
// down when ctx is cancelled. After Shutdown, Subscribe returns an
// already-closed channel.
func (b *Bus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if b.shutdown.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID.Add(1)
	sub := &subscription[T]{ch: make(chan T, b.bufferSize)}
	sub.lastActive.Store(time.Now().UnixNano())
	sub.active.Store(true)

	b.subs.Store(id, sub)

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return sub.ch, func() { b.unsubscribe(id) }
}

// Publish delivers event to every live subscription whose buffer has
// room, and reports how many received it. Subscriptions with a full
// buffer have the event dropped and their drop counter advanced.
func (b *Bus[T]) Publish(event T) int {
	if b.shutdown.Load() {
		return 0
	}

	delivered := 0
	now := time.Now().UnixNano()

	b.subs.Range(func(_ uint64, sub *subscription[T]) bool {
		if !sub.active.Load() {
			return true
		}
		select {
		case sub.ch <- event:
			sub.lastActive.Store(now)
			delivered++
		default:
			sub.dropped.Add(1)
		}
		return true
	})

	return delivered
}

// Shutdown stops the bus. Subsequent publishes are no-ops and existing
// subscriptions stop receiving. Channels are deliberately left open:
// closing them would race with a concurrent Publish.
func (b *Bus[T]) Shutdown() {
	if !b.shutdown.CompareAndSwap(false, true) {
		return
	}

	if b.reapTicker != nil {
		b.reapTicker.Stop()
		close(b.stopReaper)
	}

	b.subs.Range(func(_ uint64, sub *subscription[T]) bool {
		sub.active.Store(false)
		return true
	})
	b.subs.Clear()
}

// Stats is a point-in-time aggregate over every subscription.
type Stats struct {
	ActiveSubscribers int
	TotalDropped      uint64
	IsShutdown        bool
}

// Stats reports the bus's current subscription and drop totals.
func (b *Bus[T]) Stats() Stats {
	stats := Stats{IsShutdown: b.shutdown.Load()}
	if stats.IsShutdown {
		return stats
	}

	b.subs.Range(func(_ uint64, sub *subscription[T]) bool {
		if sub.active.Load() {
			stats.ActiveSubscribers++
		}
		stats.TotalDropped += sub.dropped.Load()
		return true
	})
	return stats
}

func (b *Bus[T]) unsubscribe(id uint64) {
	if sub, ok := b.subs.Load(id); ok {
		sub.active.Store(false)
		b.subs.Delete(id)
	}
}

func (b *Bus[T]) reapLoop(inactiveTimeout time.Duration) {
	for {
		select {
		case <-b.stopReaper:
			return
		case <-b.reapTicker.C:
			b.reapInactive(inactiveTimeout)
		}
	}
}

// reapInactive removes subscriptions that have been unsubscribed but
// not yet deleted, or that have not taken a delivery within timeout.
func (b *Bus[T]) reapInactive(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout).UnixNano()

	var stale []uint64
	b.subs.Range(func(id uint64, sub *subscription[T]) bool {
		if !sub.active.Load() || sub.lastActive.Load() < cutoff {
			stale = append(stale, id)
		}
		return true
	})

	for _, id := range stale {
		b.unsubscribe(id)
	}
}
