package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type poolDelta struct {
	Kind string
	URL  string
}

func recvWithin(t *testing.T, ch <-chan poolDelta, d time.Duration) poolDelta {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(d):
		t.Fatal("timed out waiting for event")
		return poolDelta{}
	}
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	bus := New[poolDelta]()
	defer bus.Shutdown()

	ctx := context.Background()
	ch1, unsub1 := bus.Subscribe(ctx)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(ctx)
	defer unsub2()

	delivered := bus.Publish(poolDelta{Kind: "add_server", URL: "http://a:8080"})
	assert.Equal(t, 2, delivered)

	for _, ch := range []<-chan poolDelta{ch1, ch2} {
		ev := recvWithin(t, ch, time.Second)
		assert.Equal(t, "add_server", ev.Kind)
		assert.Equal(t, "http://a:8080", ev.URL)
	}
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewWithConfig[poolDelta](Config{BufferSize: 2})
	defer bus.Shutdown()

	_, unsub := bus.Subscribe(context.Background())
	defer unsub()

	// Nothing drains the channel: the third publish must be dropped
	// for this subscriber, not queued and not blocked on.
	assert.Equal(t, 1, bus.Publish(poolDelta{URL: "one"}))
	assert.Equal(t, 1, bus.Publish(poolDelta{URL: "two"}))
	assert.Equal(t, 0, bus.Publish(poolDelta{URL: "three"}))

	assert.Equal(t, uint64(1), bus.Stats().TotalDropped)
}

func TestDropIsPerSubscriber(t *testing.T) {
	bus := NewWithConfig[poolDelta](Config{BufferSize: 1})
	defer bus.Shutdown()

	slow, unsubSlow := bus.Subscribe(context.Background())
	defer unsubSlow()
	fast, unsubFast := bus.Subscribe(context.Background())
	defer unsubFast()

	require.Equal(t, 2, bus.Publish(poolDelta{URL: "one"}))

	// Only the fast subscriber drains; the slow one's window is full.
	recvWithin(t, fast, time.Second)

	delivered := bus.Publish(poolDelta{URL: "two"})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, "two", recvWithin(t, fast, time.Second).URL)
	assert.Equal(t, "one", recvWithin(t, slow, time.Second).URL)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New[poolDelta]()
	defer bus.Shutdown()

	_, unsub := bus.Subscribe(context.Background())
	unsub()

	assert.Equal(t, 0, bus.Publish(poolDelta{URL: "late"}))
	assert.Equal(t, 0, bus.Stats().ActiveSubscribers)
}

func TestContextCancelTearsDownSubscription(t *testing.T) {
	bus := New[poolDelta]()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	_, unsub := bus.Subscribe(ctx)
	defer unsub()

	require.Equal(t, 1, bus.Stats().ActiveSubscribers)
	cancel()

	require.Eventually(t, func() bool {
		return bus.Stats().ActiveSubscribers == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeAfterShutdownReturnsClosedChannel(t *testing.T) {
	bus := New[poolDelta]()
	bus.Shutdown()

	ch, unsub := bus.Subscribe(context.Background())
	defer unsub()

	_, open := <-ch
	assert.False(t, open)
	assert.True(t, bus.Stats().IsShutdown)
}

func TestShutdownIsIdempotentAndStopsPublish(t *testing.T) {
	bus := New[poolDelta]()

	_, unsub := bus.Subscribe(context.Background())
	defer unsub()

	bus.Shutdown()
	bus.Shutdown()

	assert.Equal(t, 0, bus.Publish(poolDelta{URL: "after"}))
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewWithConfig[poolDelta](Config{BufferSize: 64})
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, unsub := bus.Subscribe(ctx)
			defer unsub()
			for j := 0; j < 10; j++ {
				bus.Publish(poolDelta{URL: "concurrent"})
			}
			// Drain whatever arrived while we were publishing.
			for {
				select {
				case <-ch:
				default:
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestReapRemovesIdleSubscriptions(t *testing.T) {
	bus := NewWithConfig[poolDelta](Config{
		BufferSize:      1,
		ReapPeriod:      10 * time.Millisecond,
		InactiveTimeout: 20 * time.Millisecond,
	})
	defer bus.Shutdown()

	_, unsub := bus.Subscribe(context.Background())
	defer unsub()

	require.Eventually(t, func() bool {
		return bus.Stats().ActiveSubscribers == 0
	}, time.Second, 5*time.Millisecond)
}
