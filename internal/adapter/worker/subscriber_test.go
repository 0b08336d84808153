package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/weldr-proxy/weldr/internal/adapter/pool"
	"github.com/weldr-proxy/weldr/internal/core/domain"
	"github.com/weldr-proxy/weldr/pkg/wire"
)

// startFakeManager listens on an ephemeral port and returns the address
// plus a channel of accepted connections, so tests can push frames
// without spinning up the real manager package.
func startFakeManager(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	conns := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()
	return ln.Addr().String(), conns
}

func sendEvent(t *testing.T, conn net.Conn, event domain.Event) {
	t.Helper()
	payload, err := msgpack.Marshal(&event)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, payload))
}

func TestSubscriberAppliesBootstrap(t *testing.T) {
	addr, conns := startFakeManager(t)
	p := pool.New()
	sub := New(addr, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	conn := <-conns
	defer conn.Close()

	server1, _ := domain.NewServer("http://10.0.0.1:9000", false)
	server2, _ := domain.NewServer("http://10.0.0.2:9000", false)
	sendEvent(t, conn, domain.NewBootstrapEvent([]*domain.Server{server1, server2}))

	require.Eventually(t, func() bool {
		return len(p.All()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestSubscriberAppliesAddAndRemove(t *testing.T) {
	addr, conns := startFakeManager(t)
	p := pool.New()
	sub := New(addr, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	conn := <-conns
	defer conn.Close()

	server, _ := domain.NewServer("http://10.0.0.5:9000", false)
	sendEvent(t, conn, domain.NewServerEvent(domain.EventAddServer, server))
	require.Eventually(t, func() bool {
		_, ok := p.Find(server)
		return ok
	}, time.Second, 10*time.Millisecond)

	sendEvent(t, conn, domain.NewServerEvent(domain.EventRemoveServer, server))
	require.Eventually(t, func() bool {
		_, ok := p.Find(server)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestSubscriberAppliesMarkDownAndActive(t *testing.T) {
	addr, conns := startFakeManager(t)
	p := pool.New()
	server, _ := domain.NewServer("http://10.0.0.9:9000", false)
	p.Add(server)

	sub := New(addr, p, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	conn := <-conns
	defer conn.Close()

	sendEvent(t, conn, domain.NewServerEvent(domain.EventMarkServerDown, server))
	require.Eventually(t, func() bool {
		b, _ := p.Find(server)
		return b.State() == domain.BackendDown
	}, time.Second, 10*time.Millisecond)

	sendEvent(t, conn, domain.NewServerEvent(domain.EventMarkServerActive, server))
	require.Eventually(t, func() bool {
		b, _ := p.Find(server)
		return b.State() == domain.BackendActive
	}, time.Second, 10*time.Millisecond)
}

func TestSubscriberIgnoresMarkForUnknownServer(t *testing.T) {
	addr, conns := startFakeManager(t)
	p := pool.New()
	sub := New(addr, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	conn := <-conns
	defer conn.Close()

	unknown, _ := domain.NewServer("http://10.0.0.13:9000", false)
	sendEvent(t, conn, domain.NewServerEvent(domain.EventMarkServerDown, unknown))

	// A later add still lands, proving the mark neither admitted the
	// unknown server nor wedged the event loop.
	known, _ := domain.NewServer("http://10.0.0.14:9000", false)
	sendEvent(t, conn, domain.NewServerEvent(domain.EventAddServer, known))

	require.Eventually(t, func() bool {
		_, ok := p.Find(known)
		return ok
	}, time.Second, 10*time.Millisecond)

	_, found := p.Find(unknown)
	assert.False(t, found)
	assert.Len(t, p.All(), 1)
}

func TestSubscriberIgnoresMalformedFrame(t *testing.T) {
	addr, conns := startFakeManager(t)
	p := pool.New()
	sub := New(addr, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	conn := <-conns
	defer conn.Close()

	require.NoError(t, wire.WriteFrame(conn, []byte("not valid msgpack event")))

	server, _ := domain.NewServer("http://10.0.0.20:9000", false)
	sendEvent(t, conn, domain.NewServerEvent(domain.EventAddServer, server))

	require.Eventually(t, func() bool {
		_, ok := p.Find(server)
		return ok
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, p.All(), 1)
}
