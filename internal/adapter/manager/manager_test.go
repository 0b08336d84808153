package manager

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/weldr-proxy/weldr/internal/adapter/pool"
	"github.com/weldr-proxy/weldr/internal/config"
	"github.com/weldr-proxy/weldr/internal/core/domain"
	"github.com/weldr-proxy/weldr/pkg/wire"
)

// recvEvent connects directly to the manager's control socket and
// decodes one framed event, bypassing the worker package so this test
// exercises only the manager side of the wire protocol.
func recvEvent(t *testing.T, conn net.Conn) domain.Event {
	t.Helper()
	payload, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	var event domain.Event
	require.NoError(t, msgpack.Unmarshal(payload, &event))
	return event
}

func newTestManager(t *testing.T) (*Manager, *pool.Pool, string) {
	t.Helper()
	p := pool.New()
	cfg := config.ManagerConfig{
		WorkerCount:           0,
		ControlAddress:        "127.0.0.1:0",
		SubscriberInFlightCap: 5,
	}
	m := New(cfg, p, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	m.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.acceptLoop(ctx)

	return m, p, ln.Addr().String()
}

func TestManagerSendsBootstrapOnSubscribe(t *testing.T) {
	m, p, addr := newTestManager(t)
	server, _ := domain.NewServer("http://10.0.0.1:9000", false)
	p.Add(server)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	event := recvEvent(t, conn)
	require.Equal(t, domain.EventBootstrap, event.Kind)
	require.Len(t, event.Servers, 1)
	require.Equal(t, server.Key(), event.Servers[0].URL)

	_ = m
}

func TestManagerFansOutAddServerToAllSubscribers(t *testing.T) {
	m, _, addr := newTestManager(t)

	conn1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn1.Close()
	conn2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn2.Close()

	recvEvent(t, conn1) // bootstrap
	recvEvent(t, conn2) // bootstrap

	server, _ := domain.NewServer("http://10.0.0.2:9000", false)
	m.PublishAddServer(server)

	event1 := recvEvent(t, conn1)
	event2 := recvEvent(t, conn2)
	require.Equal(t, domain.EventAddServer, event1.Kind)
	require.Equal(t, domain.EventAddServer, event2.Kind)
}

func TestManagerSubscriberCountDropsOnDisconnect(t *testing.T) {
	m, _, addr := newTestManager(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	recvEvent(t, conn) // bootstrap

	require.Eventually(t, func() bool {
		return m.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return m.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}
