// Package manager implements the supervisor side of the manager/worker
// fan-out: it forks a fixed number of worker processes, accepts
// their subscriptions on an internal control socket, and publishes
// pool-mutation events to every subscriber through a per-subscriber
// buffered channel with drop-on-full backpressure.
package manager

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/weldr-proxy/weldr/internal/config"
	"github.com/weldr-proxy/weldr/internal/core/domain"
	"github.com/weldr-proxy/weldr/internal/core/ports"
	"github.com/weldr-proxy/weldr/internal/logger"
	"github.com/weldr-proxy/weldr/pkg/eventbus"
	"github.com/weldr-proxy/weldr/pkg/wire"
)

// Manager is the concrete ports.Publisher implementation and owns both
// the worker process lifecycle and the event fan-out bus.
type Manager struct {
	cfg  config.ManagerConfig
	pool ports.Pool
	log  *logger.StyledLogger

	bus *eventbus.Bus[domain.Event]

	listener net.Listener

	workerPIDs []int
	workersMu  sync.Mutex
}

// New constructs a Manager. pool supplies the bootstrap snapshot sent
// to every newly-subscribed worker.
func New(cfg config.ManagerConfig, pool ports.Pool, log *logger.StyledLogger) *Manager {
	cap := cfg.SubscriberInFlightCap
	if cap <= 0 {
		cap = domain.SubscriberInFlightCap
	}

	return &Manager{
		cfg:  cfg,
		pool: pool,
		log:  log,
		// No reaper: a subscription ends only when its connection drops
		// or a delivery fails, never because the pool was quiet.
		bus: eventbus.NewWithConfig[domain.Event](eventbus.Config{
			BufferSize: cap,
		}),
	}
}

// Start binds the control socket, begins accepting subscriber
// connections, and forks the configured number of worker processes.
func (m *Manager) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.cfg.ControlAddress)
	if err != nil {
		return fmt.Errorf("manager: bind control socket: %w", err)
	}
	m.listener = ln

	go m.acceptLoop(ctx)

	for i := 0; i < m.cfg.WorkerCount; i++ {
		if err := m.spawnWorker(ctx, i); err != nil {
			return fmt.Errorf("manager: spawn worker %d: %w", i, err)
		}
	}
	return nil
}

// Stop closes the control socket and the event bus. In-flight worker
// processes are left running; the caller is expected to signal them
// independently (they share the supervisor's process group).
func (m *Manager) Stop() error {
	m.bus.Shutdown()
	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}

func (m *Manager) spawnWorker(ctx context.Context, id int) error {
	exePath, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, exePath, "worker", "--id", fmt.Sprintf("%d", id),
		"--control", m.cfg.ControlAddress)
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker process: %w", err)
	}

	m.workersMu.Lock()
	m.workerPIDs = append(m.workerPIDs, cmd.Process.Pid)
	m.workersMu.Unlock()

	if m.log != nil {
		m.log.Info("worker process started", "worker_id", id, "pid", cmd.Process.Pid)
	}

	go func() {
		if waitErr := cmd.Wait(); waitErr != nil && ctx.Err() == nil {
			if m.log != nil {
				m.log.Error("worker process exited", "worker_id", id, "error", waitErr)
			}
		}
	}()
	return nil
}

func (m *Manager) acceptLoop(ctx context.Context) {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if m.log != nil {
				m.log.Error("manager: accept failed", "error", err)
			}
			return
		}
		go m.onSubscribe(ctx, conn)
	}
}

// onSubscribe registers a new subscription on the event bus, immediately
// sends the bootstrap event so a late-joining worker converges without
// waiting for the next delta, and drains the subscriber's channel onto
// the wire until the connection drops or ctx is cancelled.
func (m *Manager) onSubscribe(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := m.bus.Subscribe(subCtx)
	defer unsubscribe()

	if m.log != nil {
		m.log.Info("worker subscribed", "remote_addr", conn.RemoteAddr().String())
	}

	bootstrap := domain.NewBootstrapEvent(serverList(m.pool))
	if err := sendFrame(conn, bootstrap); err != nil {
		if m.log != nil {
			m.log.Warn("failed to send bootstrap event", "error", err)
		}
		return
	}

	// Detect the subscriber disconnecting; the protocol has nothing for
	// the worker to send us after subscribing.
	go func() {
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
		cancel()
	}()

	for {
		select {
		case <-subCtx.Done():
			if m.log != nil {
				m.log.Info("worker subscription dropped", "remote_addr", conn.RemoteAddr().String())
			}
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := sendFrame(conn, event); err != nil {
				if m.log != nil {
					m.log.Warn("failed to deliver event, dropping subscriber", "error", err)
				}
				return
			}
		}
	}
}

func serverList(pool ports.Pool) []*domain.Server {
	backends := pool.All()
	servers := make([]*domain.Server, 0, len(backends))
	for _, b := range backends {
		servers = append(servers, b.Server)
	}
	return servers
}

func sendFrame(conn net.Conn, event domain.Event) error {
	payload, err := msgpack.Marshal(&event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return wire.WriteFrame(conn, payload)
}

// PublishAddServer implements ports.Publisher.
func (m *Manager) PublishAddServer(server *domain.Server) {
	m.bus.Publish(domain.NewServerEvent(domain.EventAddServer, server))
}

// PublishRemoveServer implements ports.Publisher. DELETE through the
// admin API fans out cluster-wide, same as an addition.
func (m *Manager) PublishRemoveServer(server *domain.Server) {
	m.bus.Publish(domain.NewServerEvent(domain.EventRemoveServer, server))
}

// PublishMarkDown implements ports.Publisher.
func (m *Manager) PublishMarkDown(server *domain.Server) {
	m.bus.Publish(domain.NewServerEvent(domain.EventMarkServerDown, server))
}

// PublishMarkActive implements ports.Publisher.
func (m *Manager) PublishMarkActive(server *domain.Server) {
	m.bus.Publish(domain.NewServerEvent(domain.EventMarkServerActive, server))
}

// SubscriberCount reports the current number of live subscriptions,
// exposed for the admin API's status summary.
func (m *Manager) SubscriberCount() int {
	return m.bus.Stats().ActiveSubscribers
}
