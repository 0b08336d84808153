// Package worker implements the worker-side half of the manager/worker
// fan-out: it dials the manager's control channel, applies
// every received Event to a local Pool, and keeps reconnecting for the
// life of the process so a worker that loses its connection re-bootstraps
// rather than serving a stale membership forever.
package worker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/weldr-proxy/weldr/internal/core/domain"
	"github.com/weldr-proxy/weldr/internal/core/ports"
	"github.com/weldr-proxy/weldr/internal/logger"
	"github.com/weldr-proxy/weldr/pkg/wire"
)

const (
	dialTimeout      = 5 * time.Second
	reconnectBackoff = 2 * time.Second
)

// Subscriber is the concrete ports.Subscriber implementation.
type Subscriber struct {
	controlAddress string
	pool           ports.Pool
	log            *logger.StyledLogger
}

// New builds a Subscriber that applies every Event it receives from
// controlAddress to pool.
func New(controlAddress string, pool ports.Pool, log *logger.StyledLogger) *Subscriber {
	return &Subscriber{controlAddress: controlAddress, pool: pool, log: log}
}

// Run implements ports.Subscriber. It blocks until ctx is cancelled,
// reconnecting to the manager whenever the control connection drops.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
			if s.log != nil {
				s.log.Warn("manager control connection lost, reconnecting", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

// runOnce dials the manager once and processes frames until the
// connection closes or ctx is cancelled.
func (s *Subscriber) runOnce(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.controlAddress)
	if err != nil {
		return fmt.Errorf("dial manager control channel: %w", err)
	}
	defer conn.Close()

	if s.log != nil {
		s.log.Info("subscribed to manager", "control_address", s.controlAddress)
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}

		var event domain.Event
		if err := msgpack.Unmarshal(payload, &event); err != nil {
			if s.log != nil {
				s.log.Warn("discarding malformed event from manager", "error", err)
			}
			continue
		}

		s.apply(event)
	}
}

// apply mutates the local Pool according to event.Kind. A ServerSnapshot
// whose URL fails to parse is skipped rather than failing the whole
// batch; only add and bootstrap events log the skipped URL.
func (s *Subscriber) apply(event domain.Event) {
	switch event.Kind {
	case domain.EventBootstrap:
		s.applyBootstrap(event.Servers)
	case domain.EventAddServer:
		for _, snap := range event.Servers {
			s.addServer(snap)
		}
	case domain.EventRemoveServer:
		for _, snap := range event.Servers {
			if server, err := domain.NewServer(snap.URL, snap.MapHost); err == nil {
				s.pool.Remove(server)
			}
		}
	case domain.EventMarkServerDown:
		s.setState(event.Servers, domain.BackendDown)
	case domain.EventMarkServerActive:
		s.setState(event.Servers, domain.BackendActive)
	default:
		if s.log != nil {
			s.log.Warn("ignoring unknown event kind from manager", "kind", int(event.Kind))
		}
	}
}

// applyBootstrap reconciles the local Pool with the full membership
// snapshot: it adds every Server named in the bootstrap and removes any
// local Backend the snapshot no longer names, so a worker that
// reconnects mid-flight converges instead of accumulating stale entries.
func (s *Subscriber) applyBootstrap(snapshots []domain.ServerSnapshot) {
	wanted := make(map[string]bool, len(snapshots))
	for _, snap := range snapshots {
		wanted[snap.URL] = true
		s.addServer(snap)
	}

	for _, backend := range s.pool.All() {
		if !wanted[backend.Server.Key()] {
			s.pool.Remove(backend.Server)
		}
	}
}

func (s *Subscriber) addServer(snap domain.ServerSnapshot) {
	server, err := domain.NewServer(snap.URL, snap.MapHost)
	if err != nil {
		if s.log != nil {
			s.log.Warn("discarding unparseable server url from manager", "url", snap.URL, "error", err)
		}
		return
	}
	s.pool.Add(server)
}

func (s *Subscriber) setState(snapshots []domain.ServerSnapshot, state domain.BackendState) {
	for _, snap := range snapshots {
		server, err := domain.NewServer(snap.URL, snap.MapHost)
		if err != nil {
			continue
		}
		if !s.pool.SetState(server, state) {
			if s.log != nil {
				s.log.Error("mark event for unknown server, ignoring", "url", snap.URL, "state", state.String())
			}
		}
	}
}
