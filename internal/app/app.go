// Package app wires together the concrete adapters behind the two
// process modes: a supervisor (admin + proxy listeners, forks workers)
// and a worker (proxy listener only, subscribes to the supervisor's
// control channel).
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/weldr-proxy/weldr/internal/adapter/admin"
	"github.com/weldr-proxy/weldr/internal/adapter/frontend"
	"github.com/weldr-proxy/weldr/internal/adapter/health"
	"github.com/weldr-proxy/weldr/internal/adapter/manager"
	"github.com/weldr-proxy/weldr/internal/adapter/pool"
	"github.com/weldr-proxy/weldr/internal/adapter/proxy"
	"github.com/weldr-proxy/weldr/internal/adapter/worker"
	"github.com/weldr-proxy/weldr/internal/config"
	"github.com/weldr-proxy/weldr/internal/core/domain"
	"github.com/weldr-proxy/weldr/internal/core/ports"
	"github.com/weldr-proxy/weldr/internal/logger"
	"github.com/weldr-proxy/weldr/internal/version"
)

// Mode selects which process role Application plays: supervisor is the
// default, worker is the hidden subcommand a re-exec'd supervisor
// process uses.
type Mode int

const (
	ModeSupervisor Mode = iota
	ModeWorker
)

// Application owns every adapter's lifecycle for one process.
type Application struct {
	mode Mode
	cfg  *config.Config
	log  *logger.StyledLogger

	pool ports.Pool

	proxySvc *proxy.Service
	frontend *frontend.Listener

	// supervisor-only
	mgr   *manager.Manager
	admin *admin.API
	hc    ports.HealthChecker

	// worker-only
	subscriber *worker.Subscriber
	subCancel  context.CancelFunc

	seededMu sync.Mutex
	seeded   map[string]bool
}

// New constructs an Application in the given mode.
func New(cfg *config.Config, log *logger.StyledLogger, mode Mode) *Application {
	backendPool := pool.New()

	proxySvc := proxy.NewService(cfg.Proxy, backendPool, log)
	fl := frontend.New(cfg.Server, proxySvc, log)

	a := &Application{
		mode:     mode,
		cfg:      cfg,
		log:      log,
		pool:     backendPool,
		proxySvc: proxySvc,
		frontend: fl,
		seeded:   make(map[string]bool),
	}

	switch mode {
	case ModeSupervisor:
		mgr := manager.New(cfg.Manager, backendPool, log)
		a.mgr = mgr
		a.hc = health.New(toHealthConfig(cfg.HealthCheck), backendPool, mgr, log)
		a.admin = admin.New(cfg.Server, backendPool, mgr, proxySvc, version.Version, log)
		a.UpsertBackends(cfg.Backends)
	case ModeWorker:
		a.subscriber = worker.New(cfg.Manager.ControlAddress, backendPool, log)
	}

	return a
}

// UpsertBackends reconciles the pool with the statically configured
// backend list: servers new to the list are added and published,
// previously seeded servers no longer listed are removed and their
// removal published. Backends added through the admin API are left
// alone. Safe to call from the config watcher goroutine.
func (a *Application) UpsertBackends(backends []config.BackendConfig) {
	a.seededMu.Lock()
	defer a.seededMu.Unlock()

	wanted := make(map[string]bool, len(backends))
	for _, bc := range backends {
		server, err := domain.NewServer(bc.URL, bc.MapHost)
		if err != nil {
			if a.log != nil {
				a.log.Warn("skipping unparseable configured backend", "url", bc.URL, "error", err)
			}
			continue
		}
		wanted[server.Key()] = true

		if a.pool.Add(server) {
			a.seeded[server.Key()] = true
			if a.mgr != nil {
				a.mgr.PublishAddServer(server)
			}
			if a.log != nil {
				a.log.InfoWithEndpoint("configured backend added", server.Key())
			}
		}
	}

	for key := range a.seeded {
		if wanted[key] {
			continue
		}
		server, err := domain.NewServer(key, false)
		if err != nil {
			delete(a.seeded, key)
			continue
		}
		a.pool.Remove(server)
		delete(a.seeded, key)
		if a.mgr != nil {
			a.mgr.PublishRemoveServer(server)
		}
		if a.log != nil {
			a.log.InfoWithEndpoint("configured backend removed", server.Key())
		}
	}
}

func toHealthConfig(cfg config.HealthCheckConfig) health.Config {
	hc := health.DefaultConfig()
	if cfg.Interval > 0 {
		hc.Interval = cfg.Interval
	}
	if cfg.URIPath != "" {
		hc.URIPath = cfg.URIPath
	}
	if cfg.Failures > 0 {
		hc.Failures = cfg.Failures
	}
	if cfg.Passes > 0 {
		hc.Passes = cfg.Passes
	}
	if cfg.Workers > 0 {
		hc.Workers = cfg.Workers
	}
	return hc
}

// Start brings up every adapter for this process's mode. It returns
// once the front-end listener is bound; long-running loops continue in
// background goroutines.
func (a *Application) Start(ctx context.Context) error {
	switch a.mode {
	case ModeSupervisor:
		if err := a.mgr.Start(ctx); err != nil {
			return fmt.Errorf("app: start manager: %w", err)
		}
		if err := a.admin.Start(); err != nil {
			return fmt.Errorf("app: start admin API: %w", err)
		}
		a.hc.Start(ctx)
	case ModeWorker:
		subCtx, cancel := context.WithCancel(ctx)
		a.subCancel = cancel
		go func() {
			if err := a.subscriber.Run(subCtx); err != nil && subCtx.Err() == nil {
				if a.log != nil {
					a.log.Error("worker subscriber stopped unexpectedly", "error", err)
				}
			}
		}()
	}

	if err := a.frontend.Start(); err != nil {
		return fmt.Errorf("app: start frontend listener: %w", err)
	}
	return nil
}

// Stop shuts every adapter down within ctx's deadline, in reverse
// dependency order.
func (a *Application) Stop(ctx context.Context) error {
	if err := a.frontend.Stop(ctx); err != nil {
		if a.log != nil {
			a.log.Error("error stopping frontend listener", "error", err)
		}
	}
	a.proxySvc.Close()

	switch a.mode {
	case ModeSupervisor:
		a.hc.Stop()
		if err := a.admin.Stop(ctx); err != nil {
			if a.log != nil {
				a.log.Error("error stopping admin API", "error", err)
			}
		}
		if err := a.mgr.Stop(); err != nil {
			if a.log != nil {
				a.log.Error("error stopping manager", "error", err)
			}
		}
	case ModeWorker:
		if a.subCancel != nil {
			a.subCancel()
		}
	}
	return nil
}

// Pool exposes the backend pool, primarily for tests that assert on
// membership after seeding or reload.
func (a *Application) Pool() ports.Pool {
	return a.pool
}
