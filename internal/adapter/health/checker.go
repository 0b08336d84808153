// Package health implements the active health checker: a timer-driven
// prober that dispatches one concurrent GET per Backend every tick and
// drives Active/Down transitions through per-Backend hysteresis
// counters. Probe concurrency per tick is bounded, and a slow probe
// round never delays the next tick.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weldr-proxy/weldr/internal/core/domain"
	"github.com/weldr-proxy/weldr/internal/core/ports"
	"github.com/weldr-proxy/weldr/internal/logger"
)

// Config carries the tunables named in the Config data model: interval,
// probe path, and the failure/pass thresholds that gate a transition.
type Config struct {
	Interval     time.Duration
	URIPath      string
	Failures     uint64
	Passes       uint64
	ProbeTimeout time.Duration
	Workers      int
}

// DefaultConfig returns the health-checker defaults used when no
// override is configured.
func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Second,
		URIPath:      "/health",
		Failures:     3,
		Passes:       2,
		ProbeTimeout: 5 * time.Second,
		Workers:      4,
	}
}

// Checker is the concrete ports.HealthChecker implementation.
type Checker struct {
	cfg       Config
	pool      ports.Pool
	publisher ports.Publisher
	client    *http.Client
	log       *logger.StyledLogger

	mu     sync.Mutex
	states map[string]domain.HealthState

	cancel  context.CancelFunc
	done    chan struct{}
	inProbe sync.WaitGroup
}

// New constructs a Checker. publisher may be nil (e.g. inside a worker
// process, which observes state purely via the manager's events and
// never runs its own checker).
func New(cfg Config, pool ports.Pool, publisher ports.Publisher, log *logger.StyledLogger) *Checker {
	return &Checker{
		cfg:       cfg,
		pool:      pool,
		publisher: publisher,
		client:    &http.Client{Timeout: cfg.ProbeTimeout},
		log:       log,
		states:    make(map[string]domain.HealthState),
	}
}

// Start begins the interval timer. It returns immediately; the probe
// loop runs until ctx is cancelled or Stop is called.
func (c *Checker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.probeAll(ctx, c.pool.All())
			}
		}
	}()
}

// probeAll fans one probe per backend out on a bounded errgroup, run on
// its own goroutine so a slow round never delays the next tick.
func (c *Checker) probeAll(ctx context.Context, backends []*domain.Backend) {
	c.inProbe.Add(1)
	go func() {
		defer c.inProbe.Done()

		g := new(errgroup.Group)
		g.SetLimit(c.cfg.Workers)
		for _, backend := range backends {
			g.Go(func() error {
				c.probe(ctx, backend)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Stop cancels the probe loop and waits for in-flight probes to drain.
func (c *Checker) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
	c.inProbe.Wait()
}

// probe dispatches a single GET and feeds the outcome into the
// hysteresis state machine.
func (c *Checker) probe(ctx context.Context, backend *domain.Backend) {
	probeURL := backend.Server.URL.String() + c.cfg.URIPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		c.applyOutcome(backend, false)
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.applyOutcome(backend, false)
		return
	}
	defer resp.Body.Close()

	c.applyOutcome(backend, resp.StatusCode < 400)
}

// applyOutcome implements the hysteresis transition table: success
// resets or advances Passing, failure resets or advances Failing, and
// crossing the configured threshold flips the Backend's Active/Down
// state and publishes the corresponding event.
func (c *Checker) applyOutcome(backend *domain.Backend, success bool) {
	c.mu.Lock()
	key := backend.Server.Key()
	prev, known := c.states[key]
	if !known {
		prev = domain.Reset(domain.HealthPassing)
	}
	active := backend.IsActive()

	var next domain.HealthState
	promote, demote := false, false

	if success {
		switch {
		case active && prev.Outcome == domain.HealthPassing:
			next = prev
		case active && prev.Outcome == domain.HealthFailing:
			next = domain.Reset(domain.HealthPassing)
		case !active && prev.Outcome == domain.HealthPassing:
			next = prev.Increment()
			if next.Consecutive >= c.cfg.Passes {
				promote = true
				next = domain.Reset(domain.HealthPassing)
			}
		case !active && prev.Outcome == domain.HealthFailing:
			next = domain.HealthState{Outcome: domain.HealthPassing, Consecutive: 1}
		}
	} else {
		switch {
		case !active && prev.Outcome == domain.HealthFailing:
			next = prev
		case !active && prev.Outcome == domain.HealthPassing:
			next = domain.Reset(domain.HealthFailing)
		case active && prev.Outcome == domain.HealthFailing:
			next = prev.Increment()
			if next.Consecutive >= c.cfg.Failures {
				demote = true
				next = domain.Reset(domain.HealthFailing)
			}
		case active && prev.Outcome == domain.HealthPassing:
			next = domain.HealthState{Outcome: domain.HealthFailing, Consecutive: 1}
		}
	}

	c.states[key] = next
	c.mu.Unlock()

	switch {
	case promote:
		backend.SetState(domain.BackendActive)
		if c.log != nil {
			c.log.InfoWithEndpoint("backend promoted to active", key)
		}
		if c.publisher != nil {
			c.publisher.PublishMarkActive(backend.Server)
		}
	case demote:
		backend.SetState(domain.BackendDown)
		if c.log != nil {
			c.log.WarnWithEndpoint("backend marked down", key)
		}
		if c.publisher != nil {
			c.publisher.PublishMarkDown(backend.Server)
		}
	}
}
