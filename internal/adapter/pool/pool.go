// Package pool implements the shared, round-robin backend container: an
// ordered sequence of Backends plus a cursor, with all mutation and
// selection serialized behind a single mutex so selection and failover
// bookkeeping never race.
//
// Lookup by Server is additionally indexed in a lock-free xsync.Map so
// Find/SetState from the health checker and worker subscriber don't
// contend with the hot selection path for longer than necessary.
package pool

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/weldr-proxy/weldr/internal/core/domain"
	"github.com/weldr-proxy/weldr/internal/core/ports"
)

// Pool is the concrete ports.Pool implementation.
type Pool struct {
	mu       sync.Mutex
	backends []*domain.Backend
	cursor   int

	index *xsync.Map[string, *domain.Backend]
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{
		index: xsync.NewMap[string, *domain.Backend](),
	}
}

// Add inserts a new Active Backend for server. Returns false if an
// equal Server is already present (add is idempotent, per the Pool
// invariant that no two Backends share a Server).
func (p *Pool) Add(server *domain.Server) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.index.Load(server.Key()); exists {
		return false
	}

	backend := domain.NewBackend(server)
	p.backends = append(p.backends, backend)
	p.index.Store(server.Key(), backend)
	return true
}

// Remove deletes the Backend matching server, if any.
func (p *Pool) Remove(server *domain.Server) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.index.Load(server.Key()); !exists {
		return
	}
	p.index.Delete(server.Key())

	for i, b := range p.backends {
		if b.Server.Equal(server) {
			p.backends = append(p.backends[:i], p.backends[i+1:]...)
			break
		}
	}
	// The cursor is never reset on mutation; an out-of-range value is
	// corrected by modulo on the next selection.
}

// Find returns the Backend matching server, if any.
func (p *Pool) Find(server *domain.Server) (*domain.Backend, bool) {
	return p.index.Load(server.Key())
}

// SetState transitions the Backend matching server, if found.
func (p *Pool) SetState(server *domain.Server, state domain.BackendState) bool {
	backend, ok := p.index.Load(server.Key())
	if !ok {
		return false
	}
	backend.SetState(state)
	return true
}

// All returns a snapshot of every Backend currently in the pool, in
// insertion order.
func (p *Pool) All() []*domain.Backend {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*domain.Backend, len(p.backends))
	copy(out, p.backends)
	return out
}

// Request advances the cursor, selects the next Active Backend by
// scanning forward at most one full revolution, releases the lock, and
// invokes dispatch against the selected Server outside the critical
// section. The Backend's Stats are updated once dispatch resolves.
func (p *Pool) Request(ctx context.Context, dispatch ports.Dispatch) error {
	backend := p.selectNext()
	if backend == nil {
		return domain.ErrPoolExhausted
	}

	statusCode, err := dispatch(ctx, backend.Server)
	if err != nil || statusCode >= 500 {
		backend.Stats.IncFailure()
		if err != nil {
			return domain.NewPoolError("dispatch", backend.Server.Key(), err)
		}
		return nil
	}
	backend.Stats.IncSuccess()
	return nil
}

// selectNext performs the round-robin scan under the lock and returns
// the chosen Backend, or nil if none is Active.
func (p *Pool) selectNext() *domain.Backend {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.backends)
	if n == 0 {
		return nil
	}

	p.cursor = (p.cursor + 1) % n
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if p.backends[idx].IsActive() {
			p.cursor = idx
			return p.backends[idx]
		}
	}
	return nil
}
