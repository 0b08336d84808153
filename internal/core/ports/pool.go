package ports

import (
	"context"

	"github.com/weldr-proxy/weldr/internal/core/domain"
)

// Dispatch is the caller-supplied function passed to Pool.Request: given
// the selected Server it performs the actual upstream exchange and
// reports the resulting HTTP status code (or an error) so the Pool can
// update that Backend's Stats.
type Dispatch func(ctx context.Context, server *domain.Server) (statusCode int, err error)

// Pool is a shared, round-robin container of Backends. All access is
// serialized; the handle is cheap to share by reference among
// ProxyService, the Admin API, the HealthChecker and the worker
// subscriber.
type Pool interface {
	// Add inserts a new Backend for server in the Active state.
	// Returns false if a Backend with an equal Server already exists.
	Add(server *domain.Server) bool
	// Remove deletes the Backend matching server, if any. A no-op if
	// not found.
	Remove(server *domain.Server)
	// Find returns the Backend matching server, if any.
	Find(server *domain.Server) (*domain.Backend, bool)
	// All returns a snapshot of every Backend currently in the pool.
	All() []*domain.Backend
	// SetState transitions the Backend matching server, if found.
	// Reports whether a matching Backend existed.
	SetState(server *domain.Server, state domain.BackendState) bool
	// Request advances the round-robin cursor, selects the next
	// Active Backend, and invokes dispatch against its Server. The
	// selected Backend's Stats are updated from the dispatch outcome.
	// Returns ErrPoolExhausted if no Backend is Active.
	Request(ctx context.Context, dispatch Dispatch) error
}
