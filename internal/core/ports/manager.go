package ports

import (
	"context"

	"github.com/weldr-proxy/weldr/internal/core/domain"
)

// Publisher is the supervisor-side half of the manager fan-out: the
// Admin API and HealthChecker call it when the Pool changes so every
// worker subscriber observes the same membership and state.
type Publisher interface {
	PublishAddServer(server *domain.Server)
	PublishRemoveServer(server *domain.Server)
	PublishMarkDown(server *domain.Server)
	PublishMarkActive(server *domain.Server)
}

// Subscriber is the worker-side half: it connects to the manager's
// control channel and applies received events to a local Pool.
type Subscriber interface {
	Run(ctx context.Context) error
}
