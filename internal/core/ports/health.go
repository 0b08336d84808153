package ports

import "context"

// HealthChecker drives Pool Backend state transitions by probing every
// Backend on a fixed interval and applying the hysteresis state
// machine described by the Config's failures/passes thresholds.
type HealthChecker interface {
	Start(ctx context.Context)
	Stop()
}
