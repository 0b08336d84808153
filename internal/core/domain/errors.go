package domain

import (
	"fmt"
	"time"
)

// PoolError reports a failure to mutate or select from a Pool.
type PoolError struct {
	Err       error
	Operation string
	ServerURL string
}

func (e *PoolError) Error() string {
	if e.ServerURL == "" {
		return fmt.Sprintf("pool %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("pool %s failed for %s: %v", e.Operation, e.ServerURL, e.Err)
}

func (e *PoolError) Unwrap() error { return e.Err }

// ErrPoolExhausted is returned by Pool.Request when no Backend is Active.
var ErrPoolExhausted = &PoolError{Operation: "select", Err: fmt.Errorf("no active backends")}

// HealthCheckError reports a failed probe against a Backend.
type HealthCheckError struct {
	Err                 error
	ServerURL           string
	StatusCode          int
	Latency             time.Duration
	ConsecutiveFailures uint64
}

func (e *HealthCheckError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("health check failed for %s: HTTP %d after %v (consecutive failures: %d): %v",
			e.ServerURL, e.StatusCode, e.Latency, e.ConsecutiveFailures, e.Err)
	}
	return fmt.Sprintf("health check failed for %s: %v after %v (consecutive failures: %d)",
		e.ServerURL, e.Err, e.Latency, e.ConsecutiveFailures)
}

func (e *HealthCheckError) Unwrap() error { return e.Err }

// ProxyError reports a failure while dispatching a proxied request to a
// selected Backend.
type ProxyError struct {
	Err        error
	RequestID  string
	TargetURL  string
	Method     string
	Path       string
	StatusCode int
	Latency    time.Duration
}

func (e *ProxyError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("proxy request failed [%s] %s %s -> %s: HTTP %d after %v: %v",
			e.RequestID, e.Method, e.Path, e.TargetURL, e.StatusCode, e.Latency, e.Err)
	}
	return fmt.Sprintf("proxy request failed [%s] %s %s -> %s: %v after %v",
		e.RequestID, e.Method, e.Path, e.TargetURL, e.Err, e.Latency)
}

func (e *ProxyError) Unwrap() error { return e.Err }

// ManagerError reports a failure in the supervisor's fork/publish/
// subscribe machinery.
type ManagerError struct {
	Err            error
	Operation      string
	SubscriptionID uint64
}

func (e *ManagerError) Error() string {
	if e.SubscriptionID > 0 {
		return fmt.Sprintf("manager %s failed for subscription %d: %v", e.Operation, e.SubscriptionID, e.Err)
	}
	return fmt.Sprintf("manager %s failed: %v", e.Operation, e.Err)
}

func (e *ManagerError) Unwrap() error { return e.Err }

func NewPoolError(operation, serverURL string, err error) *PoolError {
	return &PoolError{Operation: operation, ServerURL: serverURL, Err: err}
}

func NewHealthCheckError(serverURL string, statusCode int, latency time.Duration, consecutiveFailures uint64, err error) *HealthCheckError {
	return &HealthCheckError{
		ServerURL:           serverURL,
		StatusCode:          statusCode,
		Latency:             latency,
		ConsecutiveFailures: consecutiveFailures,
		Err:                 err,
	}
}

func NewProxyError(requestID, targetURL, method, path string, statusCode int, latency time.Duration, err error) *ProxyError {
	return &ProxyError{
		RequestID:  requestID,
		TargetURL:  targetURL,
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		Latency:    latency,
		Err:        err,
	}
}

func NewManagerError(operation string, subscriptionID uint64, err error) *ManagerError {
	return &ManagerError{Operation: operation, SubscriptionID: subscriptionID, Err: err}
}
