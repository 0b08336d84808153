package ports

import (
	"context"
	"net/http"
)

// ProxyService is bound per accepted connection. It rewrites and
// dispatches each inbound request to the Pool and streams the response
// back to the client.
type ProxyService interface {
	ServeRequest(ctx context.Context, w http.ResponseWriter, r *http.Request)
	Stats() ProxyStats
}

// ProxyStats is the aggregate, process-wide view of proxy throughput
// exposed by the admin API.
type ProxyStats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	AverageLatencyMs   int64
}
