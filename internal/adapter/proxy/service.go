// Package proxy implements the request rewrite and dispatch path: each
// inbound request is rewritten per RFC 7230 intermediary rules, sent to
// a Backend selected through the Pool's round-robin with three
// independent upstream timeouts, and the response is rewritten and
// streamed back to the client.
package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/weldr-proxy/weldr/internal/config"
	"github.com/weldr-proxy/weldr/internal/core/domain"
	"github.com/weldr-proxy/weldr/internal/core/ports"
	"github.com/weldr-proxy/weldr/internal/logger"
	"github.com/weldr-proxy/weldr/internal/util"
	pkgpool "github.com/weldr-proxy/weldr/pkg/pool"
)

const (
	defaultMaxIdleConns        = 64
	defaultMaxIdleConnsPerHost = 8
	defaultIdleConnTimeout     = 90 * time.Second
)

// Service is the concrete ports.ProxyService implementation. One
// instance is shared by the frontend listener and bound to every
// accepted connection (it holds no per-connection state itself; each
// call to ServeRequest is independent).
type Service struct {
	pool      ports.Pool
	cfg       config.ProxyConfig
	transport *http.Transport
	client    *http.Client
	buffers   *pkgpool.BufferPool
	log       *logger.StyledLogger

	totalRequests int64
	successful    int64
	failed        int64
	latencySumMs  int64
}

// NewService constructs a Service bound to pool, tuned by cfg.
func NewService(cfg config.ProxyConfig, pool ports.Pool, log *logger.StyledLogger) *Service {
	transport := &http.Transport{
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			return &writeDeadlineConn{Conn: conn, timeout: cfg.WriteTimeout}, nil
		},
	}

	bufSize := cfg.StreamBufferSize
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}

	return &Service{
		pool:      pool,
		cfg:       cfg,
		transport: transport,
		client:    &http.Client{Transport: transport},
		buffers: pkgpool.NewBufferPool(bufSize),
		log:     log,
	}
}

// ServeRequest implements ports.ProxyService.
func (s *Service) ServeRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := util.GenerateRequestID()

	atomic.AddInt64(&s.totalRequests, 1)

	err := s.pool.Request(ctx, func(ctx context.Context, server *domain.Server) (int, error) {
		return s.dispatch(ctx, w, r, server, requestID)
	})

	latencyMs := time.Since(start).Milliseconds()
	atomic.AddInt64(&s.latencySumMs, latencyMs)

	if err == nil {
		atomic.AddInt64(&s.successful, 1)
		return
	}

	atomic.AddInt64(&s.failed, 1)

	if errors.Is(err, domain.ErrPoolExhausted) {
		if s.log != nil {
			s.log.Warn("pool exhausted, no active backends", "request_id", requestID)
		}
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	var perr *domain.ProxyError
	if errors.As(err, &perr) {
		if s.log != nil {
			s.log.Warn(perr.Error(), "request_id", requestID)
		}
	}
	// dispatch already wrote a response (or attempted to) for every
	// other failure kind; nothing further to do here.
}

// dispatch synthesizes the upstream URL, applies map_request/map_response,
// and streams the exchange. It returns the upstream status code (or an
// error) so the Pool can update the selected Backend's Stats.
func (s *Service) dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, server *domain.Server, requestID string) (int, error) {
	target := *server.URL
	target.Path = util.JoinURLPath(server.URL.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return 0, domain.NewProxyError(requestID, target.String(), r.Method, r.URL.Path, 0, 0, err)
	}
	outReq.Header = make(http.Header, len(r.Header)+1)
	mapRequest(outReq.Header, r, target.Host, server.MapHost)
	if server.MapHost {
		outReq.Host = target.Host
	} else {
		outReq.Host = r.Host
	}

	dispatchStart := time.Now()
	resp, err := s.client.Do(outReq)
	if err != nil {
		latency := time.Since(dispatchStart)
		if s.log != nil {
			s.log.WarnWithEndpoint("upstream dispatch failed", server.Key(),
				"request_id", requestID, "client_ip", util.GetClientIP(r, false))
		}
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return 0, domain.NewProxyError(requestID, target.String(), r.Method, r.URL.Path, 0, latency, err)
	}
	defer resp.Body.Close()

	mapResponse(w.Header(), resp.Header)
	tok := viaToken(resp.Proto)
	if existing := w.Header().Get("Via"); existing != "" {
		w.Header().Set("Via", existing+", "+tok)
	} else {
		w.Header().Set("Via", tok)
	}
	w.WriteHeader(resp.StatusCode)

	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}

	if _, streamErr := streamResponse(ctx, w, resp.Body, *buf, readTimeout); streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		latency := time.Since(dispatchStart)
		return resp.StatusCode, domain.NewProxyError(requestID, target.String(), r.Method, r.URL.Path, resp.StatusCode, latency, streamErr)
	}

	return resp.StatusCode, nil
}

// Stats implements ports.ProxyService.
func (s *Service) Stats() ports.ProxyStats {
	total := atomic.LoadInt64(&s.totalRequests)
	var avg int64
	if total > 0 {
		avg = atomic.LoadInt64(&s.latencySumMs) / total
	}
	return ports.ProxyStats{
		TotalRequests:      total,
		SuccessfulRequests: atomic.LoadInt64(&s.successful),
		FailedRequests:     atomic.LoadInt64(&s.failed),
		AverageLatencyMs:   avg,
	}
}

// Close releases idle upstream connections.
func (s *Service) Close() {
	s.transport.CloseIdleConnections()
}

// writeDeadlineConn arms a write deadline before every write so a
// stalled upstream fails the exchange instead of blocking the request
// body copy indefinitely. The connect and read legs have their own
// bounds (dialer timeout, response-header timeout and the per-chunk
// stream timer).
type writeDeadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *writeDeadlineConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(p)
}
