// Package frontend accepts client connections on the proxy-facing
// socket and binds the ProxyService to each one.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/weldr-proxy/weldr/internal/config"
	"github.com/weldr-proxy/weldr/internal/core/ports"
	"github.com/weldr-proxy/weldr/internal/logger"
)

// Listener owns the front-end HTTP server. No TLS is terminated here;
// upstream TLS is a connector capability, not a front-listener
// contract.
type Listener struct {
	server *http.Server
	bound  net.Listener
	log    *logger.StyledLogger
}

// New builds a Listener that dispatches every request to proxySvc.
func New(cfg config.ServerConfig, proxySvc ports.ProxyService, log *logger.StyledLogger) *Listener {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		proxySvc.ServeRequest(r.Context(), w, r)
	})

	return &Listener{
		log: log,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.ProxyHost, cfg.ProxyPort),
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Start binds the listening socket with TCP_NODELAY set on every
// accepted connection and serves until Stop is called.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		return fmt.Errorf("bind frontend listener: %w", err)
	}
	noDelayLn := &tcpNoDelayListener{TCPListener: ln.(*net.TCPListener)}
	l.bound = noDelayLn

	if l.log != nil {
		l.log.Info("frontend listener started", "addr", l.server.Addr)
	}

	go func() {
		if err := l.server.Serve(noDelayLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if l.log != nil {
				l.log.Error("frontend listener stopped unexpectedly", "error", err)
			}
		}
	}()
	return nil
}

// Stop gracefully shuts the listener down within ctx's deadline.
func (l *Listener) Stop(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}

// Addr reports the bound address, which differs from the configured one
// when port 0 was requested.
func (l *Listener) Addr() string {
	if l.bound == nil {
		return l.server.Addr
	}
	return l.bound.Addr().String()
}

// tcpNoDelayListener wraps a *net.TCPListener to disable Nagle's
// algorithm on every accepted connection.
type tcpNoDelayListener struct {
	*net.TCPListener
}

func (l *tcpNoDelayListener) Accept() (net.Conn, error) {
	conn, err := l.TCPListener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	_ = conn.SetNoDelay(true)
	_ = conn.SetKeepAlive(true)
	_ = conn.SetKeepAlivePeriod(3 * time.Minute)
	return conn, nil
}
