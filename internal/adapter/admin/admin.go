// Package admin implements the JSON administrative API: a separate
// listener exposing pool introspection and mutation, with a HATEOAS
// index and link-carrying server listings.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	units "github.com/docker/go-units"
	jsoniter "github.com/json-iterator/go"

	"github.com/weldr-proxy/weldr/internal/config"
	"github.com/weldr-proxy/weldr/internal/core/domain"
	"github.com/weldr-proxy/weldr/internal/core/ports"
	"github.com/weldr-proxy/weldr/internal/logger"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// link is one HATEOAS relation attached to a resource representation.
type link struct {
	Rel    string `json:"rel"`
	Href   string `json:"href"`
	Method string `json:"method"`
}

// indexResponse is the body of GET /.
type indexResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Links   []link `json:"links"`
}

// serverEntry is one element of the GET /servers listing.
type serverEntry struct {
	URL     string `json:"url"`
	MapHost bool   `json:"map_host"`
	State   string `json:"state"`
	Stats   string `json:"stats"`
	Links   []link `json:"links"`
}

// createServerRequest is the body of POST /servers.
type createServerRequest struct {
	URL string `json:"url"`
}

// errorResponse is the body of every non-2xx response: admin errors
// explain the parse failure without closing the connection.
type errorResponse struct {
	Error string `json:"error"`
}

// API is the concrete admin HTTP surface. It is bound to a separate
// listener from the proxy's own, so admin traffic never intersects the
// proxy data path.
type API struct {
	pool      ports.Pool
	publisher ports.Publisher
	proxy     ports.ProxyService
	version   string
	log       *logger.StyledLogger

	server *http.Server
}

// New builds an API bound to pool and publisher. publisher may be nil
// when running without a manager (e.g. a single-process test harness);
// in that case pool mutations are local only.
func New(cfg config.ServerConfig, pool ports.Pool, publisher ports.Publisher, proxy ports.ProxyService, version string, log *logger.StyledLogger) *API {
	a := &API{pool: pool, publisher: publisher, proxy: proxy, version: version, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", a.handleIndex)
	mux.HandleFunc("GET /servers", a.handleListServers)
	mux.HandleFunc("POST /servers", a.handleCreateServer)
	mux.HandleFunc("DELETE /servers/", a.handleDeleteServer)
	mux.HandleFunc("GET /status", a.handleStatus)

	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.AdminHost, cfg.AdminPort),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return a
}

// Start binds the admin listener and serves until Stop is called.
func (a *API) Start() error {
	if a.log != nil {
		a.log.Info("admin API listening", "addr", a.server.Addr)
	}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if a.log != nil {
				a.log.Error("admin API stopped unexpectedly", "error", err)
			}
		}
	}()
	return nil
}

// Stop gracefully shuts the admin listener down within ctx's deadline.
func (a *API) Stop(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *API) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, indexResponse{
		Service: "weldr",
		Version: a.version,
		Links: []link{
			{Rel: "servers", Href: "/servers", Method: http.MethodGet},
			{Rel: "status", Href: "/status", Method: http.MethodGet},
		},
	})
}

func (a *API) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.serverEntries())
}

func (a *API) serverEntries() []serverEntry {
	backends := a.pool.All()
	entries := make([]serverEntry, 0, len(backends))
	for _, b := range backends {
		success, failure := b.Stats.Snapshot()
		entries = append(entries, serverEntry{
			URL:     b.Server.Key(),
			MapHost: b.Server.MapHost,
			State:   b.State().String(),
			Stats:   fmt.Sprintf("%s requests (%d ok, %d failed)", units.HumanSize(float64(success+failure)), success, failure),
			Links: []link{
				{Rel: "delete", Href: "/servers/" + url.PathEscape(b.Server.Key()), Method: http.MethodDelete},
			},
		})
	}
	return entries
}

// handleCreateServer handles POST /servers: parse, construct, add to
// the pool, and on success publish the addition to every worker.
func (a *API) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := jsonAPI.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body: " + err.Error()})
		return
	}

	server, err := domain.NewServer(req.URL, false)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if a.pool.Add(server) {
		if a.publisher != nil {
			a.publisher.PublishAddServer(server)
		}
		if a.log != nil {
			a.log.Info("server added via admin API", "url", server.Key())
		}
	}

	writeJSON(w, http.StatusOK, a.serverEntries())
}

// handleDeleteServer handles DELETE /servers/<url>. Removal fans out
// cluster-wide so every worker drops the backend too.
func (a *API) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/servers/")
	raw, err := url.PathUnescape(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed server identifier: " + err.Error()})
		return
	}

	server, err := domain.NewServer(raw, false)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if _, found := a.pool.Find(server); found {
		a.pool.Remove(server)
		if a.publisher != nil {
			a.publisher.PublishRemoveServer(server)
		}
		if a.log != nil {
			a.log.Info("server removed via admin API", "url", server.Key())
		}
	}

	writeJSON(w, http.StatusOK, a.serverEntries())
}

// statusResponse summarizes process-wide throughput, formatted with the
// same byte/duration conventions as the structured logger.
type statusResponse struct {
	Proxy          ports.ProxyStats `json:"proxy"`
	Backends       int              `json:"backends"`
	ActiveBackends int              `json:"active_backends"`
	AverageLatency string           `json:"average_latency"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	backends := a.pool.All()
	active := 0
	for _, b := range backends {
		if b.IsActive() {
			active++
		}
	}

	stats := a.proxy.Stats()
	writeJSON(w, http.StatusOK, statusResponse{
		Proxy:          stats,
		Backends:       len(backends),
		ActiveBackends: active,
		AverageLatency: units.HumanDuration(time.Duration(stats.AverageLatencyMs) * time.Millisecond),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonAPI.NewEncoder(w).Encode(body)
}
