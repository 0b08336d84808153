package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weldr-proxy/weldr/internal/adapter/pool"
	"github.com/weldr-proxy/weldr/internal/config"
	"github.com/weldr-proxy/weldr/internal/core/domain"
)

func testProxyConfig() config.ProxyConfig {
	return config.ProxyConfig{
		ConnectTimeout:   time.Second,
		WriteTimeout:     time.Second,
		ReadTimeout:      time.Second,
		StreamBufferSize: 4096,
	}
}

func TestServeRequestProxiesGetWithViaHeader(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Hello World"))
	}))
	defer origin.Close()

	p := pool.New()
	server, err := domain.NewServer(origin.URL, false)
	require.NoError(t, err)
	p.Add(server)

	svc := NewService(testProxyConfig(), p, nil)
	defer svc.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	svc.ServeRequest(req.Context(), rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello World", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Via"), "weldr")
}

func TestServeRequestEchoesPostBody(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Length", "5")
		w.Write(body)
	}))
	defer origin.Close()

	p := pool.New()
	server, err := domain.NewServer(origin.URL, false)
	require.NoError(t, err)
	p.Add(server)

	svc := NewService(testProxyConfig(), p, nil)
	defer svc.Close()

	req := httptest.NewRequest(http.MethodPost, "/echo", &readerString{s: "hello"})
	rec := httptest.NewRecorder()
	svc.ServeRequest(req.Context(), rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
}

func TestServeRequestReturnsBadGatewayOnEmptyPool(t *testing.T) {
	p := pool.New()
	svc := NewService(testProxyConfig(), p, nil)
	defer svc.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	svc.ServeRequest(req.Context(), rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServeRequestReturnsBadGatewayWhenUpstreamUnreachable(t *testing.T) {
	p := pool.New()
	server, err := domain.NewServer("http://127.0.0.1:1", false)
	require.NoError(t, err)
	p.Add(server)

	svc := NewService(testProxyConfig(), p, nil)
	defer svc.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	svc.ServeRequest(req.Context(), rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// readerString is a minimal io.Reader over a fixed string, used so the
// request body can be read exactly once without importing strings in
// both test files under slightly different aliases.
type readerString struct {
	s   string
	pos int
}

func (r *readerString) Read(p []byte) (int, error) {
	if r.pos >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.pos:])
	r.pos += n
	return n, nil
}
