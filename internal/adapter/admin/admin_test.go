package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weldr-proxy/weldr/internal/adapter/pool"
	"github.com/weldr-proxy/weldr/internal/config"
	"github.com/weldr-proxy/weldr/internal/core/domain"
	"github.com/weldr-proxy/weldr/internal/core/ports"
)

// fakePublisher records calls instead of talking to a real manager.
type fakePublisher struct {
	added   []string
	removed []string
}

func (f *fakePublisher) PublishAddServer(s *domain.Server)    { f.added = append(f.added, s.Key()) }
func (f *fakePublisher) PublishRemoveServer(s *domain.Server) { f.removed = append(f.removed, s.Key()) }
func (f *fakePublisher) PublishMarkDown(s *domain.Server)     {}
func (f *fakePublisher) PublishMarkActive(s *domain.Server)   {}

type fakeProxy struct{}

func (fakeProxy) ServeRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) {}
func (fakeProxy) Stats() ports.ProxyStats                                                  { return ports.ProxyStats{} }

func newTestAPI(t *testing.T) (*API, *pool.Pool, *fakePublisher) {
	t.Helper()
	p := pool.New()
	pub := &fakePublisher{}
	a := New(config.ServerConfig{AdminHost: "127.0.0.1", AdminPort: 0}, p, pub, fakeProxy{}, "test", nil)
	return a, p, pub
}

func TestHandleIndexListsLinks(t *testing.T) {
	a, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	a.handleIndex(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rel":"servers"`)
}

func TestHandleCreateServerAddsAndPublishes(t *testing.T) {
	a, p, pub := newTestAPI(t)

	body := strings.NewReader(`{"url":"http://10.0.0.1:9000"}`)
	req := httptest.NewRequest(http.MethodPost, "/servers", body)
	rec := httptest.NewRecorder()
	a.handleCreateServer(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, p.All(), 1)
	assert.Equal(t, []string{"http://10.0.0.1:9000"}, pub.added)
}

func TestHandleCreateServerRejectsMalformedJSON(t *testing.T) {
	a, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/servers", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	a.handleCreateServer(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateServerRejectsNonAbsoluteURL(t *testing.T) {
	a, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/servers", strings.NewReader(`{"url":"/just/a/path"}`))
	rec := httptest.NewRecorder()
	a.handleCreateServer(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteServerRemovesAndPublishes(t *testing.T) {
	a, p, pub := newTestAPI(t)
	server, err := domain.NewServer("http://10.0.0.2:9000", false)
	require.NoError(t, err)
	p.Add(server)

	path := "/servers/" + url.PathEscape(server.Key())
	req := httptest.NewRequest(http.MethodDelete, path, nil)
	rec := httptest.NewRecorder()
	a.handleDeleteServer(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, p.All(), 0)
	assert.Equal(t, []string{server.Key()}, pub.removed)
}

func TestHandleStatusReportsBackendCounts(t *testing.T) {
	a, p, _ := newTestAPI(t)
	server, _ := domain.NewServer("http://10.0.0.3:9000", false)
	p.Add(server)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	a.handleStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backends":1`)
}
