package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weldr-proxy/weldr/internal/config"
	"github.com/weldr-proxy/weldr/internal/core/domain"
)

func poolKeys(a *Application) map[string]bool {
	keys := make(map[string]bool)
	for _, b := range a.Pool().All() {
		keys[b.Server.Key()] = true
	}
	return keys
}

func TestNewSeedsConfiguredBackends(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backends = []config.BackendConfig{
		{URL: "http://origin-a:8080"},
		{URL: "http://origin-b:8080", MapHost: true},
	}

	a := New(cfg, nil, ModeSupervisor)

	keys := poolKeys(a)
	assert.True(t, keys["http://origin-a:8080"])
	assert.True(t, keys["http://origin-b:8080"])
	assert.Len(t, keys, 2)
}

func TestUpsertBackendsReconcilesMembership(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backends = []config.BackendConfig{
		{URL: "http://origin-a:8080"},
		{URL: "http://origin-b:8080"},
	}
	a := New(cfg, nil, ModeSupervisor)

	a.UpsertBackends([]config.BackendConfig{
		{URL: "http://origin-b:8080"},
		{URL: "http://origin-c:8080"},
	})

	keys := poolKeys(a)
	assert.False(t, keys["http://origin-a:8080"])
	assert.True(t, keys["http://origin-b:8080"])
	assert.True(t, keys["http://origin-c:8080"])
}

func TestUpsertBackendsLeavesAdminAddedServersAlone(t *testing.T) {
	cfg := config.DefaultConfig()
	a := New(cfg, nil, ModeSupervisor)

	adminServer, err := domain.NewServer("http://added-at-runtime:9000", false)
	require.NoError(t, err)
	require.True(t, a.Pool().Add(adminServer))

	a.UpsertBackends(nil)

	keys := poolKeys(a)
	assert.True(t, keys["http://added-at-runtime:9000"])
}

func TestUpsertBackendsSkipsUnparseableURLs(t *testing.T) {
	cfg := config.DefaultConfig()
	a := New(cfg, nil, ModeSupervisor)

	a.UpsertBackends([]config.BackendConfig{
		{URL: "not a url"},
		{URL: "http://origin-a:8080"},
	})

	assert.Len(t, a.Pool().All(), 1)
}
