package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestViaTokenByProtocol(t *testing.T) {
	cases := map[string]string{
		"HTTP/0.9": "0.9 weldr",
		"HTTP/1.0": "1.0 weldr",
		"HTTP/1.1": "1.1 weldr",
		"HTTP/2.0": "2 weldr",
		"bogus":    "1.1 weldr",
	}
	for proto, want := range cases {
		assert.Equal(t, want, viaToken(proto))
	}
}

func TestRemoveHopByHopStripsNamedAndConnectionListed(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom, Keep-Alive")
	h.Set("X-Custom", "drop-me")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Keep", "stays")

	removeHopByHop(h, hopByHopHeaders)

	assert.Empty(t, h.Get("X-Custom"))
	assert.Empty(t, h.Get("Keep-Alive"))
	assert.Empty(t, h.Get("Transfer-Encoding"))
	assert.Equal(t, "stays", h.Get("X-Keep"))
}

func TestMapRequestComposesViaAndPreservesHostByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://client.example/path", nil)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("X-Custom", "value")

	out := make(http.Header)
	mapRequest(out, req, "upstream.internal:9000", false)

	assert.Equal(t, "1.1 weldr", out.Get("Via"))
	assert.Equal(t, "value", out.Get("X-Custom"))
	assert.Empty(t, out.Get("Connection"))
	assert.NotEqual(t, "upstream.internal:9000", out.Get("Host"))
}

func TestMapRequestOverwritesHostWhenMapHostSet(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://client.example/path", nil)

	out := make(http.Header)
	mapRequest(out, req, "upstream.internal:9000", true)

	// mapRequest writes the upstream authority into the Host header
	// entry; net/http sends outReq.Host on the wire, which dispatch sets
	// to the same authority when mapHost is set.
	assert.Equal(t, "upstream.internal:9000", out.Get("Host"))
	assert.Equal(t, "1.1 weldr", out.Get("Via"))
}

func TestMapRequestAppendsToExistingVia(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://client.example/path", nil)
	req.Header.Set("Via", "1.1 upstream-proxy")

	out := make(http.Header)
	mapRequest(out, req, "upstream.internal:9000", false)

	assert.Equal(t, "1.1 upstream-proxy, 1.1 weldr", out.Get("Via"))
}

func TestMapResponseStripsResponseHopByHop(t *testing.T) {
	in := http.Header{}
	in.Set("Transfer-Encoding", "chunked")
	in.Set("Trailer", "X-Checksum")
	in.Set("Content-Type", "text/plain")

	out := make(http.Header)
	mapResponse(out, in)

	assert.Empty(t, out.Get("Transfer-Encoding"))
	assert.Empty(t, out.Get("Trailer"))
	assert.Equal(t, "text/plain", out.Get("Content-Type"))
}
