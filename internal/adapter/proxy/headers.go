package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are stripped from inbound requests before they are
// forwarded upstream, per RFC 7230 §6.1 / RFC 2616 §13.5.1 intermediary
// rules. Responses use responseHopByHopHeaders instead.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Close",
	"TE",
	"Transfer-Encoding",
	"Proxy-Authorization",
	"Trailer",
	"Upgrade",
}

// responseHopByHopHeaders are the subset stripped from upstream
// responses before forwarding to the client.
var responseHopByHopHeaders = []string{
	"Transfer-Encoding",
	"Proxy-Authenticate",
	"Trailer",
	"Upgrade",
}

// viaToken formats this hop's Via entry, "<ver> weldr", from the
// inbound protocol version per RFC 7230 §5.7.1.
func viaToken(proto string) string {
	switch proto {
	case "HTTP/0.9":
		return "0.9 weldr"
	case "HTTP/1.0":
		return "1.0 weldr"
	case "HTTP/2.0", "HTTP/2":
		return "2 weldr"
	default:
		return "1.1 weldr"
	}
}

// removeHopByHop deletes every header in names from h, plus every
// header named inside an existing Connection header's option list.
func removeHopByHop(h http.Header, names []string) {
	if conn := h.Get("Connection"); conn != "" {
		for _, opt := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(opt))
		}
	}
	for _, name := range names {
		h.Del(name)
	}
}

// mapRequest rewrites an inbound request's headers into the outbound
// headers sent upstream: strips hop-by-hop headers, composes Via, and
// (when mapHost is set) overwrites Host with the upstream authority.
func mapRequest(out http.Header, in *http.Request, upstreamHost string, mapHost bool) {
	for k, v := range in.Header {
		out[k] = append([]string(nil), v...)
	}

	removeHopByHop(out, hopByHopHeaders)

	tok := viaToken(in.Proto)
	if existing := out.Get("Via"); existing != "" {
		out.Set("Via", existing+", "+tok)
	} else {
		out.Set("Via", tok)
	}

	if mapHost {
		out.Set("Host", upstreamHost)
	}
}

// mapResponse rewrites an upstream response's headers into the
// client-bound response headers, stripping the response-side
// hop-by-hop set (no Connection option-list parsing on this side).
func mapResponse(out http.Header, in http.Header) {
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	for _, name := range responseHopByHopHeaders {
		out.Del(name)
	}
}
