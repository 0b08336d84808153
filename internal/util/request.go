package util

import (
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
)

// GenerateRequestID returns a short, human-scannable id attached to
// every proxied exchange's log lines.
func GenerateRequestID() string {
	verbs := []string{
		"routing", "dispatching", "forwarding", "relaying", "bridging",
		"weighing", "pooling", "probing", "draining", "balancing",
		"spanning", "linking", "joining", "welding", "binding",
	}
	nouns := []string{
		"beam", "joint", "seam", "truss", "girder",
		"rivet", "anchor", "span", "frame", "socket",
		"brace", "hinge", "clamp", "strut", "coupler",
	}

	noun := nouns[rand.Intn(len(nouns))]
	verb := verbs[rand.Intn(len(verbs))]
	suffix := fmt.Sprintf("%04x", rand.Intn(65536))

	return fmt.Sprintf("%s_%s_%s", noun, verb, suffix)
}

// GetClientIP returns the peer address of r, preferring the first
// X-Forwarded-For entry when trustProxyHeaders is set. weldr terminates
// client connections directly, so the default is the socket peer.
func GetClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
			return strings.TrimSpace(strings.Split(ip, ",")[0])
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return strings.TrimSpace(ip)
		}
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
