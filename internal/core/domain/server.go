package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Server is the immutable identity of an upstream origin. Equality and
// hashing are by URL only; MapHost never participates.
type Server struct {
	URL *url.URL
	// MapHost, when true, causes the outbound Host header to be
	// overwritten with this Server's authority rather than the
	// inbound client Host being preserved.
	MapHost bool
}

// NewServer parses raw into a Server. The URL must be absolute.
func NewServer(raw string, mapHost bool) (*Server, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("server url %q is not absolute", raw)
	}
	return &Server{URL: u, MapHost: mapHost}, nil
}

// Key returns the canonical string used for equality and map lookups.
func (s *Server) Key() string {
	return s.URL.String()
}

// Equal reports whether two Servers refer to the same upstream.
func (s *Server) Equal(other *Server) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Key() == other.Key()
}

func (s *Server) String() string {
	return s.Key()
}
