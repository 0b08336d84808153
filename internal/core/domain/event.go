package domain

// EventKind identifies one of the pool-mutation events the Manager fans
// out to worker subscribers.
type EventKind int

const (
	EventAddServer EventKind = iota
	EventMarkServerDown
	EventMarkServerActive
	// EventRemoveServer is a supplement: the admin API's DELETE now
	// fans out cluster-wide instead of being supervisor-local only.
	EventRemoveServer
	// EventBootstrap is sent once, immediately after a worker
	// subscribes, carrying every Server currently in the pool so a
	// late-joining or reconnecting worker converges without waiting
	// for the next incremental delta.
	EventBootstrap
)

func (k EventKind) String() string {
	switch k {
	case EventAddServer:
		return "add_server"
	case EventMarkServerDown:
		return "mark_server_down"
	case EventMarkServerActive:
		return "mark_server_active"
	case EventRemoveServer:
		return "remove_server"
	case EventBootstrap:
		return "bootstrap"
	default:
		return "unknown"
	}
}

// ServerSnapshot is the wire-friendly representation of a Server used in
// Event payloads: just enough to reconstruct it on the worker side.
type ServerSnapshot struct {
	URL     string `msgpack:"url"`
	MapHost bool   `msgpack:"map_host"`
}

// Event is one pool-mutation message published by the Manager to a
// subscriber. Bootstrap carries Servers (the full current membership);
// every other kind carries a single-element Servers slice naming the
// affected Server.
type Event struct {
	Kind    EventKind        `msgpack:"kind"`
	Servers []ServerSnapshot `msgpack:"servers"`
}

// NewServerEvent builds a single-Server event of the given kind.
func NewServerEvent(kind EventKind, server *Server) Event {
	return Event{
		Kind: kind,
		Servers: []ServerSnapshot{{
			URL:     server.Key(),
			MapHost: server.MapHost,
		}},
	}
}

// NewBootstrapEvent builds the full-membership snapshot sent to a
// subscriber immediately after it subscribes.
func NewBootstrapEvent(servers []*Server) Event {
	snapshots := make([]ServerSnapshot, 0, len(servers))
	for _, s := range servers {
		snapshots = append(snapshots, ServerSnapshot{URL: s.Key(), MapHost: s.MapHost})
	}
	return Event{Kind: EventBootstrap, Servers: snapshots}
}

// SubscriberInFlightCap is the maximum number of in-flight publishes
// permitted per subscriber before further events are dropped for that
// subscriber, per the Manager's backpressure contract.
const SubscriberInFlightCap = 5
