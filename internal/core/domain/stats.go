package domain

import "sync/atomic"

// Stats holds the monotonically non-decreasing success/failure counters
// attached to exactly one Backend. All mutation goes through IncSuccess
// and IncFailure; Snapshot reads both counters.
type Stats struct {
	success atomic.Uint64
	failure atomic.Uint64
}

// IncSuccess records a completed dispatch that resolved with a
// non-5xx status.
func (s *Stats) IncSuccess() {
	s.success.Add(1)
}

// IncFailure records a completed dispatch that resolved with a
// transport error, timeout or 5xx status.
func (s *Stats) IncFailure() {
	s.failure.Add(1)
}

// Snapshot returns a consistent-enough point-in-time read of both
// counters for reporting; it is not a transaction.
func (s *Stats) Snapshot() (success, failure uint64) {
	return s.success.Load(), s.failure.Load()
}

// Total returns the number of completed dispatches recorded so far.
func (s *Stats) Total() uint64 {
	success, failure := s.Snapshot()
	return success + failure
}
