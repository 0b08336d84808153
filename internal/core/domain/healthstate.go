package domain

// HealthOutcome is the tag of a HealthState: which way the last probe(s)
// went, independent of the Backend's own Active/Down state.
type HealthOutcome int

const (
	HealthPassing HealthOutcome = iota
	HealthFailing
)

func (o HealthOutcome) String() string {
	if o == HealthPassing {
		return "passing"
	}
	return "failing"
}

// HealthState is the per-Backend hysteresis counter owned exclusively by
// the HealthChecker. It is not part of Pool state and never observed by
// the proxy request path; it exists purely to debounce Active/Down
// transitions across consecutive same-outcome probes.
type HealthState struct {
	Outcome     HealthOutcome
	Consecutive uint64
}

// Reset returns the zero-count HealthState for the given outcome.
func Reset(outcome HealthOutcome) HealthState {
	return HealthState{Outcome: outcome, Consecutive: 0}
}

// Increment returns a copy of the state with the same outcome and the
// counter advanced by one.
func (h HealthState) Increment() HealthState {
	return HealthState{Outcome: h.Outcome, Consecutive: h.Consecutive + 1}
}
