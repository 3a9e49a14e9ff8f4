package circuitbreaker

type State int

const (
	// StateClosed - store is healthy, calls pass through
	StateClosed State = iota

	// StateOpen - store has been failing, calls short-circuit
	StateOpen

	// StateHalfOpen - probing whether the store recovered
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
