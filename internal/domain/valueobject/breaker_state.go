package valueobject

// BreakerState represents the state of a circuit breaker guarding an
// external dependency.
type BreakerState string

const (
	BreakerStateClosed   BreakerState = "closed"
	BreakerStateOpen     BreakerState = "open"
	BreakerStateHalfOpen BreakerState = "half_open"
)

// String returns the string representation of the breaker state.
func (s BreakerState) String() string {
	return string(s)
}

// Gauge maps the breaker state to the numeric gauge value exported by
// telemetry: closed=0, half-open=0.5, open=1.
func (s BreakerState) Gauge() float64 {
	switch s {
	case BreakerStateHalfOpen:
		return 0.5
	case BreakerStateOpen:
		return 1
	case BreakerStateClosed:
		return 0
	default:
		return 0
	}
}
