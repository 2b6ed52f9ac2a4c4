package engine

// Decision is what the router tells the driver after each attempt.
type Decision int

const (
	DecisionRetry Decision = iota
	DecisionStopSuccess
	DecisionStopExhausted
)

func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "retry"
	case DecisionStopSuccess:
		return "stop_success"
	case DecisionStopExhausted:
		return "stop_exhausted"
	default:
		return "unknown"
	}
}

// Route decides the next step from the session alone. Success is checked
// before the cap so a success on the last permitted attempt still succeeds.
func Route(s *Session) Decision {
	if last, ok := s.Last(); ok && last.Outcome.IsSuccess() {
		return DecisionStopSuccess
	}
	if s.IterationCount() >= s.IterationCap() {
		return DecisionStopExhausted
	}
	return DecisionRetry
}
