package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidCap        = errors.New("iteration cap must be >= 1")
	ErrCapReached        = errors.New("iteration cap reached")
	ErrFinalized         = errors.New("session already finalized")
	ErrSessionNotFound   = errors.New("session not found")
	ErrUnresolvedOutcome = errors.New("verification outcome unresolved")
	ErrNoStore           = errors.New("no session store configured")
)

// ErrorClass categorizes collaborator errors for retry decisions.
type ErrorClass string

const (
	// ErrorClassAuth indicates authentication/authorization failures (401, invalid key).
	ErrorClassAuth ErrorClass = "AUTH"

	// ErrorClassRateLimit indicates rate limiting or quota exhaustion (429).
	ErrorClassRateLimit ErrorClass = "RATE_LIMIT"

	// ErrorClassTimeout indicates request timeout or deadline exceeded.
	ErrorClassTimeout ErrorClass = "TIMEOUT"

	// ErrorClassBilling indicates billing or payment issues.
	ErrorClassBilling ErrorClass = "BILLING"

	// ErrorClassContextOverflow indicates the prompt exceeded the model's context window.
	ErrorClassContextOverflow ErrorClass = "CONTEXT_OVERFLOW"

	// ErrorClassCancelled indicates the caller cancelled the session.
	ErrorClassCancelled ErrorClass = "CANCELLED"

	// ErrorClassUnknown is the default for unrecognized errors.
	ErrorClassUnknown ErrorClass = "UNKNOWN"
)

// Retryable reports whether a generation call failing with this class is
// worth repeating.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassRateLimit, ErrorClassTimeout, ErrorClassUnknown:
		return true
	}
	return false
}

// ClassifyError categorizes a collaborator error. It inspects the error
// chain and message for known patterns and returns the most specific class.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "401") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid key") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "api key not configured") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "403") {
		return ErrorClassAuth
	}

	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "too many requests") {
		return ErrorClassRateLimit
	}

	if strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") {
		return ErrorClassTimeout
	}

	if strings.Contains(msg, "billing") ||
		strings.Contains(msg, "payment") ||
		strings.Contains(msg, "insufficient funds") {
		return ErrorClassBilling
	}

	if strings.Contains(msg, "context_length") ||
		strings.Contains(msg, "context length") ||
		strings.Contains(msg, "token limit") ||
		strings.Contains(msg, "max tokens") ||
		strings.Contains(msg, "maximum context") ||
		strings.Contains(msg, "context window") {
		return ErrorClassContextOverflow
	}

	return ErrorClassUnknown
}

// Step names a collaborator call inside the loop.
type Step string

const (
	StepGenerate Step = "generate"
	StepVerify   Step = "verify"
)

// StepError is an infrastructure failure of a collaborator. It ends the
// session without consuming an attempt.
type StepError struct {
	Step      Step
	SessionID string
	Sequence  int // attempt the call was made for
	Class     ErrorClass
	Calls     int // calls made, including retries
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step for attempt %d of session %s failed after %d call(s) [%s]: %v",
		e.Step, e.Sequence, e.SessionID, e.Calls, e.Class, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
