package replan

import "strings"

// FailureClass is the recovery-relevant classification of a failure.
type FailureClass int

const (
	// ClassUnknown covers failures with no recognized signature
	ClassUnknown FailureClass = iota

	// ClassValidation covers failures reported by the validator
	ClassValidation

	// ClassTimeout covers timeout and performance related failures
	ClassTimeout
)

// String returns the class name.
func (c FailureClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

var (
	validationMarkers = []string{"validation", "invalid", "assert", "check failed", "did not pass"}
	timeoutMarkers    = []string{"timeout", "timed out", "deadline", "too slow", "performance"}
)

// Classify maps free-text failure feedback to a FailureClass using string
// heuristics. Timeout markers win over validation markers because a timed-out
// validation run is a performance problem, not a correctness one.
func Classify(feedback string) FailureClass {
	lower := strings.ToLower(feedback)
	for _, m := range timeoutMarkers {
		if strings.Contains(lower, m) {
			return ClassTimeout
		}
	}
	for _, m := range validationMarkers {
		if strings.Contains(lower, m) {
			return ClassValidation
		}
	}
	return ClassUnknown
}
