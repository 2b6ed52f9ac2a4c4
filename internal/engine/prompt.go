package engine

import (
	"fmt"
	"strings"
)

// DefaultRegenerateFeedback replaces an empty rejection.
const DefaultRegenerateFeedback = "User not satisfied, regenerating response"

// RepairPrompt lists every failed attempt under the task so the next
// generation can avoid repeating them.
func RepairPrompt(input string, history []Attempt) string {
	var b strings.Builder
	for _, a := range history {
		if a.Outcome.IsSuccess() {
			continue
		}
		fmt.Fprintf(&b, "\nAttempt %d failed with error: %s", a.Sequence, a.Outcome.Detail)
	}
	return fmt.Sprintf("Task: %s\n%s\n\nPlease fix the code.", input, b.String())
}

// ImprovementRequest asks for a revision of a rejected answer.
func ImprovementRequest(previous, feedback string) string {
	if isBlank(feedback) {
		feedback = DefaultRegenerateFeedback
	}
	return fmt.Sprintf("Previous answer: %s\n\nUser feedback: %s\n\nPlease improve the answer based on this feedback.", previous, feedback)
}

// LastRejection returns the most recent attempt when it was a human rejection.
func LastRejection(history []Attempt) (Attempt, bool) {
	if len(history) == 0 {
		return Attempt{}, false
	}
	last := history[len(history)-1]
	if last.Outcome.Source != SourceRejection {
		return Attempt{}, false
	}
	return last, true
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
