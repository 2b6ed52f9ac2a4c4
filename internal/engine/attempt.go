package engine

import "time"

// OutcomeKind is the result of one verification step.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "SUCCESS"
	OutcomeFailure OutcomeKind = "FAILURE"
	// OutcomePending means a human decision has not arrived yet. It is never
	// recorded in a session's history.
	OutcomePending OutcomeKind = "PENDING"
)

// FailureSource tells generators how to read a failure detail.
type FailureSource string

const (
	SourceVerification FailureSource = "verification"
	SourceRejection    FailureSource = "rejection"
	SourceToolResults  FailureSource = "tool_results"
)

// Outcome is what a Verifier reports for one artifact. Detail is set only on
// failures; Output carries whatever the verifier produced on success (program
// stdout, the final answer of a tool loop).
type Outcome struct {
	Kind   OutcomeKind   `json:"kind"`
	Detail string        `json:"detail,omitempty"`
	Output string        `json:"output,omitempty"`
	Source FailureSource `json:"source,omitempty"`
}

func Succeeded(output string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Output: output}
}

func Failed(detail string) Outcome {
	return Outcome{Kind: OutcomeFailure, Detail: detail, Source: SourceVerification}
}

// Rejected records a human rejection. Blank feedback becomes
// DefaultRegenerateFeedback so the next generation always has an instruction.
func Rejected(feedback string) Outcome {
	if isBlank(feedback) {
		feedback = DefaultRegenerateFeedback
	}
	return Outcome{Kind: OutcomeFailure, Detail: feedback, Source: SourceRejection}
}

// ToolResults records a model turn that asked for tools; detail holds the
// encoded results that feed the next turn.
func ToolResults(detail string) Outcome {
	return Outcome{Kind: OutcomeFailure, Detail: detail, Source: SourceToolResults}
}

func Pending() Outcome {
	return Outcome{Kind: OutcomePending}
}

func (o Outcome) IsSuccess() bool { return o.Kind == OutcomeSuccess }

// Attempt is one generation plus verification cycle. Sessions hand out copies,
// so an Attempt cannot be edited once recorded.
type Attempt struct {
	Sequence  int       `json:"sequence"`
	Artifact  string    `json:"artifact"`
	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}
