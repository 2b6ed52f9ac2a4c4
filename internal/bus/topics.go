package bus

// Refinement session topics.
const (
	TopicSessionStarted  = "session.started"
	TopicSessionAttempt  = "session.attempt"
	TopicSessionFinished = "session.finished"
	TopicSessionFailed   = "session.failed"
	TopicSessionsPruned  = "session.pruned"
)

// Human approval topics.
const (
	TopicApprovalRequired = "approval.required"
	TopicApprovalResolved = "approval.resolved"
)

// TopicMemoryStored is published once per fact written by the memory side-channel.
const TopicMemoryStored = "memory.stored"

// SessionEvent is the payload for session.* topics.
type SessionEvent struct {
	SessionID    string `json:"session_id"`
	Sequence     int    `json:"sequence,omitempty"`
	IterationCap int    `json:"iteration_cap,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	Terminal     string `json:"terminal,omitempty"`
	Detail       string `json:"detail,omitempty"`
	Error        string `json:"error,omitempty"`
}

// PrunedEvent is the payload for session.pruned.
type PrunedEvent struct {
	Removed int64 `json:"removed"`
}

// ApprovalEvent is the payload for approval.* topics.
type ApprovalEvent struct {
	ApprovalID string `json:"approval_id"`
	SessionID  string `json:"session_id,omitempty"`
	Artifact   string `json:"artifact,omitempty"`
	Status     string `json:"status"`
	Feedback   string `json:"feedback,omitempty"`
}

// MemoryStoredEvent is the payload for memory.stored.
type MemoryStoredEvent struct {
	OwnerKey string `json:"owner_key"`
	FactID   string `json:"fact_id"`
	Text     string `json:"text"`
}
