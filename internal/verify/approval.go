package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/basket/go-refine/internal/engine"
)

// Decision is a reviewer's verdict on an artifact.
type Decision struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// Approver asks a human (or a stand-in) to review an artifact. Review blocks
// until a decision is made or ctx ends.
type Approver interface {
	Review(ctx context.Context, artifact string) (Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, artifact string) (Decision, error)

func (f ApproverFunc) Review(ctx context.Context, artifact string) (Decision, error) {
	return f(ctx, artifact)
}

// AutoApprover approves everything.
type AutoApprover struct{}

func (AutoApprover) Review(context.Context, string) (Decision, error) {
	return Decision{Approved: true}, nil
}

// ApprovalVerifier turns approval decisions into attempt outcomes. A rejection
// is recorded as a failure carrying the reviewer's feedback.
type ApprovalVerifier struct {
	Approver Approver
}

func NewApprovalVerifier(a Approver) *ApprovalVerifier {
	return &ApprovalVerifier{Approver: a}
}

func (v *ApprovalVerifier) Verify(ctx context.Context, artifact string) (engine.Outcome, error) {
	d, err := v.Approver.Review(ctx, artifact)
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("review: %w", err)
	}
	if d.Approved {
		return engine.Succeeded(artifact), nil
	}
	return engine.Rejected(d.Feedback), nil
}

var (
	approveWords = map[string]bool{
		"y": true, "yes": true, "approve": true, "accept": true,
		"good": true, "send it": true, "looks good": true,
	}
	rejectWords = map[string]bool{
		"n": true, "no": true, "reject": true, "decline": true,
		"bad": true, "try again": true, "regenerate": true,
	}
)

// ParseVerdict reads a free-form reply. ok is false when the reply is neither
// an approval nor a rejection.
func ParseVerdict(reply string) (approved, ok bool) {
	r := strings.ToLower(strings.TrimSpace(reply))
	switch {
	case approveWords[r]:
		return true, true
	case rejectWords[r]:
		return false, true
	}
	return false, false
}
