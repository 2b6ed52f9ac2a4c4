package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/go-refine/internal/bus"
	"github.com/basket/go-refine/internal/shared"
)

// Ticket status values.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

var (
	ErrTicketNotFound = errors.New("approval not found")
	ErrTicketResolved = errors.New("approval already resolved")
)

// Ticket is a review request waiting on a remote decision.
type Ticket struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Artifact  string    `json:"artifact"`
	Status    string    `json:"status"`
	Feedback  string    `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	done chan struct{}
}

// ApprovalQueue is an Approver whose decisions arrive out of band, typically
// through the gateway.
type ApprovalQueue struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
	bus     *bus.Bus
	timeout time.Duration
	logger  *slog.Logger
}

// NewApprovalQueue returns a queue. A positive timeout rejects tickets that go
// unanswered for that long.
func NewApprovalQueue(b *bus.Bus, timeout time.Duration, logger *slog.Logger) *ApprovalQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalQueue{
		tickets: make(map[string]*Ticket),
		bus:     b,
		timeout: timeout,
		logger:  logger,
	}
}

func (q *ApprovalQueue) Review(ctx context.Context, artifact string) (Decision, error) {
	t := &Ticket{
		ID:        uuid.NewString(),
		SessionID: shared.SessionID(ctx),
		Artifact:  artifact,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	q.mu.Lock()
	q.tickets[t.ID] = t
	q.mu.Unlock()
	defer q.forget(t.ID)

	q.bus.Publish(bus.TopicApprovalRequired, bus.ApprovalEvent{
		ApprovalID: t.ID,
		SessionID:  t.SessionID,
		Artifact:   artifact,
		Status:     StatusPending,
	})
	q.logger.Info("approval requested", "approval_id", t.ID, "session_id", t.SessionID)

	var timeout <-chan time.Time
	if q.timeout > 0 {
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-t.done:
	case <-timeout:
		if err := q.Respond(t.ID, Decision{Feedback: "approval timed out"}); err != nil && !errors.Is(err, ErrTicketResolved) {
			return Decision{}, err
		}
		<-t.done
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}

	q.mu.Lock()
	d := Decision{Approved: t.Status == StatusApproved, Feedback: t.Feedback}
	q.mu.Unlock()
	return d, nil
}

// Respond resolves a pending ticket.
func (q *ApprovalQueue) Respond(id string, d Decision) error {
	q.mu.Lock()
	t, ok := q.tickets[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	if t.Status != StatusPending {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTicketResolved, id)
	}
	if d.Approved {
		t.Status = StatusApproved
	} else {
		t.Status = StatusRejected
	}
	t.Feedback = d.Feedback
	ev := bus.ApprovalEvent{
		ApprovalID: t.ID,
		SessionID:  t.SessionID,
		Status:     t.Status,
		Feedback:   t.Feedback,
	}
	close(t.done)
	q.mu.Unlock()

	q.bus.Publish(bus.TopicApprovalResolved, ev)
	q.logger.Info("approval resolved", "approval_id", id, "status", ev.Status)
	return nil
}

// Get returns a copy of a pending ticket.
func (q *ApprovalQueue) Get(id string) (Ticket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tickets[id]
	if !ok {
		return Ticket{}, false
	}
	return t.snapshot(), true
}

// Pending lists unresolved tickets, oldest first.
func (q *ApprovalQueue) Pending() []Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Ticket, 0, len(q.tickets))
	for _, t := range q.tickets {
		if t.Status == StatusPending {
			out = append(out, t.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (q *ApprovalQueue) forget(id string) {
	q.mu.Lock()
	delete(q.tickets, id)
	q.mu.Unlock()
}

func (t *Ticket) snapshot() Ticket {
	return Ticket{
		ID:        t.ID,
		SessionID: t.SessionID,
		Artifact:  t.Artifact,
		Status:    t.Status,
		Feedback:  t.Feedback,
		CreatedAt: t.CreatedAt,
	}
}
