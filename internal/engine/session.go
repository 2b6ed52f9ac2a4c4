package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TerminalKind is how a session ended.
type TerminalKind string

const (
	TerminalSucceeded TerminalKind = "SUCCEEDED"
	TerminalExhausted TerminalKind = "EXHAUSTED_RETRIES"
	TerminalCancelled TerminalKind = "CANCELLED"
)

func (k TerminalKind) valid() bool {
	switch k {
	case TerminalSucceeded, TerminalExhausted, TerminalCancelled:
		return true
	}
	return false
}

// Terminal is the final outcome of a session.
type Terminal struct {
	Kind TerminalKind `json:"kind"`
	// Artifact is the accepted artifact on success, or the last rejected one
	// when retries ran out.
	Artifact   string `json:"artifact,omitempty"`
	Output     string `json:"output,omitempty"`
	LastDetail string `json:"last_detail,omitempty"`
}

func SucceededTerminal(a Attempt) Terminal {
	return Terminal{Kind: TerminalSucceeded, Artifact: a.Artifact, Output: a.Outcome.Output}
}

func ExhaustedTerminal(s *Session) Terminal {
	t := Terminal{Kind: TerminalExhausted}
	if last, ok := s.Last(); ok {
		t.Artifact = last.Artifact
		t.LastDetail = last.Outcome.Detail
	}
	return t
}

func CancelledTerminal(s *Session) Terminal {
	t := Terminal{Kind: TerminalCancelled}
	if last, ok := s.Last(); ok {
		t.LastDetail = last.Outcome.Detail
	}
	return t
}

// Session is the state threaded through one refinement loop. History is
// append-only and the terminal outcome is set exactly once. A Session is
// driven by a single goroutine and is not safe for concurrent mutation.
type Session struct {
	id        string
	input     string
	cap       int
	history   []Attempt
	terminal  *Terminal
	createdAt time.Time
	updatedAt time.Time
}

// NewSession creates an empty session. An empty id gets a random UUID.
func NewSession(id, input string, iterationCap int) (*Session, error) {
	if iterationCap < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCap, iterationCap)
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Session{
		id:        id,
		input:     input,
		cap:       iterationCap,
		createdAt: now,
		updatedAt: now,
	}, nil
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Input() string        { return s.input }
func (s *Session) IterationCap() int    { return s.cap }
func (s *Session) IterationCount() int  { return len(s.history) }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }
func (s *Session) Done() bool           { return s.terminal != nil }

// History returns a copy of the recorded attempts in order.
func (s *Session) History() []Attempt {
	out := make([]Attempt, len(s.history))
	copy(out, s.history)
	return out
}

// Last returns the most recent attempt.
func (s *Session) Last() (Attempt, bool) {
	if len(s.history) == 0 {
		return Attempt{}, false
	}
	return s.history[len(s.history)-1], true
}

// Terminal returns the terminal outcome, if the session has finished.
func (s *Session) Terminal() (Terminal, bool) {
	if s.terminal == nil {
		return Terminal{}, false
	}
	return *s.terminal, true
}

// Append records one resolved attempt.
func (s *Session) Append(artifact string, outcome Outcome) (Attempt, error) {
	if s.terminal != nil {
		return Attempt{}, ErrFinalized
	}
	switch outcome.Kind {
	case OutcomeSuccess, OutcomeFailure:
	default:
		return Attempt{}, fmt.Errorf("%w: kind %q", ErrUnresolvedOutcome, outcome.Kind)
	}
	if len(s.history) >= s.cap {
		return Attempt{}, ErrCapReached
	}
	a := Attempt{
		Sequence:  len(s.history) + 1,
		Artifact:  artifact,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
	s.history = append(s.history, a)
	s.updatedAt = a.CreatedAt
	return a, nil
}

// Finalize sets the terminal outcome. It fails if one is already set.
func (s *Session) Finalize(t Terminal) error {
	if s.terminal != nil {
		return ErrFinalized
	}
	if !t.Kind.valid() {
		return fmt.Errorf("unknown terminal kind %q", t.Kind)
	}
	s.terminal = &t
	s.updatedAt = time.Now().UTC()
	return nil
}

type sessionSnapshot struct {
	ID           string    `json:"id"`
	Input        string    `json:"input"`
	IterationCap int       `json:"iteration_cap"`
	History      []Attempt `json:"history"`
	Terminal     *Terminal `json:"terminal,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Session) MarshalJSON() ([]byte, error) {
	history := s.history
	if history == nil {
		history = []Attempt{}
	}
	return json.Marshal(sessionSnapshot{
		ID:           s.id,
		Input:        s.input,
		IterationCap: s.cap,
		History:      history,
		Terminal:     s.terminal,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	})
}

// UnmarshalJSON restores a checkpoint and rejects snapshots that break the
// session invariants.
func (s *Session) UnmarshalJSON(data []byte) error {
	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.ID == "" {
		return fmt.Errorf("session snapshot: missing id")
	}
	if snap.IterationCap < 1 {
		return fmt.Errorf("session snapshot %s: %w: got %d", snap.ID, ErrInvalidCap, snap.IterationCap)
	}
	if len(snap.History) > snap.IterationCap {
		return fmt.Errorf("session snapshot %s: %d attempts exceed cap %d", snap.ID, len(snap.History), snap.IterationCap)
	}
	for i, a := range snap.History {
		if a.Sequence != i+1 {
			return fmt.Errorf("session snapshot %s: attempt %d has sequence %d", snap.ID, i+1, a.Sequence)
		}
		if a.Outcome.Kind != OutcomeSuccess && a.Outcome.Kind != OutcomeFailure {
			return fmt.Errorf("session snapshot %s: attempt %d: %w", snap.ID, a.Sequence, ErrUnresolvedOutcome)
		}
	}
	if snap.Terminal != nil && !snap.Terminal.Kind.valid() {
		return fmt.Errorf("session snapshot %s: unknown terminal kind %q", snap.ID, snap.Terminal.Kind)
	}
	*s = Session{
		id:        snap.ID,
		input:     snap.Input,
		cap:       snap.IterationCap,
		history:   snap.History,
		terminal:  snap.Terminal,
		createdAt: snap.CreatedAt,
		updatedAt: snap.UpdatedAt,
	}
	return nil
}
