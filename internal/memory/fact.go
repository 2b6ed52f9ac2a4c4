// Package memory stores durable facts about the person sending messages and
// extracts new ones as a best-effort side-channel to the refinement loop.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// factNamespace seeds deterministic fact IDs.
var factNamespace = uuid.MustParse("6f1c2b9e-4d3a-5e8f-9a7b-1c2d3e4f5a6b")

// Fact is one atomic statement about an owner.
type Fact struct {
	ID        string    `json:"id"`
	OwnerKey  string    `json:"owner_key"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is a fact proposed by an Extractor.
type Candidate struct {
	Text  string `json:"text"`
	IsNew bool   `json:"is_new"`
}

// FactStore persists facts partitioned by owner. PutFact never overwrites an
// existing ID and reports whether a row was inserted.
type FactStore interface {
	ListFacts(ctx context.Context, owner string) ([]Fact, error)
	PutFact(ctx context.Context, f Fact) (bool, error)
}

// AdminStore adds the maintenance operations used by Manager.
type AdminStore interface {
	FactStore
	DeleteFact(ctx context.Context, owner, id string) (bool, error)
	DeleteFacts(ctx context.Context, owner string) (int, error)
}

// Extractor proposes candidate facts from a message given what is already known.
type Extractor interface {
	Extract(ctx context.Context, existing []Fact, message string) ([]Candidate, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, existing []Fact, message string) ([]Candidate, error)

func (f ExtractorFunc) Extract(ctx context.Context, existing []Fact, message string) ([]Candidate, error) {
	return f(ctx, existing, message)
}

// Normalize folds case, collapses whitespace and trims trailing punctuation so
// that restatements of a fact compare equal.
func Normalize(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	out := strings.Join(fields, " ")
	return strings.TrimRight(out, ".!?,;: ")
}

// FactID derives a stable ID from the owner and the normalized text.
func FactID(owner, text string) string {
	return uuid.NewSHA1(factNamespace, []byte(owner+"\x00"+Normalize(text))).String()
}

// NewFact builds a fact with its derived ID.
func NewFact(owner, text string) Fact {
	text = strings.TrimSpace(text)
	return Fact{
		ID:        FactID(owner, text),
		OwnerKey:  owner,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}
