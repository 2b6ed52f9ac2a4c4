package verify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/basket/go-refine/internal/bus"
)

func TestConsoleApprover_Approve(t *testing.T) {
	var out bytes.Buffer
	c := &ConsoleApprover{In: strings.NewReader("y\n"), Out: &out}
	d, err := c.Review(context.Background(), "the answer")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !d.Approved {
		t.Fatalf("decision = %+v", d)
	}
	if !strings.Contains(out.String(), "the answer") || !strings.Contains(out.String(), approvalQuestion) {
		t.Fatalf("output = %q", out.String())
	}
}

func TestConsoleApprover_RejectCollectsFeedback(t *testing.T) {
	var out bytes.Buffer
	c := &ConsoleApprover{In: strings.NewReader("maybe\nn\n  add examples \n"), Out: &out}
	d, err := c.Review(context.Background(), "draft")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if d.Approved || d.Feedback != "add examples" {
		t.Fatalf("decision = %+v", d)
	}
	text := out.String()
	if !strings.Contains(text, invalidVerdict) || !strings.Contains(text, feedbackQuestion) {
		t.Fatalf("output = %q", text)
	}
}

func TestConsoleApprover_ReusesReaderAcrossReviews(t *testing.T) {
	c := &ConsoleApprover{In: strings.NewReader("n\nmore detail\nyes\n"), Out: io.Discard}
	first, err := c.Review(context.Background(), "v1")
	if err != nil || first.Approved || first.Feedback != "more detail" {
		t.Fatalf("first = %+v err=%v", first, err)
	}
	second, err := c.Review(context.Background(), "v2")
	if err != nil || !second.Approved {
		t.Fatalf("second = %+v err=%v", second, err)
	}
}

func TestConsoleApprover_EOF(t *testing.T) {
	c := &ConsoleApprover{In: strings.NewReader(""), Out: io.Discard}
	if _, err := c.Review(context.Background(), "x"); !errors.Is(err, ErrInputClosed) {
		t.Fatalf("err = %v, want ErrInputClosed", err)
	}
}

func TestConsoleApprover_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := &ConsoleApprover{In: pr, Out: io.Discard}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Review(ctx, "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestConsoleApprover_Styled(t *testing.T) {
	var out bytes.Buffer
	c := &ConsoleApprover{In: strings.NewReader("yes\n"), Out: &out, Styled: true}
	if _, err := c.Review(context.Background(), "boxed"); err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !strings.Contains(out.String(), "boxed") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestConsoleApprover_ReadLineSharesInput(t *testing.T) {
	var out bytes.Buffer
	c := &ConsoleApprover{In: strings.NewReader("what is go?\ny\nbye\n"), Out: &out}
	ctx := context.Background()

	line, err := c.ReadLine(ctx)
	if err != nil || line != "what is go?" {
		t.Fatalf("ReadLine = %q, %v", line, err)
	}
	if d, err := c.Review(ctx, "a language"); err != nil || !d.Approved {
		t.Fatalf("Review = %+v, %v", d, err)
	}
	if line, _ := c.ReadLine(ctx); line != "bye" {
		t.Fatalf("ReadLine = %q", line)
	}
	if _, err := c.ReadLine(ctx); !errors.Is(err, ErrInputClosed) {
		t.Fatalf("err = %v, want ErrInputClosed", err)
	}
}

func TestConsoleApprover_PublishesDecisions(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe(bus.TopicApprovalResolved)
	defer b.Unsubscribe(sub)

	c := &ConsoleApprover{In: strings.NewReader("n\ntoo long\ny\n"), Out: io.Discard, Bus: b}
	for i := 0; i < 2; i++ {
		if _, err := c.Review(context.Background(), "draft"); err != nil {
			t.Fatalf("Review: %v", err)
		}
	}

	want := []bus.ApprovalEvent{
		{ApprovalID: "console", Status: StatusRejected, Feedback: "too long"},
		{ApprovalID: "console", Status: StatusApproved},
	}
	for _, w := range want {
		select {
		case ev := <-sub.Ch():
			if got := ev.Payload.(bus.ApprovalEvent); got != w {
				t.Fatalf("event = %+v, want %+v", got, w)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for approval event")
		}
	}
}
