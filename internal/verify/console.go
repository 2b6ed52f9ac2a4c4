package verify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/basket/go-refine/internal/bus"
)

const (
	approvalQuestion = "Are you happy with this result? (y/n)"
	invalidVerdict   = "Please enter 'y' for yes or 'n' for no"
	feedbackQuestion = "What would you like to change or add to the answer?"
)

// ErrInputClosed is returned when the console reaches EOF mid-review.
var ErrInputClosed = errors.New("approval input closed")

// ConsoleApprover reviews artifacts interactively on a terminal.
type ConsoleApprover struct {
	In  io.Reader
	Out io.Writer
	// Styled draws the artifact inside a bordered box.
	Styled bool
	// Bus receives an approval.resolved event per decision when set.
	Bus *bus.Bus

	once  sync.Once
	lines chan string
}

var (
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func (c *ConsoleApprover) Review(ctx context.Context, artifact string) (Decision, error) {
	c.once.Do(c.startReader)

	if c.Styled {
		fmt.Fprintln(c.Out, boxStyle.Render(artifact))
	} else {
		fmt.Fprintln(c.Out, artifact)
	}

	for {
		c.prompt(promptStyle, approvalQuestion)
		line, err := c.readLine(ctx)
		if err != nil {
			return Decision{}, err
		}
		approved, ok := ParseVerdict(line)
		if !ok {
			c.prompt(warnStyle, invalidVerdict)
			continue
		}
		if approved {
			return c.decided(Decision{Approved: true}), nil
		}
		c.prompt(promptStyle, feedbackQuestion)
		feedback, err := c.readLine(ctx)
		if err != nil {
			return Decision{}, err
		}
		return c.decided(Decision{Feedback: strings.TrimSpace(feedback)}), nil
	}
}

func (c *ConsoleApprover) decided(d Decision) Decision {
	status := StatusRejected
	if d.Approved {
		status = StatusApproved
	}
	c.Bus.Publish(bus.TopicApprovalResolved, bus.ApprovalEvent{ApprovalID: "console", Status: status, Feedback: d.Feedback})
	return d
}

// ReadLine reads the next line of In. A REPL sharing the terminal with the
// approver must read through it.
func (c *ConsoleApprover) ReadLine(ctx context.Context) (string, error) {
	c.once.Do(c.startReader)
	return c.readLine(ctx)
}

func (c *ConsoleApprover) prompt(style lipgloss.Style, text string) {
	if c.Styled {
		text = style.Render(text)
	}
	fmt.Fprintln(c.Out, text)
}

// startReader owns In for the approver's lifetime so Review can honour ctx
// while a read is outstanding.
func (c *ConsoleApprover) startReader() {
	c.lines = make(chan string)
	go func() {
		defer close(c.lines)
		sc := bufio.NewScanner(c.In)
		for sc.Scan() {
			c.lines <- sc.Text()
		}
	}()
}

func (c *ConsoleApprover) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", ErrInputClosed
		}
		return line, nil
	}
}
