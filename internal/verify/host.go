package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// HostExecutor pipes code into an interpreter on the host, e.g. python3 -.
// It offers no isolation; prefer DockerExecutor for untrusted code.
type HostExecutor struct {
	Interpreter string
	Args        []string
	Dir         string
	Timeout     time.Duration
}

func (h HostExecutor) Execute(ctx context.Context, code string) (bool, string, error) {
	interp := h.Interpreter
	if interp == "" {
		interp = "python3"
	}
	args := h.Args
	if args == nil && interp != "sh" && interp != "bash" {
		args = []string{"-"}
	}

	runCtx := ctx
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, interp, args...)
	if h.Dir != "" {
		cmd.Dir = h.Dir
	}
	cmd.Stdin = bytes.NewBufferString(code)
	cmd.WaitDelay = time.Second
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if runErr == nil {
		return true, outBuf.String(), nil
	}
	if ctx.Err() != nil {
		return false, "", ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return false, fmt.Sprintf("execution timed out after %s", h.Timeout), nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		detail := errBuf.String()
		if detail == "" {
			detail = outBuf.String()
		}
		if detail == "" {
			detail = fmt.Sprintf("exit status %d", exitErr.ExitCode())
		}
		return false, detail, nil
	}
	return false, "", fmt.Errorf("run %s: %w", interp, runErr)
}
