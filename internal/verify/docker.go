package verify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// containerRuntime is the slice of the Docker API the executor needs.
type containerRuntime interface {
	Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error)
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (int64, error)
	Logs(ctx context.Context, id string) (stdout, stderr string, err error)
	Kill(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Close() error
}

// DockerOptions configures a DockerExecutor.
type DockerOptions struct {
	Image    string
	MemoryMB int64
	Network  string
	Timeout  time.Duration
	// Command runs the program; the script is mounted at /workspace/main.py.
	Command []string
}

// DockerExecutor runs each program in an ephemeral container.
type DockerExecutor struct {
	rt       containerRuntime
	image    string
	memory   int64
	network  string
	timeout  time.Duration
	command  []string
	tempRoot string
}

// NewDockerExecutor connects to the daemon configured in the environment.
func NewDockerExecutor(opts DockerOptions) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newDockerExecutor(dockerAPI{cli: cli}, opts), nil
}

func newDockerExecutor(rt containerRuntime, opts DockerOptions) *DockerExecutor {
	if opts.Image == "" {
		opts.Image = "python:3.12-slim"
	}
	if opts.MemoryMB <= 0 {
		opts.MemoryMB = 256
	}
	if opts.Network == "" {
		opts.Network = "none"
	}
	if len(opts.Command) == 0 {
		opts.Command = []string{"python", "/workspace/main.py"}
	}
	return &DockerExecutor{
		rt:      rt,
		image:   opts.Image,
		memory:  opts.MemoryMB * 1024 * 1024,
		network: opts.Network,
		timeout: opts.Timeout,
		command: opts.Command,
	}
}

func (d *DockerExecutor) Execute(ctx context.Context, code string) (bool, string, error) {
	workspace, err := os.MkdirTemp(d.tempRoot, "refine-exec-*")
	if err != nil {
		return false, "", fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)
	if err := os.WriteFile(filepath.Join(workspace, "main.py"), []byte(code), 0o644); err != nil {
		return false, "", fmt.Errorf("write program: %w", err)
	}

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	id, err := d.rt.Create(ctx, &container.Config{
		Image:      d.image,
		Cmd:        d.command,
		WorkingDir: "/workspace",
		Tty:        false,
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory: d.memory,
		},
		NetworkMode: container.NetworkMode(d.network),
		Binds:       []string{fmt.Sprintf("%s:/workspace:ro", workspace)},
	})
	if err != nil {
		return false, "", fmt.Errorf("create container: %w", err)
	}
	// Removal must outlive a cancelled caller.
	defer func() { _ = d.rt.Remove(context.WithoutCancel(ctx), id) }()

	if err := d.rt.Start(ctx, id); err != nil {
		return false, "", fmt.Errorf("start container: %w", err)
	}

	exitCode, err := d.rt.Wait(runCtx, id)
	if err != nil {
		if runCtx.Err() != nil {
			_ = d.rt.Kill(context.WithoutCancel(ctx), id)
			if ctx.Err() != nil {
				return false, "", ctx.Err()
			}
			return false, fmt.Sprintf("execution timed out after %s", d.timeout), nil
		}
		return false, "", fmt.Errorf("wait container: %w", err)
	}

	stdout, stderr, err := d.rt.Logs(ctx, id)
	if err != nil {
		return false, "", fmt.Errorf("get logs: %w", err)
	}
	if exitCode != 0 {
		detail := stderr
		if detail == "" {
			detail = stdout
		}
		if detail == "" {
			detail = fmt.Sprintf("exit status %d", exitCode)
		}
		return false, detail, nil
	}
	return true, stdout, nil
}

// Close releases the docker client.
func (d *DockerExecutor) Close() error {
	return d.rt.Close()
}

type dockerAPI struct {
	cli *client.Client
}

func (a dockerAPI) Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := a.cli.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (a dockerAPI) Start(ctx context.Context, id string) error {
	return a.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (a dockerAPI) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := a.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (a dockerAPI) Logs(ctx context.Context, id string) (string, string, error) {
	out, err := a.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer out.Close()
	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, out); err != nil {
		return "", "", err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

func (a dockerAPI) Kill(ctx context.Context, id string) error {
	return a.cli.ContainerKill(ctx, id, "SIGKILL")
}

func (a dockerAPI) Remove(ctx context.Context, id string) error {
	return a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (a dockerAPI) Close() error {
	return a.cli.Close()
}
