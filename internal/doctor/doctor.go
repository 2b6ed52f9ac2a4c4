// Package doctor runs environment diagnostics for refine.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/docker/docker/client"

	"github.com/basket/go-refine/internal/config"
	"github.com/basket/go-refine/internal/persistence"
)

const (
	StatusPass = "PASS"
	StatusWarn = "WARN"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

type SystemInfo struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
	Go   string `json:"go_version"`
}

// Swapped in tests.
var (
	lookPath   = exec.LookPath
	lookupHost = net.DefaultResolver.LookupHost
)

// Run executes all diagnostic checks. offline skips the network check.
func Run(ctx context.Context, cfg *config.Config, offline bool) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
			Go:   runtime.Version(),
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkAPIKey,
		checkPermissions,
		checkStorage,
		checkSessionBackend,
		checkExecutor,
	}
	if !offline {
		checks = append(checks, checkNetwork)
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	path := config.ConfigPath(cfg.HomeDir)
	if _, err := os.Stat(path); err != nil {
		return CheckResult{Name: "Config", Status: StatusWarn, Message: "No config.yaml; using defaults", Detail: path}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", path)}
}

func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "API Key", Status: StatusSkip, Message: "Config missing"}
	}
	provider, model, key := cfg.ResolveLLMConfig()
	if key == "" {
		return CheckResult{
			Name:    "API Key",
			Status:  StatusWarn,
			Message: fmt.Sprintf("No API key for provider %q", provider),
			Detail:  "Set llm.api_key in config.yaml or the provider's env var; code, agent and chat need it",
		}
	}
	return CheckResult{Name: "API Key", Status: StatusPass, Message: fmt.Sprintf("%s configured with model %s", provider, model)}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	_ = os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

func checkStorage(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Storage", Status: StatusSkip, Message: "Config missing"}
	}
	switch cfg.Storage.Driver {
	case "sqlite":
		store, err := persistence.Open(cfg.Storage.SQLitePath, nil)
		if err != nil {
			return CheckResult{Name: "Storage", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err)}
		}
		defer store.Close()
		if _, err := store.ListSessions(ctx, 1); err != nil {
			return CheckResult{Name: "Storage", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
		}
		return CheckResult{Name: "Storage", Status: StatusPass, Message: "SQLite schema valid", Detail: cfg.Storage.SQLitePath}
	case "postgres":
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		store, err := persistence.OpenPostgres(pingCtx, cfg.Storage.DatabaseURL)
		if err != nil {
			return CheckResult{Name: "Storage", Status: StatusFail, Message: fmt.Sprintf("Postgres unreachable: %v", err)}
		}
		_ = store.Close()
		return CheckResult{Name: "Storage", Status: StatusPass, Message: "Postgres reachable and migrated"}
	default:
		return CheckResult{Name: "Storage", Status: StatusWarn, Message: "In-memory storage; facts and history are lost on exit"}
	}
}

func checkSessionBackend(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Sessions", Status: StatusSkip, Message: "Config missing"}
	}
	if cfg.Storage.SessionBackend != "redis" {
		return CheckResult{Name: "Sessions", Status: StatusPass, Message: fmt.Sprintf("Checkpoints in %s", cfg.Storage.SessionBackend)}
	}
	rdb, err := persistence.ConnectRedis(cfg.Storage.RedisURL)
	if err != nil {
		return CheckResult{Name: "Sessions", Status: StatusFail, Message: err.Error()}
	}
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return CheckResult{Name: "Sessions", Status: StatusFail, Message: fmt.Sprintf("Redis unreachable: %v", err)}
	}
	return CheckResult{Name: "Sessions", Status: StatusPass, Message: "Redis reachable"}
}

func checkExecutor(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Executor", Status: StatusSkip, Message: "Config missing"}
	}
	switch cfg.Executor.Kind {
	case "host":
		path, err := lookPath(cfg.Executor.Interpreter)
		if err != nil {
			return CheckResult{Name: "Executor", Status: StatusFail, Message: fmt.Sprintf("%s not found on PATH", cfg.Executor.Interpreter)}
		}
		return CheckResult{
			Name:    "Executor",
			Status:  StatusWarn,
			Message: "Host executor runs generated code without isolation",
			Detail:  path,
		}
	case "docker":
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return CheckResult{Name: "Executor", Status: StatusFail, Message: fmt.Sprintf("Docker client: %v", err)}
		}
		defer cli.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := cli.Ping(pingCtx); err != nil {
			return CheckResult{Name: "Executor", Status: StatusFail, Message: fmt.Sprintf("Docker daemon unreachable: %v", err)}
		}
		return CheckResult{Name: "Executor", Status: StatusPass, Message: "Docker daemon reachable", Detail: cfg.Executor.Docker.Image}
	default:
		return CheckResult{Name: "Executor", Status: StatusPass, Message: "Embedded Starlark interpreter"}
	}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Config missing"}
	}
	provider := strings.ToLower(cfg.LLM.Provider)
	host := providerHost(provider, cfg.LLM.BaseURL)

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := lookupHost(lookupCtx, host)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  StatusFail,
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("provider=%s, latency=%dms", provider, latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  StatusPass,
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("provider=%s, addresses=%v", provider, addrs),
	}
}

// providerHost returns the API host to resolve. A base URL wins.
func providerHost(provider, baseURL string) string {
	if u, err := url.Parse(baseURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	switch provider {
	case "anthropic":
		return "api.anthropic.com"
	case "openai", "openai_compatible":
		return "api.openai.com"
	case "openrouter":
		return "openrouter.ai"
	default:
		return "generativelanguage.googleapis.com"
	}
}
