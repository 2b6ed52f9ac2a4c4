package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/go-refine/internal/audit"
	"github.com/basket/go-refine/internal/bus"
	"github.com/basket/go-refine/internal/chat"
	"github.com/basket/go-refine/internal/config"
	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/llm"
	"github.com/basket/go-refine/internal/memory"
	otelPkg "github.com/basket/go-refine/internal/otel"
	"github.com/basket/go-refine/internal/persistence"
	"github.com/basket/go-refine/internal/telemetry"
	"github.com/basket/go-refine/internal/verify"
)

// sessionLister is implemented by stores that can enumerate sessions.
type sessionLister interface {
	ListSessions(ctx context.Context, limit int) ([]persistence.SessionSummary, error)
	CleanupFinishedSessions(ctx context.Context, olderThan time.Duration) (int64, error)
}

// app holds everything a command needs, built once from config.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	bus     *bus.Bus
	otel    *otelPkg.Provider
	metrics *otelPkg.Metrics
	llm     *llm.Client
	audit   *audit.Log

	facts    memory.AdminStore
	sessions engine.SessionStore
	messages chat.MessageStore
	lister   sessionLister // nil when the session backend cannot list

	closers []func() error
}

type rootOptions struct {
	home     string
	logLevel string
	verbose  bool
}

func openApp(ctx context.Context, opts rootOptions) (*app, error) {
	home := opts.home
	if home == "" {
		home = config.HomeDir()
	}
	cfg, err := config.LoadFrom(home)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	// Logs go to the file only on a terminal so prompts stay readable.
	quiet := isatty.IsTerminal(os.Stdout.Fd()) && !opts.verbose
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		bus:     bus.New(),
		closers: []func() error{closer.Close},
	}

	a.audit, err = audit.Open(cfg.HomeDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	followCtx, stopFollow := context.WithCancel(ctx)
	followed := a.audit.Follow(followCtx, a.bus)
	a.closers = append(a.closers, a.audit.Close, func() error {
		stopFollow()
		<-followed
		return nil
	})

	a.otel, err = otelPkg.Init(ctx, otelPkg.Config(cfg.OTel))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init otel: %w", err)
	}
	a.metrics, err = otelPkg.NewMetrics(a.otel.Meter)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.llm = llm.New(ctx, llm.ConfigFrom(cfg, logger))
	logger.Info("startup phase", "phase", "ready",
		"storage", cfg.Storage.Driver,
		"session_backend", cfg.Storage.SessionBackend,
		"executor", cfg.Executor.Kind,
	)
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	st := a.cfg.Storage
	var (
		sqlite *persistence.Store
		pg     *persistence.PGStore
		mem    *persistence.MemStore
	)
	openSQLite := func() (*persistence.Store, error) {
		if sqlite != nil {
			return sqlite, nil
		}
		s, err := persistence.Open(st.SQLitePath, a.bus)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		sqlite = s
		return s, nil
	}
	openPG := func() (*persistence.PGStore, error) {
		if pg != nil {
			return pg, nil
		}
		s, err := persistence.OpenPostgres(ctx, st.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		pg = s
		return s, nil
	}
	memStore := func() *persistence.MemStore {
		if mem == nil {
			mem = persistence.NewMemStore()
		}
		return mem
	}

	switch st.Driver {
	case "sqlite":
		s, err := openSQLite()
		if err != nil {
			return err
		}
		a.facts, a.messages = s, s
	case "postgres":
		s, err := openPG()
		if err != nil {
			return err
		}
		a.facts = s
		// Postgres keeps facts and sessions; thread history lives in-process.
		a.messages = memStore()
		a.logger.Info("thread history is not persisted with the postgres driver")
	default:
		m := memStore()
		a.facts, a.messages = m, m
	}

	switch st.SessionBackend {
	case "sqlite":
		s, err := openSQLite()
		if err != nil {
			return err
		}
		a.sessions, a.lister = s, s
	case "postgres":
		s, err := openPG()
		if err != nil {
			return err
		}
		a.sessions = s
	case "redis":
		client, err := persistence.ConnectRedis(st.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.sessions = persistence.NewRedisSessionStore(client, "", st.SessionTTL)
	default:
		m := memStore()
		a.sessions, a.lister = m, m
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	if a.otel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otel.Shutdown(ctx); err != nil {
			a.logger.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) driverOptions(loop config.LoopConfig) engine.DriverOptions {
	return engine.DriverOptions{
		Config:  loop,
		Store:   a.sessions,
		Bus:     a.bus,
		Logger:  a.logger,
		Tracer:  a.otel.Tracer,
		Metrics: a.metrics,
	}
}

// executor builds the configured code executor. kind overrides the config
// when non-empty. The returned close func is never nil.
func (a *app) executor(kind string) (verify.Executor, func() error, error) {
	ec := a.cfg.Executor
	if kind == "" {
		kind = ec.Kind
	}
	noop := func() error { return nil }
	switch strings.ToLower(kind) {
	case "starlark":
		return verify.StarlarkExecutor{MaxSteps: ec.MaxSteps}, noop, nil
	case "host":
		return verify.HostExecutor{Interpreter: ec.Interpreter, Timeout: ec.Timeout}, noop, nil
	case "docker":
		d, err := verify.NewDockerExecutor(verify.DockerOptions{
			Image:    ec.Docker.Image,
			MemoryMB: ec.Docker.MemoryMB,
			Network:  ec.Docker.Network,
			Timeout:  ec.Timeout,
		})
		if err != nil {
			return nil, noop, err
		}
		return d, d.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown executor %q", kind)
	}
}

// languageFor names the language the model must write for an executor.
func languageFor(kind string) string {
	if strings.EqualFold(kind, "starlark") {
		return "Starlark"
	}
	return "Python"
}

func (a *app) extractor() (memory.Extractor, error) {
	if a.cfg.Memory.Extractor == "llm" && a.llm.Enabled() {
		return llm.NewExtractor(a.llm)
	}
	return memory.RuleExtractor{}, nil
}

func (a *app) sideChannel() (*memory.SideChannel, error) {
	if !a.cfg.Memory.Enabled {
		return nil, nil
	}
	ex, err := a.extractor()
	if err != nil {
		return nil, err
	}
	return &memory.SideChannel{
		Facts:     a.facts,
		Extractor: ex,
		Bus:       a.bus,
		Logger:    a.logger,
		Tracer:    a.otel.Tracer,
		Metrics:   a.metrics,
	}, nil
}

func (a *app) requireLLM() error {
	if !a.llm.Enabled() {
		return fmt.Errorf("%w: set an API key for provider %q (see config.yaml or env)", llm.ErrNotConfigured, a.cfg.LLM.Provider)
	}
	return nil
}

func (a *app) ownerOrDefault(owner string) string {
	if strings.TrimSpace(owner) == "" {
		return a.cfg.Memory.DefaultOwnerKey
	}
	return owner
}

// terminalKindLabel renders a terminal for humans.
func terminalKindLabel(k engine.TerminalKind) string {
	switch k {
	case engine.TerminalSucceeded:
		return "succeeded"
	case engine.TerminalExhausted:
		return "gave up after reaching the iteration cap"
	case engine.TerminalCancelled:
		return "cancelled"
	}
	return string(k)
}

func writeln(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}
