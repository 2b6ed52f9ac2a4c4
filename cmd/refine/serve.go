package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/basket/go-refine/internal/cron"
	"github.com/basket/go-refine/internal/gateway"
	"github.com/basket/go-refine/internal/verify"
)

// startGateway serves the approval gateway until the returned stop func is
// called or ctx ends. Without a configured token a one-off token is printed.
func startGateway(ctx context.Context, a *app, queue *verify.ApprovalQueue, out io.Writer) (func(), error) {
	token := a.cfg.Gateway.AuthToken
	if token == "" {
		token = uuid.NewString()
		writeln(out, "gateway token for this run: %s", token)
	}
	srv := gateway.New(gateway.Config{
		Queue:     queue,
		Sessions:  a.sessions,
		Bus:       a.bus,
		AuthToken: token,
		Logger:    a.logger,
	})

	ln, err := net.Listen("tcp", a.cfg.Gateway.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", a.cfg.Gateway.BindAddr, err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	go srv.Run(runCtx)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("gateway stopped", "error", err)
		}
	}()
	a.logger.Info("gateway listening", "bind_addr", ln.Addr().String())

	return func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("gateway shutdown", "error", err)
		}
	}, nil
}

// startPruner deletes finished sessions on storage.prune_schedule while a
// long-lived command runs. It is a no-op when the schedule is empty or the
// session backend cannot prune.
func startPruner(ctx context.Context, a *app) (func(), error) {
	if a.cfg.Storage.PruneSchedule == "" || a.lister == nil {
		return func() {}, nil
	}
	p, err := cron.NewPruner(cron.Config{
		Store:     a.lister,
		Schedule:  a.cfg.Storage.PruneSchedule,
		OlderThan: a.cfg.Storage.PruneAfter,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}
	p.Start(ctx)
	return p.Stop, nil
}
