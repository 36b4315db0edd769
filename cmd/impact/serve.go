package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/impact/internal/api"
	impactmcp "github.com/hurttlocker/impact/internal/mcp"
)

const (
	shutdownTimeout = 15 * time.Second
	purgeInterval   = time.Hour
)

func runServe(args []string) error {
	_, f, err := splitArgs(args)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.HTTPAddr.Value
	if f.Addr != "" {
		addr = f.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(api.Config{Engine: a.engine, Logger: a.log, Version: version}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", addr).Str("version", version).Msg("impact API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		purgeLoop(gctx, a)
		return nil
	})
	return g.Wait()
}

// purgeLoop drops expired cache rows and old rate events until ctx ends.
func purgeLoop(ctx context.Context, a *app) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.store.PurgeExpired(ctx)
			if err != nil {
				a.log.Warn().Err(err).Msg("purge failed")
				continue
			}
			a.log.Debug().Int64("rows", n).Msg("purged expired rows")
		}
	}
}

func runMCP(args []string) error {
	if _, _, err := splitArgs(args); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	a.log.Info().Str("version", version).Msg("impact MCP server on stdio")
	return impactmcp.ServeStdio(impactmcp.NewServer(impactmcp.ServerConfig{Engine: a.engine, Version: version}))
}
