package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/awayreply/internal/auth"
	"github.com/joshsymonds/awayreply/internal/config"
	"github.com/joshsymonds/awayreply/internal/gmail"
	"github.com/joshsymonds/awayreply/internal/rate"
	"github.com/joshsymonds/awayreply/internal/responder"
	"github.com/joshsymonds/awayreply/internal/runtime"
	"github.com/joshsymonds/awayreply/internal/schedule"
	"github.com/joshsymonds/awayreply/internal/server"
	"github.com/joshsymonds/awayreply/internal/store"
)

const shutdownGrace = 10 * time.Second

type flags struct {
	envFile  string
	gmailctl string
	once     bool
}

func main() {
	f := parseFlags()
	if err := run(f); err != nil {
		runtime.DefaultLogger().Error("awayreply failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() flags {
	envFile := flag.String("env-file", "", "load environment from this file (default: .env when present)")
	gmailctlDir := flag.String("gmailctl-config", "", "use gmailctl credentials from this directory instead of the web flow")
	once := flag.Bool("once", false, "run a single poll cycle and exit")
	flag.Parse()
	return flags{envFile: *envFile, gmailctl: *gmailctlDir, once: *once}
}

func run(f flags) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadEnvFile(f.envFile); err != nil {
		return err
	}
	cfg := config.Load()
	logger := runtime.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if _, err := schedule.Parse(cfg.Poll.Schedule); err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("close store", "path", cfg.DBPath, "error", err)
		}
	}()

	var (
		source gmail.Source
		router http.Handler
	)
	if f.gmailctl != "" {
		client, err := runtime.NewLocalCredClient(ctx, f.gmailctl)
		if err != nil {
			return fmt.Errorf("create gmail client: %w", err)
		}
		source = runtime.StaticSource{C: client}
	} else {
		if err := cfg.Validate(); err != nil {
			return err
		}
		authn := auth.NewAuthenticator(
			auth.NewConfig(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.RedirectURI),
			st, cfg.OAuth.Account, logger,
		)
		source = runtime.TokenSourceClients{Tokens: authn}
		router = server.NewRouter(&server.Handler{Auth: authn, Account: cfg.OAuth.Account, Logger: logger})
	}

	var limiter rate.Limiter
	if cfg.Poll.RPS > 0 {
		bucket := rate.NewTokenBucket(cfg.Poll.RPS)
		defer bucket.Stop()
		limiter = bucket
	}

	svc := responder.NewService(source, limiter, st, logger, responder.Options{
		Account:       cfg.OAuth.Account,
		From:          cfg.Reply.From,
		Label:         cfg.Reply.Label,
		Body:          cfg.Reply.Body,
		Query:         cfg.Poll.Query,
		PageSize:      cfg.Poll.PageSize,
		DryRun:        cfg.Poll.DryRun,
		SkipAutomated: cfg.Reply.SkipAutomated,
	})

	if f.once {
		rep, err := svc.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("poll cycle: %w", err)
		}
		logger.Info("done", "replied", rep.Replied, "skipped", rep.Skipped, "failed", rep.Failed)
		return nil
	}

	sched, err := schedule.New(ctx, cfg.Poll.Schedule, func(ctx context.Context) {
		if _, err := svc.RunCycle(ctx); err != nil && !errors.Is(err, responder.ErrCycleInFlight) {
			logger.ErrorContext(ctx, "poll cycle failed", "error", err)
		}
	}, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if router != nil {
		srv := server.NewHTTPServer(cfg.ServerAddress(), router)
		g.Go(func() error {
			logger.Info("server listening", "addr", srv.Addr, "account", cfg.OAuth.Account)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
