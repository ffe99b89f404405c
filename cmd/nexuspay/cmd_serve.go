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

	"nexuspay/internal/idempotency"
	"nexuspay/internal/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session API until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, consentFor(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer a.Close()

		store, closeStore, err := openStore(ctx, a)
		if err != nil {
			return err
		}
		defer closeStore()

		deps := server.Deps{
			Shop:    a.coord,
			Session: a.session,
			Health:  a.gateway,
			Store:   store,
			Log:     a.log,
		}
		if a.wallet != nil {
			deps.Wallet = a.wallet
		}
		api := server.NewServer(a.cfg.Service, deps)

		errCh := make(chan error, 1)
		go func() { errCh <- api.Start() }()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		a.log.Info("shutting down API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return api.Shutdown(shutdownCtx)
	},
}

// openStore picks the idempotency backend: Postgres, then Redis, then
// process memory.
func openStore(ctx context.Context, a *app) (idempotency.Store, func(), error) {
	svc := a.cfg.Service
	switch {
	case svc.PostgresDSN != "":
		pg, err := idempotency.NewPostgresStore(ctx, svc.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres idempotency store: %w", err)
		}
		go purgeLoop(ctx, a, pg)
		a.log.Info("idempotency store: postgres")
		return pg, pg.Close, nil
	case svc.RedisAddr != "":
		rs, err := idempotency.NewRedisStore(ctx, svc.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("redis idempotency store: %w", err)
		}
		a.log.Info("idempotency store: redis")
		return rs, func() { _ = rs.Close() }, nil
	}
	a.log.Info("idempotency store: memory")
	return idempotency.NewMemoryStore(), func() {}, nil
}

func purgeLoop(ctx context.Context, a *app, pg *idempotency.PostgresStore) {
	interval := a.cfg.Service.IdempotencyWindow
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := pg.Purge(ctx, now)
			if err != nil {
				a.log.WithError(err).Warn("purge expired idempotency records")
				continue
			}
			a.log.WithField("purged", n).Debug("purged expired idempotency records")
		}
	}
}
