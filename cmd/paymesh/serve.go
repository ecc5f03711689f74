package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"paymesh/internal/config"
	"paymesh/internal/handlers"
)

func serveCmd(settings *config.ApplicationSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the payment HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, settings)
			if err != nil {
				return err
			}

			app := handlers.NewApp(handlers.Dependencies{
				Payments: rt.dispatcher,
				Stats:    rt.stats,
				Markets:  handlers.NewMarketHandler(rt.markets, nil),
				Gateways: rt.gateways,
				Metrics:  rt.dispatcher,
				Breakers: rt.breakers,
				Health:   rt.health,
			})

			addr := settings.Server.Addr()
			listenErr := make(chan error, 1)
			go func() {
				slog.Info("Server running", "addr", addr, "storage", settings.Storage.Backend, "events", settings.Events.Backend)
				listenErr <- app.Listen(addr)
			}()

			select {
			case <-ctx.Done():
				slog.Info("Server shutting down gracefully")
			case err = <-listenErr:
				slog.Error("Server failed", "err", err)
			}

			if shutdownErr := app.ShutdownWithTimeout(settings.Server.ShutdownTimeout); shutdownErr != nil {
				slog.Warn("HTTP shutdown incomplete", "err", shutdownErr)
			}

			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settings.Server.ShutdownTimeout)
			defer cancel()
			rt.Close(closeCtx)

			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
