package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/straymeet/straymeet/internal/application/config"
	"github.com/straymeet/straymeet/internal/application/constant"
	"github.com/straymeet/straymeet/internal/application/metric"
	"github.com/straymeet/straymeet/internal/coordinator"
	"github.com/straymeet/straymeet/internal/geo"
	"github.com/straymeet/straymeet/internal/infra/adapters/memory"
	"github.com/straymeet/straymeet/internal/infra/adapters/postgres"
	"github.com/straymeet/straymeet/internal/infra/adapters/postgres/repository"
	"github.com/straymeet/straymeet/internal/infra/ports/http/handlers"
	"github.com/straymeet/straymeet/internal/infra/ports/http/server"
	"github.com/straymeet/straymeet/internal/recorder"
)

const recorderBufferSize = 256

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: slog.LevelInfo},
			),
		),
	)

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	slog.Info("Running app", slog.Bool("debug", cfg.Debug))

	dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres.DSN())
	if err != nil {
		slog.Error("connect to postgres", slog.Any(constant.Error, err))
		os.Exit(1)
	}
	defer dbConn.Close()

	sessionRepo := repository.NewSessionRepo(dbConn)
	visitorRepo := repository.NewVisitorRepo(dbConn)

	recorderSvc := recorder.New(sessionRepo, visitorRepo, recorderBufferSize)
	go recorderSvc.Run(ctx)

	wsConnRepo := memory.NewWSConnectionRepository()

	coord := coordinator.New(cfg.Chat, wsConnRepo, recorderSvc, geo.StaticLocator{})

	wsHandler := handlers.NewWebSocketHandler(cfg, coord, wsConnRepo)

	echoSrv := server.New(cfg, wsHandler)
	metricsSrv := metric.NewServer()

	echoSrvCh := make(chan error, 1)
	metricsSrvCh := make(chan error, 1)

	go func() {
		echoSrvCh <- echoSrv.Start(":" + cfg.Port)
	}()

	go func() {
		metricsSrvCh <- metricsSrv.Start(":" + cfg.MetricPort)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down server due to context cancel")
	case err := <-echoSrvCh:
		slog.Error("HTTP server failed", slog.Any(constant.Error, err))
		os.Exit(1)
	case err := <-metricsSrvCh:
		slog.Error("metrics server failed", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown server", slog.Any(constant.Error, err))
	}

	if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown metrics server", slog.Any(constant.Error, err))
	}

	// Let the recorder drain buffered analytics writes.
	recorderSvc.Wait()
}
