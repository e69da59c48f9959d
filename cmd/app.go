package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/qrave1/meshroom/internal/application/config"
	"github.com/qrave1/meshroom/internal/application/constant"
	"github.com/qrave1/meshroom/internal/application/metric"
	"github.com/qrave1/meshroom/internal/infra/adapters/memory"
	"github.com/qrave1/meshroom/internal/infra/adapters/postgres"
	"github.com/qrave1/meshroom/internal/infra/adapters/postgres/repository"
	"github.com/qrave1/meshroom/internal/infra/ports/http/handlers"
	"github.com/qrave1/meshroom/internal/infra/ports/http/server"
	"github.com/qrave1/meshroom/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run signaling server",
	Run: func(cmd *cobra.Command, args []string) {
		runApp()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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

	if cfg.Debug {
		slog.SetDefault(
			slog.New(
				slog.NewJSONHandler(
					os.Stdout,
					&slog.HandlerOptions{Level: slog.LevelDebug},
				),
			),
		)
	}

	slog.Info("Running app", slog.Bool("debug", cfg.Debug), slog.Bool("postgres", cfg.Postgres.Enabled))

	// История звонков в Postgres, если он включён, иначе в памяти процесса
	var historyRepo usecase.CallHistoryRepository = memory.NewCallHistoryRepository()

	if cfg.Postgres.Enabled {
		dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			slog.Error("connect to postgres", slog.Any(constant.Error, err))
			os.Exit(1)
		}
		defer dbConn.Close()

		historyRepo = repository.NewCallHistoryRepo(dbConn)
	}

	registry := memory.NewSessionRegistry(
		memory.WithMaxParticipants(cfg.Room.MaxParticipants),
		memory.WithPasswordCost(cfg.Room.PasswordCost),
	)
	wsConnRepo := memory.NewWSConnectionRepository()

	signalingUsecase := usecase.NewSignalingUsecase(registry, wsConnRepo, historyRepo)
	roomUsecase := usecase.NewRoomUsecase(registry, historyRepo)

	iceHandler := handlers.NewIceHandler(cfg)
	roomHandler := handlers.NewRoomHandler(roomUsecase)
	wsHandler := handlers.NewWebSocketHandler(cfg, signalingUsecase, wsConnRepo)

	echoSrv := server.New(iceHandler, roomHandler, wsHandler)

	metricsSrv := metric.NewServer(prometheus.DefaultGatherer)

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
		slog.Info("Shutting down servers due to context cancel")
	case err := <-echoSrvCh:
		slog.Error(
			"HTTP server failed",
			slog.Any(constant.Error, err),
		)
		os.Exit(1)
	case err := <-metricsSrvCh:
		slog.Error(
			"Metrics server failed",
			slog.Any(constant.Error, err),
		)
		os.Exit(1)
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown HTTP server", slog.Any(constant.Error, err))
	}

	if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown metric server", slog.Any(constant.Error, err))
	}
}
