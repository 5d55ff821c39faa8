package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Youmanvi/stockledger/internal/events"
	"github.com/Youmanvi/stockledger/internal/infrastructure/config"
	"github.com/Youmanvi/stockledger/internal/infrastructure/observability"
	"github.com/Youmanvi/stockledger/internal/infrastructure/storage"
	"github.com/Youmanvi/stockledger/internal/ledger"
	"github.com/Youmanvi/stockledger/internal/reservation"
	"github.com/Youmanvi/stockledger/internal/server"
	"github.com/Youmanvi/stockledger/internal/sweeper"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(&cfg.Observability)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitializeTracing(ctx, &cfg.Observability, cfg.App.Name)
	if err != nil {
		logger.WithError(err).Fatal().Msg("failed to initialize tracing")
	}
	defer func() {
		if err := observability.ShutdownTracing(context.Background(), tp); err != nil {
			logger.WithError(err).Error().Msg("failed to shut down tracing")
		}
	}()

	db, err := storage.Open(&cfg.Storage)
	if err != nil {
		logger.WithError(err).Fatal().Msg("failed to open storage")
	}
	defer db.Close()

	var publisher reservation.Publisher
	if cfg.Events.Enabled {
		kp := events.NewKafkaPublisher(&cfg.Events)
		defer kp.Close()
		publisher = kp
	}

	stockLedger := ledger.New(db, cfg.Reservation.LockTimeout, logger, metrics)
	store := reservation.NewStore(db)
	manager := reservation.NewManager(db, stockLedger, store, publisher, logger, metrics, cfg.Reservation.HoldDuration)
	sweep := sweeper.New(manager, cfg.Reservation.SweepInterval, logger, metrics)

	api := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      server.New(manager, stockLedger, logger).Handler(),
		ReadTimeout:  cfg.App.Timeout,
		WriteTimeout: cfg.App.Timeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Int("port", cfg.App.Port).Msg("inventory API listening")
		if err := api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return api.Shutdown(context.Background())
	})

	g.Go(func() error {
		return sweep.Run(ctx)
	})

	if cfg.Observability.MetricsEnabled {
		metricsSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
			Handler: promhttp.Handler(),
		}
		g.Go(func() error {
			logger.Info().Int("port", cfg.Observability.MetricsPort).Msg("metrics listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return metricsSrv.Shutdown(context.Background())
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.WithError(err).Error().Msg("service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("service stopped")
}
