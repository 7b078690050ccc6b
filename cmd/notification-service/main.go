package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-engine/internal/api/handlers"
	"auction-engine/internal/api/middleware"
	"auction-engine/internal/bootstrap"
	"auction-engine/internal/config"
	"auction-engine/internal/infrastructure/amqp"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load("notification-service-1")
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}

	log := logger.NewWithConfig(cfg.Log.Level)
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Notification service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Notification service stopped")
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	engine, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error("Failed to close connections", "error", err)
		}
	}()

	subscriber := engine.Subscriber()
	if subscriber == nil {
		return errors.Newf("notification service needs the %q transport, got %q",
			config.TransportRedis, cfg.Notifications.Transport)
	}

	repo := engine.NotificationRepository()
	recorder := services.NewNotificationRecorder(services.NewNotificationBuilder(), repo, log)

	// Events arrive over Redis here, so forwarding needs its own broker connection.
	if cfg.Notifications.AMQPURL != "" {
		publisher, err := amqp.Dial(cfg.Notifications.AMQPURL, cfg.Notifications.Exchange, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
		recorder.SetForwarder(publisher)
	}

	router := mux.NewRouter()
	router.Use(middleware.CORS(log))
	handlers.NewNotificationHandlers(repo, log).Register(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting notification service", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		err := recorder.Start(ctx, subscriber)
		if err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "notification recorder")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down notification service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
