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
	"auction-engine/internal/infrastructure/websocket"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load("bidding-service-1")
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}

	log := logger.NewWithConfig(cfg.Log.Level)
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Bidding service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Bidding service stopped")
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

	rules, err := engine.IncrementRules(ctx)
	if err != nil {
		return errors.Wrap(err, "load bidding rules")
	}

	connManager := websocket.NewConnectionManager(log)
	notifier := websocket.NewWebSocketNotifier(connManager)

	auctionManager := services.NewAuctionManager(engine.Store, engine.Cache, engine.Sink, rules, engine.Clock, log)
	bidService := services.NewBidService(engine.Store, engine.Cache, engine.Sink, engine.Clock, log)
	eventListener := services.NewEventListener(engine.Cache, connManager, notifier, notifier, log)

	wsHandler := websocket.NewWebSocketHandler(bidService, auctionManager, connManager, log)

	router := mux.NewRouter()
	router.Use(middleware.CORS(log))
	handlers.NewWebSocketHandlers(wsHandler).Register(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting bidding service", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	if subscriber := engine.Subscriber(); subscriber != nil {
		g.Go(func() error {
			err := eventListener.Start(ctx, subscriber)
			if err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrap(err, "event listener")
			}
			return nil
		})
	} else {
		log.Warn("No event subscriber configured; bidders only see their own bid results")
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down bidding service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
