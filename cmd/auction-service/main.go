package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-engine/internal/api/handlers"
	"auction-engine/internal/bootstrap"
	"auction-engine/internal/config"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load("auction-service-1")
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}

	log := logger.NewWithConfig(cfg.Log.Level)
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Auction service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Auction service stopped")
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

	auctionManager := services.NewAuctionManager(engine.Store, engine.Cache, engine.Sink, rules, engine.Clock, log)
	bidService := services.NewBidService(engine.Store, engine.Cache, engine.Sink, engine.Clock, log)
	negotiation := services.NewNegotiationService(engine.Store, engine.Sink, engine.Confirmer,
		cfg.Engine.CounterOfferWindow, engine.Clock, log)
	scheduler := services.NewLifecycleScheduler(auctionManager, negotiation, engine.LeaderElection(),
		cfg.Instance.ID, cfg.Engine.SweepInterval, engine.Clock, log)

	e := newEcho(log)
	handlers.NewAuctionHandler(auctionManager, bidService, negotiation, engine.Clock, log).Register(e.Group("/api/v1"))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"service":     "auction-service",
			"instance_id": cfg.Instance.ID,
			"timestamp":   engine.Clock.Now().Format(time.RFC3339),
		})
	})

	if err := scheduler.Start(ctx); err != nil {
		return errors.Wrap(err, "start lifecycle scheduler")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting auction service", "address", cfg.Server.Address())
		if err := e.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down auction service...")

		if err := scheduler.Stop(); err != nil {
			log.Error("Failed to stop scheduler", "error", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newEcho(log logger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			handlers.HeaderUserID,
		},
		MaxAge: 86400,
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			err := next(c)
			req := c.Request()
			log.Debug("Request handled",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"remote_addr", c.RealIP(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"latency", time.Since(started))
			return err
		}
	})
	return e
}
