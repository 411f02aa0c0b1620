package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtrntr/carauction/internal/api"
	"github.com/xtrntr/carauction/internal/auth"
	"github.com/xtrntr/carauction/internal/bidding"
	"github.com/xtrntr/carauction/internal/config"
	"github.com/xtrntr/carauction/internal/db"
	"github.com/xtrntr/carauction/internal/deposit"
	"github.com/xtrntr/carauction/internal/fraud"
	"github.com/xtrntr/carauction/internal/lifecycle"
	"github.com/xtrntr/carauction/internal/logging"
	"github.com/xtrntr/carauction/internal/notify"
	"github.com/xtrntr/carauction/internal/sequencer"
	"github.com/xtrntr/carauction/internal/store"
	"github.com/xtrntr/carauction/internal/store/memstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// Main entry point: sets up config, store, services and HTTP server
func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	memory := flag.Bool("memory", false, "use the in-memory store instead of PostgreSQL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	var st store.Store
	if *memory {
		logger.Warn("using in-memory store; data is lost on exit")
		st = memstore.New()
	} else {
		database, err := db.NewDB(ctx, cfg.DB.URL, cfg.DB.MaxTxRetries, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close(context.Background())
		st = database
	}

	// Initialize services
	rulesCfg := cfg.Rules()
	hub := notify.NewHub(logger)
	// Websocket writes happen off the request path
	hubQueue := notify.NewAsync(hub, 0, logger)
	go hubQueue.Run(ctx)
	sink := notify.Multi{hubQueue, notify.LogSink{Logger: logger}}

	engine, err := fraud.NewEngine(st, cfg.FraudThresholds(), cfg.Fraud.UserCacheSize, logger)
	if err != nil {
		logger.Fatalf("Failed to create fraud engine: %v", err)
	}
	manager := lifecycle.NewManager(st, rulesCfg, sink, logger)

	handler := &api.Handler{
		AuthService: auth.NewAuthService(st, cfg.Auth.JWTSecret, cfg.TokenTTL()),
		Bidding:     bidding.NewService(st, st, sequencer.New(), rulesCfg, sink, logger),
		Fraud:       engine,
		Lifecycle:   manager,
		Deposits:    deposit.NewGate(st, cfg.Auction.RequireDeposit),
		Listings:    st,
		Hub:         hub,
		Logger:      logger,
	}

	// Set up HTTP router
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/", handler.Router())

	// Start expired auction sweeper
	go lifecycle.NewSweeper(manager, cfg.SweepInterval()).Run(ctx)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("server shutdown failed")
		}
	}()

	logger.WithField("addr", cfg.Server.Addr).Info("starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Server failed: %v", err)
	}
	logger.Info("server stopped")
}
