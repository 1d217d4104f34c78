package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/suspectuso/ton-checkout/internal/api"
	"github.com/suspectuso/ton-checkout/internal/backend"
	"github.com/suspectuso/ton-checkout/internal/config"
	"github.com/suspectuso/ton-checkout/internal/payment"
	"github.com/suspectuso/ton-checkout/internal/storage"
	"github.com/suspectuso/ton-checkout/internal/tonapi"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	if cfg.BackendBaseURL == "" {
		log.Error("BACKEND_BASE_URL is required")
		os.Exit(1)
	}
	if cfg.MerchantAddress == "" {
		log.Error("MERCHANT_ADDRESS is required")
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Initialize clients
	tonAPI := tonapi.NewClient(cfg.TonAPIBaseURL, cfg.TonAPIKey)
	log.Info("tonapi client initialized", "base_url", cfg.TonAPIBaseURL)

	ledger := backend.NewClient(cfg.BackendBaseURL, cfg.BackendAPIKey)
	log.Info("backend client initialized", "base_url", cfg.BackendBaseURL)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize payment service
	resolver := payment.NewResolver(tonAPI)
	service, err := payment.NewService(ctx, cfg, store, resolver, ledger, log)
	if err != nil {
		log.Error("init payment service", "error", err)
		os.Exit(1)
	}
	log.Info("payment service initialized",
		"token", cfg.TokenSymbol,
		"merchant", tonapi.ShortAddr(cfg.MerchantAddress, 6),
	)

	// Start deposit watcher
	watcher := payment.NewDepositWatcher(service, tonAPI, log)
	go watcher.Start(ctx, cfg.WatchInterval)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		service.Shutdown()
		cancel()
	}()

	// Start API server
	server := api.NewServer(service, log)
	if err := server.Start(ctx, cfg.ListenPort); err != nil && err != http.ErrServerClosed {
		log.Error("api server", "error", err)
		os.Exit(1)
	}
}
