package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/bbux/presale-api/internal/chain"
	"github.com/bbux/presale-api/internal/config"
	"github.com/bbux/presale-api/internal/handlers"
	"github.com/bbux/presale-api/internal/scanapi"
	"github.com/bbux/presale-api/internal/services"
	"github.com/bbux/presale-api/internal/store"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded .env file")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	// Storage
	paymentStore, err := newStore(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("init storage")
	}
	defer paymentStore.Close()
	logger.Info().Str("driver", cfg.Database.Driver).Msg("storage initialized")

	// Chain client, only when delivery credentials are present
	var chainClient chain.Client
	if cfg.Chain.DeliveryConfigured() {
		ethClient, err := chain.NewEthClient(cfg.Chain)
		if err != nil {
			logger.Fatal().Err(err).Msg("init chain client")
		}
		chainClient = ethClient
		logger.Info().
			Int64("chain_id", cfg.Chain.ChainID).
			Str("operator", ethClient.From().Hex()).
			Msg("chain client initialized")
	} else {
		logger.Warn().Msg("delivery not configured, token transfers disabled")
	}

	// Event feed
	hub := handlers.NewHub()
	go hub.Run()

	// Services
	walletService := services.NewWalletService()
	pricingService := services.NewPricingService(cfg.Presale)
	emailService := services.NewEmailService(cfg.Email, cfg.Presale.TokenSymbol)
	adminAuthService := services.NewAdminAuthService(walletService, cfg.Admin)

	var worker *services.DeliveryWorker
	var deliveryService *services.DeliveryService
	if chainClient != nil {
		deliveryService = services.NewDeliveryService(paymentStore, chainClient, cfg.Chain, hub, logger)
		worker = services.NewDeliveryWorker(deliveryService, 64, logger)
	}

	claimService := services.NewClaimService(paymentStore, walletService, worker, emailService, hub,
		logger, cfg.Server.AppOrigin, cfg.Presale.TokenSymbol, cfg.Presale.ClaimTTLMinutes)

	var explorer *scanapi.Client
	if cfg.Chain.ExplorerAPIURL != "" {
		explorer = scanapi.NewClient(cfg.Chain.ExplorerAPIURL, cfg.Chain.ExplorerAPIKey)
	}
	observerService := services.NewObserverService(paymentStore, pricingService, walletService,
		worker, hub, explorer, cfg.Chain, logger)

	var paypalService *services.PayPalService
	if cfg.PayPal.Configured() {
		paypalService = services.NewPayPalService(cfg.PayPal, cfg.Presale.TokenSymbol,
			paymentStore, pricingService, walletService, worker, hub, logger)
		logger.Info().Str("mode", cfg.PayPal.Mode).Msg("paypal intake enabled")
	} else {
		logger.Warn().Msg("paypal not configured, fiat webhook disabled")
	}

	// Background loops
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if worker != nil {
		go worker.Run(ctx)
	}
	if explorer != nil {
		go observerService.SyncLoop(ctx)
	}

	// Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg.Server.AppOrigin),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health())

		// Public presale surface
		r.Get("/presale/stage", handlers.GetStage(pricingService))
		r.Post("/presale/quote", handlers.GetQuote(pricingService))
		r.Get("/presale/stats", handlers.GetPublicStats(paymentStore, pricingService))
		r.Post("/presale/track", handlers.TrackPurchase(observerService))

		// Claim redemption
		r.Get("/claim/{token}", handlers.GetClaim(claimService))
		r.Get("/claim/{token}/message", handlers.ClaimMessage(claimService, paymentStore))
		r.Post("/claim/{token}", handlers.RedeemClaim(claimService))

		// Processor webhook
		if paypalService != nil {
			r.Post("/paypal/webhook", handlers.PayPalWebhook(paypalService))
		}

		// Admin surface
		r.Post("/admin/login", handlers.AdminLogin(adminAuthService))
		r.Post("/admin/logout", handlers.AdminLogout())
		r.Group(func(r chi.Router) {
			r.Use(handlers.AdminMiddleware(adminAuthService))
			r.Get("/admin/session", handlers.AdminSession())
			r.Get("/admin/payments", handlers.ListPayments(paymentStore))
			r.Get("/admin/payment", handlers.GetPayment(paymentStore))
			r.Get("/admin/stats", handlers.GetStats(paymentStore, pricingService))
			r.Post("/admin/claims", handlers.IssueClaim(claimService))
			if deliveryService != nil {
				r.Post("/admin/deliver", handlers.DeliverTokens(deliveryService))
			}

			// Ledger event feed
			r.Get("/admin/ws", handlers.ServeWs(hub))
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info().Msg("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Int("port", cfg.Server.Port).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	return logger.Level(level).With().Timestamp().Logger()
}

func newStore(cfg config.DatabaseConfig) (store.PaymentStore, error) {
	if cfg.Driver == "sqlite" {
		return store.NewSQLiteStore(cfg.SQLitePath)
	}

	db, err := store.NewDatabase(cfg)
	if err != nil {
		return nil, err
	}

	repo := store.NewPaymentRepository(db)
	if err := repo.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

func corsOrigins(appOrigin string) []string {
	if appOrigin == "" {
		return []string{"*"}
	}
	return []string{appOrigin}
}
