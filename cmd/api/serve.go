package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chachabrian/mooveit-rides/internal/config"
	"github.com/chachabrian/mooveit-rides/internal/handlers"
	"github.com/chachabrian/mooveit-rides/internal/logger"
	"github.com/chachabrian/mooveit-rides/internal/services"
	"github.com/chachabrian/mooveit-rides/pkg/utils"
)

var (
	serveMigrate    bool
	sweepInterval   time.Duration
	shutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply migrations before serving")
	serveCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Minute, "how often stale payments are expired")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "grace period for in-flight requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log, serveMigrate)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	hub := services.NewHub(log)
	go hub.Run(ctx)

	publisher, closePublishers, err := buildPublisher(ctx, cfg, hub, log)
	if err != nil {
		return err
	}
	defer closePublishers()

	notifier := services.NewNotifier(store, publisher, log, buildPushers(ctx, cfg, log)...)
	defer notifier.Wait()

	inventory := services.NewInventory(store, log)
	deps := handlers.Deps{
		JWTSecret: cfg.JWTSecret,
		Inventory: inventory,
		Bookings:  services.NewBookingService(store, inventory, notifier, cfg.BookingFlow, log),
		Queries:   services.NewQueryService(store),
		Hub:       hub,
		Log:       log,
	}

	if cfg.MpesaConfigured() {
		archive, err := services.NewCallbackArchive(cfg, log)
		if err != nil {
			return fmt.Errorf("callback archive: %w", err)
		}
		deps.Payments = services.NewPaymentService(store, services.NewMpesaClient(cfg), archive, notifier,
			services.PaymentOptions{Timeout: cfg.PaymentTimeout, CallbackTTL: cfg.PaymentCallbackTTL}, log)
		go sweepStalePayments(ctx, deps.Payments, sweepInterval, log)
	} else {
		log.Warn("M-Pesa credentials not configured; payment routes disabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildPublisher fans events out to the local hub, or through Redis when
// REDIS_URL is set so that every instance's hub receives them, and to AMQP
// when AMQP_URL is set.
func buildPublisher(ctx context.Context, cfg *config.Config, hub *services.Hub, log logrus.FieldLogger) (services.Publisher, func(), error) {
	var (
		publishers services.MultiPublisher
		closers    []func()
	)

	if cfg.RedisURL != "" {
		client, err := services.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })

		relay := services.NewRedisRelay(client, cfg.RedisChannel, hub, log)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Redis relay stopped")
			}
		}()
		publishers = append(publishers, relay)
	} else {
		publishers = append(publishers, hub)
	}

	if cfg.AMQPURL != "" {
		amqpPub, err := services.NewAMQPPublisher(cfg.AMQPURL, log)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, err
		}
		closers = append(closers, func() { _ = amqpPub.Close() })
		publishers = append(publishers, amqpPub)
	}

	return publishers, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

func buildPushers(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) []services.Pusher {
	var pushers []services.Pusher

	if cfg.FirebaseServiceAccountPath != "" {
		fcm, err := services.NewFCMPusher(ctx, cfg.FirebaseServiceAccountPath, log)
		if err != nil {
			log.WithError(err).Warn("Firebase initialization failed; push notifications disabled")
		} else {
			pushers = append(pushers, fcm)
		}
	}

	if cfg.ATUsername != "" && cfg.ATAPIKey != "" {
		pushers = append(pushers, services.NewSMSPusher(utils.NewSMSClient(cfg.ATUsername, cfg.ATAPIKey)))
	}
	return pushers
}

func sweepStalePayments(ctx context.Context, payments *services.PaymentService, every time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := payments.ExpireStalePayments(ctx)
			if err != nil {
				log.WithError(err).Warn("Stale payment sweep failed")
				continue
			}
			if n > 0 {
				log.WithField("resolved", n).Debug("Stale payment sweep finished")
			}
		}
	}
}
