package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	logger   *zap.Logger
	logLevel = zap.NewAtomicLevel()
)

func init() {
	// Info until the configuration is loaded
	logger = zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.Lock(os.Stdout),
		logLevel,
	))
}

// setLogLevel changes the level of the global logger
func setLogLevel(level string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	logLevel.SetLevel(parsed)
	return nil
}

func main() {
	defer func() {
		_ = logger.Sync()
	}()

	// Load configuration
	config := BuildConfig()
	if err := setLogLevel(config.LogLevel); err != nil {
		logger.Fatal("Invalid LOG_LEVEL", zap.String("value", config.LogLevel), zap.Error(err))
	}
	logger.Info("Configuration loaded",
		zap.String("listenAddr", config.ListenAddr),
		zap.String("databasePath", config.DatabasePath),
		zap.String("clerkApiUrl", config.ClerkAPIURL),
		zap.Bool("correlationEnabled", config.CorrelationEnabled),
		zap.Duration("correlationDelay", config.CorrelationDelay))

	verifier, err := NewVerifier(config.WebhookSecret, config.SignatureTolerance)
	if err != nil {
		logger.Fatal("Invalid webhook secret", zap.Error(err))
	}

	// Initialize database
	db, err := NewDatabase(config.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Shut down on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// The correlator outlives the HTTP server so that events handled while
	// the server drains can still be written back
	correlatorCtx, stopCorrelator := context.WithCancel(context.Background())
	defer stopCorrelator()

	var scheduler CorrelationScheduler = noopScheduler{}
	if config.CorrelationEnabled {
		clerk := NewClerkClient(config.ClerkAPIURL, config.ClerkSecretKey, config.MetadataKey, nil)
		correlator := NewCorrelator(clerk, config.CorrelationDelay, config.CorrelationTimeout,
			config.CorrelationWorkers, config.CorrelationQueueSize)
		g.Go(func() error {
			correlator.Start(correlatorCtx)
			return nil
		})
		scheduler = correlator
	} else {
		logger.Warn("CLERK_SECRET_KEY not set or correlation disabled, local ids will not be written back")
	}

	reconciler := NewReconciler(db, scheduler)
	server := NewServer(verifier, reconciler, db)

	g.Go(func() error {
		defer stopCorrelator()
		return server.Start(ctx, config.ListenAddr, config.ShutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}
