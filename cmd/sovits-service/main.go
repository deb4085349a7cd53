// main package for the sovits-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/voiceforge/sovits-service/internal/config"
	"github.com/voiceforge/sovits-service/internal/objectstore"
	"github.com/voiceforge/sovits-service/internal/server"
	"github.com/voiceforge/sovits-service/internal/sovits"
	"github.com/voiceforge/sovits-service/internal/speakers"
	"github.com/voiceforge/sovits-service/internal/trainer"
	"github.com/voiceforge/sovits-service/internal/worker"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "sovits-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// Local setups may keep PROJECT_TOML and NATS_URL in a .env file.
	_ = godotenv.Load()

	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, finalLog)
}

func serve(cfg *config.Config, log *logger.Logger) error {
	db, err := speakers.Open(cfg.Paths.SpeakersDB)
	if err != nil {
		return err
	}

	repo := speakers.NewRepository(
		db, cfg.Paths.TrainingDataDir, cfg.Paths.TrainedModelsDir, log,
	)

	engine := sovits.NewEngine(cfg, repo, log)

	jobTrainer := trainer.New(trainer.Config{
		SoVITSDir:        cfg.Launcher.SoVITSDir,
		PythonBin:        cfg.Launcher.PythonBin,
		TrainingDataDir:  cfg.Paths.TrainingDataDir,
		TrainedModelsDir: cfg.Paths.TrainedModelsDir,
		Epochs:           cfg.Training.Epochs,
		BatchSize:        cfg.Training.BatchSize,
	}, repo, trainer.ExecRunner{}, log)

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return err
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		jetstreamContext,
		cfg.NATS.SpeechRequestedSubject,
		store,
		engine,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create NATS worker: %w", err)
	}

	module := server.New(repo, engine, jobTrainer, server.HostProbe{}, cfg.Paths.OutputsDir, log)
	router := server.NewRouter(cfg.HTTP, module)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)

	go func() {
		errChan <- natsWorker.Run(ctx)
	}()

	go func() {
		serveErr := httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server failed: %w", serveErr)

			return
		}

		errChan <- nil
	}()

	log.System(
		"SoVITS-Service initialized. HTTP on %s, consuming jobs on subject: %s",
		cfg.HTTP.ListenAddress, cfg.NATS.SpeechRequestedSubject,
	)

	select {
	case <-ctx.Done():
		log.System("Shutdown signal received.")
	case runErr := <-errChan:
		if runErr != nil {
			return runErr
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		return fmt.Errorf("failed to shut down http server: %w", shutdownErr)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
