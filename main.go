package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"diabetesml/config"
	"diabetesml/dataset"
	"diabetesml/db"
	qhttp "diabetesml/http"
	"diabetesml/logging"
	"diabetesml/ml"
	"diabetesml/monitoring"
	"diabetesml/prediction"
	"diabetesml/training"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Initialize training store; the service runs without history if it fails
	var (
		recorder training.RunRecorder
		runs     qhttp.RunLister
	)
	store, err := db.Open(cfg.DatabasePath(), logger)
	if err != nil {
		logger.Warn("Training store unavailable", zap.Error(err))
	} else {
		defer store.Close()
		recorder, runs = store, store
	}

	// 3. Load or train the model
	fetcher := dataset.NewFetcher(cfg.Dataset.URL, cfg.DatasetPath(), cfg.Dataset.Timeout, logger)
	trainer := training.NewTrainer(training.Config{
		ModelType: cfg.Model.Type,
		ModelPath: cfg.ModelPath(),
		NumTrees:  cfg.Model.NumTrees,
		MaxDepth:  cfg.Model.MaxDepth,
		Seed:      cfg.Model.Seed,
		TestRatio: cfg.Model.TestRatio,
	}, fetcher, recorder, logger)

	holder := &ml.Holder{}
	health := monitoring.NewHealth()
	manager := training.NewManager(trainer, holder, health, logger)
	if err := manager.Init(ctx); err != nil {
		logger.Warn("Starting without a model; predictions will fail until one is trained", zap.Error(err))
	}

	if cfg.Model.Watch {
		go func() {
			if err := training.WatchModel(ctx, manager.ModelPath(), manager, training.DefaultWatchDebounce, logger); err != nil {
				logger.Error("Model watcher stopped", zap.Error(err))
			}
		}()
	}

	// 4. Prediction service
	history, err := prediction.NewHistory(cfg.Results.HistorySize)
	if err != nil {
		logger.Fatal("Failed to create results history", zap.Error(err))
	}
	service := prediction.NewService(
		holder,
		prediction.NewRealtimeLog(cfg.RealtimeLogPath(), dataset.LogColumns()),
		prediction.NewBatchWriter(cfg.BatchOutputPath()),
		history,
		health,
		logger,
	)

	handlers, err := qhttp.NewHandlers(qhttp.Deps{
		Service:   service,
		Models:    manager,
		Runs:      runs,
		Health:    health,
		SecretKey: cfg.Server.SecretKey,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Failed to create handlers", zap.Error(err))
	}

	// 5. Start HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Server.Port,
		Timeout:        cfg.Server.Timeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AdminToken:     cfg.Server.AdminToken,
	}, handlers, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 6. Handle graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	if err := server.Stop(); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Exiting")
}
