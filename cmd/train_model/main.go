package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"diabetesml/config"
	"diabetesml/dataset"
	"diabetesml/db"
	"diabetesml/logging"
	"diabetesml/training"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	modelType := flag.String("model_type", "", "model type (random_forest or decision_tree)")
	modelPath := flag.String("model_path", "", "model output path")
	numTrees := flag.Int("num_trees", 0, "number of trees in the forest")
	maxDepth := flag.Int("max_depth", -1, "max tree depth, 0 for unbounded")
	seed := flag.Int64("seed", -1, "random seed")
	testRatio := flag.Float64("test_ratio", 0, "holdout ratio")
	refresh := flag.Bool("refresh", false, "download the dataset even if a local copy exists")
	record := flag.Bool("record", true, "record the run in the training store")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	trainCfg := training.Config{
		ModelType: cfg.Model.Type,
		ModelPath: cfg.ModelPath(),
		NumTrees:  cfg.Model.NumTrees,
		MaxDepth:  cfg.Model.MaxDepth,
		Seed:      cfg.Model.Seed,
		TestRatio: cfg.Model.TestRatio,
	}
	if *modelType != "" {
		trainCfg.ModelType = *modelType
	}
	if *modelPath != "" {
		trainCfg.ModelPath = *modelPath
	}
	if *numTrees > 0 {
		trainCfg.NumTrees = *numTrees
	}
	if *maxDepth >= 0 {
		trainCfg.MaxDepth = *maxDepth
	}
	if *seed >= 0 {
		trainCfg.Seed = *seed
	}
	if *testRatio > 0 && *testRatio < 1 {
		trainCfg.TestRatio = *testRatio
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := dataset.NewFetcher(cfg.Dataset.URL, cfg.DatasetPath(), cfg.Dataset.Timeout, logger)
	if *refresh {
		if _, err := fetcher.Fetch(ctx); err != nil {
			logger.Fatal("failed to download dataset", zap.Error(err))
		}
	}

	var recorder training.RunRecorder
	if *record {
		store, err := db.Open(cfg.DatabasePath(), logger)
		if err != nil {
			logger.Warn("training store unavailable, run will not be recorded", zap.Error(err))
		} else {
			defer store.Close()
			recorder = store
		}
	}

	result, err := training.NewTrainer(trainCfg, fetcher, recorder, logger).Train(ctx)
	if err != nil {
		logger.Fatal("failed to train model", zap.Error(err))
	}

	fmt.Printf("accuracy=%.4f precision=%.4f recall=%.4f train=%d test=%d\n",
		result.Metrics.Accuracy, result.Metrics.Precision, result.Metrics.Recall, result.TrainRows, result.TestRows)
	fmt.Printf("model saved to %s\n", result.ModelPath)
}
