package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/photo-orderflow/internal/app"
	"github.com/imrishuroy/photo-orderflow/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := app.NewLogger(cfg.LogLevel, cfg.RunLocal)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to build order engine", zap.Error(err))
	}
	defer a.Close()
	p := NewProcessor(a)

	// WORKER_MODE=queue consumes status reports; anything else is the scheduled sweep.
	mode := os.Getenv("WORKER_MODE")

	// If RUN_LOCAL=true, simulate a single event for local testing.
	if cfg.RunLocal {
		ctx := context.Background()
		if mode == "queue" {
			testBody := os.Getenv("LOCAL_SQS_BODY")
			if testBody == "" {
				testBody = `{"reference":"local-ref","target":"validated"}`
			}
			resp, err := p.HandleSQS(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: testBody}}})
			if err != nil {
				logger.Fatal("local handler error", zap.Error(err))
			}
			logger.Info("local run done", zap.Int("failures", len(resp.BatchItemFailures)))
			return
		}
		res, err := p.HandleSchedule(ctx, events.CloudWatchEvent{ID: "local", Source: "local"})
		out, _ := json.Marshal(res)
		logger.Info("local sweep done", zap.ByteString("result", out), zap.Error(err))
		return
	}

	if mode == "queue" {
		lambda.Start(p.HandleSQS)
		return
	}
	lambda.Start(p.HandleSchedule)
}
