package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/evenstad/reconcile-backend/internal/application/pipeline"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/config"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/storage"
	"github.com/evenstad/reconcile-backend/internal/observability"
)

// job is one line of the ingestion feed: a transaction or an invoice,
// tagged by kind.
type job struct {
	Kind        string             `json:"kind"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Invoice     *model.Invoice     `json:"invoice,omitempty"`
}

// The worker reads newline-delimited JSON jobs from a file or stdin and
// feeds them through the pipeline's worker pool. Useful for bulk
// backfills and for replaying bank exports without the HTTP surface.
func main() {
	var (
		configFile = flag.String("config", "config.yaml", "Configuration file path")
		inputFile  = flag.String("input", "-", "NDJSON job feed, - for stdin")
	)
	flag.Parse()

	cfg := config.LoadOrEnvWithPath(*configFile)
	logger := observability.NewLogger(cfg.Observability.Logging)

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	pipe := pipeline.New(cfg, store, logger)

	in := os.Stdin
	if *inputFile != "-" {
		f, err := os.Open(*inputFile)
		if err != nil {
			logger.Error("failed to open input", "path", *inputFile, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("received signal, stopping")
		cancel()
	}()

	jobs := make(chan pipeline.Job)
	go func() {
		defer close(jobs)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			var j job
			if err := json.Unmarshal(scanner.Bytes(), &j); err != nil {
				logger.Warn("skipping malformed job", "line", line, "error", err)
				continue
			}
			var pj pipeline.Job
			switch j.Kind {
			case string(pipeline.JobTransaction):
				pj = pipeline.Job{Kind: pipeline.JobTransaction, Transaction: j.Transaction}
			case string(pipeline.JobInvoice):
				pj = pipeline.Job{Kind: pipeline.JobInvoice, Invoice: j.Invoice}
			default:
				logger.Warn("skipping job with unknown kind", "line", line, "kind", j.Kind)
				continue
			}
			select {
			case jobs <- pj:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Error("input read failed", "error", err)
		}
	}()

	pipe.Run(ctx, jobs)
	logger.Info("worker drained")
}
