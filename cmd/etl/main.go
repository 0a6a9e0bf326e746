package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/adapter/extractor"
	fileadapter "github.com/ftenorioinkluziva/f1-data-pipeline/internal/adapter/file"
	httpadapter "github.com/ftenorioinkluziva/f1-data-pipeline/internal/adapter/http"
	kafkaadapter "github.com/ftenorioinkluziva/f1-data-pipeline/internal/adapter/kafka"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/adapter/livetiming"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/adapter/postgres"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/config"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/observability"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	schema, err := postgres.NewSchema(cfg.StoreSchema, postgres.SchemaOptions{
		ChunkSize:             cfg.InsertChunkSize,
		SessionID:             cfg.HostedSessionID,
		LegacyBooleanRainfall: cfg.LegacyBooleanRainfall,
	})
	if err != nil {
		logger.Error("invalid store schema", "error", err)
		os.Exit(1)
	}
	if cfg.CreateTables && schema.Name() == postgres.SchemaDirect {
		if err := postgres.CreateDirectTables(ctx, pool); err != nil {
			logger.Error("create tables failed", "error", err)
			os.Exit(1)
		}
	}
	loader := postgres.NewLoader(pool, schema, logger)
	logger.Info("database connected", "schema", schema.Name(), "max_conns", cfg.DBMaxConns)

	transformer, err := pipeline.NewTopicTransformer(livetiming.LineFormat(cfg.LineFormat), cfg.Topics, logger)
	if err != nil {
		logger.Error("invalid line format", "error", err)
		os.Exit(1)
	}

	opts := pipeline.Options{
		Interval:          cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StopTimeout:       cfg.ExtractorStopTimeout,
	}

	if len(cfg.ExtractorCommand) > 0 {
		proc, err := extractor.New(cfg.ExtractorCommand,
			extractor.Args(cfg.DataFile, cfg.Topics, cfg.ExtractorTimeout), logger)
		if err != nil {
			logger.Error("invalid extractor command", "error", err)
			os.Exit(1)
		}
		opts.Extractor = proc
	} else {
		logger.Info("extractor disabled, tailing existing log only", "file", cfg.DataFile)
	}

	var writer *kafkaadapter.Writer
	if len(cfg.KafkaBrokers) > 0 {
		writer = kafkaadapter.NewWriter(cfg, logger)
		opts.Publisher = writer
		logger.Info("record sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}

	tailer := fileadapter.NewTailer(cfg.DataFile, logger)
	p := pipeline.New(opts, tailer, transformer, loader, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	runErr := serve(ctx, p, srv, cfg.ShutdownTimeout, logger)

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if runErr != nil {
		logger.Error("pipeline failed", "error", runErr)
		pool.Close()
		stop()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

type runner interface {
	Run(ctx context.Context) error
}

type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serve runs the HTTP server and the pipeline until the pipeline returns,
// either on its own or after ctx is cancelled. The pipeline bounds its own
// shutdown with the extractor stop timeout and the load timeout, so it is
// awaited without a deadline; shutdownTimeout applies to the HTTP server.
func serve(ctx context.Context, p runner, srv httpServer, shutdownTimeout time.Duration, logger *slog.Logger) error {
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	var err error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		err = <-runErr
	case err = <-runErr:
		logger.Info("pipeline finished, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("http server shutdown error", "error", serr)
	}
	return err
}
