// Command rules-engine hosts the Dispatcher behind a single HTTP entry
// point: one request is one invocation, bounded by the request's context
// deadline, mirroring cmd/merrymaker's startup shape.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	streamingconfig "github.com/panther-labs/panther/config/streaming"
	"github.com/panther-labs/panther/internal/apperrors"
	"github.com/panther-labs/panther/internal/bootstrap"
	"github.com/panther-labs/panther/internal/buffer"
	"github.com/panther-labs/panther/internal/catalog"
	"github.com/panther-labs/panther/internal/dispatcher"
	"github.com/panther-labs/panther/internal/engine"
	"github.com/panther-labs/panther/internal/merger"
	"github.com/panther-labs/panther/internal/notifier"
	"github.com/panther-labs/panther/internal/objectstore"
	"github.com/panther-labs/panther/internal/registry"
	"github.com/panther-labs/panther/internal/sink"
)

func main() {
	ctx := context.Background()

	// The logging level isn't known until the config loads, so start with
	// an INFO logger and replace it once LoadStreamingConfig returns.
	logger := bootstrap.InitStreamingLogger("INFO")

	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // entry point exits non-zero on fatal startup/shutdown errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadStreamingConfig()
	if err != nil {
		return err
	}
	logger = bootstrap.InitStreamingLogger(cfg.LoggingLevel)

	logger.InfoContext(ctx, "starting rules engine",
		"catalog_base_url", cfg.CatalogBaseURL,
		"s3_bucket", cfg.S3Bucket,
		"globals_rule_id", cfg.GlobalsRuleID)

	redisClient, err := bootstrap.ConnectStreamingRedis(ctx, cfg.RedisURI, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := redisClient.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close redis failed", "error", cerr)
		}
	}()

	awsClients, err := bootstrap.NewStreamingAWSClients(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}

	d := buildDispatcher(cfg, redisClient, awsClients, logger)

	server := startServer(d, logger)
	return waitForShutdown(ctx, server, logger)
}

func buildDispatcher(
	cfg streamingconfig.Config,
	redisClient redis.UniversalClient,
	awsClients bootstrap.StreamingAWSClients,
	logger *slog.Logger,
) *dispatcher.Dispatcher {
	catalogClient := catalog.NewHTTPClient(cfg.CatalogBaseURL, &http.Client{Timeout: cfg.CatalogTimeout})

	reg := registry.New(registry.Options{
		Catalog:         catalogClient,
		Logger:          logger,
		RefreshInterval: cfg.RulesCacheDuration,
		GlobalsRuleID:   cfg.GlobalsRuleID,
	})

	eng := engine.New(engine.Options{Registry: reg, Logger: logger})

	objStore := objectstore.NewS3Store(awsClients.S3)
	notifyBus := notifier.NewSNSBus(awsClients.SNS)
	alertMerger := merger.NewRedisStoreWithPeriod(redisClient, logger, cfg.MergePeriod())

	sinkImpl := sink.New(sink.Options{
		Merger:    alertMerger,
		Putter:    objStore,
		Publisher: notifyBus,
		Bucket:    cfg.S3Bucket,
		Topic:     cfg.NotificationsTopic,
	})

	buf := buffer.New(buffer.Options{
		Sink:             sinkImpl,
		Logger:           logger,
		MaxBytesInMemory: cfg.MaxBytesInMemory,
	})

	return dispatcher.New(dispatcher.Options{
		Engine: eng,
		Buffer: buf,
		Getter: objStore,
		Logger: logger,
	})
}

func startServer(d *dispatcher.Dispatcher, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke", invokeHandler(d, logger))
	mux.HandleFunc("GET /healthz", healthzHandler)

	server := &http.Server{
		Addr:         addrFromEnv(),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting rules engine HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rules engine HTTP server failed", "error", err)
		}
	}()

	return server
}

func addrFromEnv() string {
	if addr := os.Getenv("RULES_ENGINE_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

// invokeHandler is the Dispatcher's single entry point: the request
// context's deadline is the invocation's wall-clock budget (spec §4.H
// "Cancellation / timeouts").
func invokeHandler(d *dispatcher.Dispatcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
		if err != nil {
			http.Error(w, "read request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		results, err := d.Dispatch(r.Context(), body)
		if err != nil {
			writeDispatchError(w, r, logger, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if results == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if encodeErr := json.NewEncoder(w).Encode(results); encodeErr != nil {
			logger.ErrorContext(r.Context(), "encode response failed", "error", encodeErr)
		}
	}
}

func writeDispatchError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	if apperrors.IsValidation(err) {
		status = http.StatusBadRequest
	}
	logger.ErrorContext(r.Context(), "dispatch failed", "error", err, "status", status)
	http.Error(w, err.Error(), status)
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func waitForShutdown(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	<-quit
	logger.InfoContext(ctx, "shutting down rules engine")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
