package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	streamingconfig "github.com/panther-labs/panther/config/streaming"
)

// InitStreamingLogger builds the JSON structured logger for the streaming
// rules-engine binary, honoring LOGGING_LEVEL the same way the rest of the
// application logs: one slog.Logger, JSON-handler, stdout.
func InitStreamingLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadStreamingConfig loads the streaming rules engine's configuration
// from the environment, following the same .env-then-env.Parse sequence
// as the monolith's LoadConfig.
func LoadStreamingConfig() (streamingconfig.Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return streamingconfig.Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg streamingconfig.Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ConnectStreamingRedis opens a direct (non-cluster, non-sentinel) Redis
// client, the mode the alert merger always needs regardless of what
// topology the rest of the application is deployed against.
func ConnectStreamingRedis(ctx context.Context, uri string, logger *slog.Logger) (redis.UniversalClient, error) {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if logger != nil {
		logger.InfoContext(ctx, "redis connected", "addr", opt.Addr)
	}
	return client, nil
}

// StreamingAWSClients holds the outbound AWS service clients the sink
// depends on.
type StreamingAWSClients struct {
	S3  *s3.Client
	SNS *sns.Client
}

// NewStreamingAWSClients resolves AWS credentials and region via the SDK's
// default chain (overridden by region when set) and constructs the S3 and
// SNS clients the sink needs.
func NewStreamingAWSClients(ctx context.Context, region string) (StreamingAWSClients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return StreamingAWSClients{}, fmt.Errorf("load aws config: %w", err)
	}

	return StreamingAWSClients{
		S3:  s3.NewFromConfig(awsCfg),
		SNS: sns.NewFromConfig(awsCfg),
	}, nil
}
