// Package streaming holds the configuration for the standalone streaming
// rules-engine binary (cmd/rules-engine), loaded the same way the rest of
// the application loads configuration: environment variables parsed by
// github.com/caarlos0/env, with a Sanitize step applied after parsing.
//
// This binary is deployed on its own, so all of its settings live in the
// single Config struct below.
package streaming

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/panther-labs/panther/internal/apperrors"
)

// Config is the streaming rules engine's environment-derived configuration.
type Config struct {
	// CatalogBaseURL is the base URL of the rule/data-model catalog API.
	CatalogBaseURL string `env:"CATALOG_BASE_URL" envDefault:"http://localhost:8080"`

	// CatalogTimeout bounds each catalog HTTP request.
	CatalogTimeout time.Duration `env:"CATALOG_TIMEOUT" envDefault:"10s"`

	// GlobalsRuleID is the id of the rule whose body is prepended as a
	// preamble before every other rule/data-model compilation.
	GlobalsRuleID string `env:"GLOBALS_RULE_ID" envDefault:"aws_globals"`

	// RulesCacheDuration is the registry's refresh interval.
	RulesCacheDuration time.Duration `env:"RULES_CACHE_DURATION" envDefault:"5m"`

	// RedisURI addresses the Redis instance backing the alert merger.
	RedisURI string `env:"REDIS_URI" envDefault:"redis://127.0.0.1:6379"`

	// AlertsDedupTable is required by Validate. The alert merger does not
	// read it: its Redis keys are the bare partition keys, not prefixed or
	// scoped by this value.
	AlertsDedupTable string `env:"ALERTS_DEDUP_TABLE"`

	// AlertMergePeriodSeconds bounds how long a dedup group may keep
	// merging into the same alert id.
	AlertMergePeriodSeconds int `env:"ALERT_MERGE_PERIOD_SECONDS" envDefault:"3600"`

	// S3Bucket is the object store bucket matched events are spilled to;
	// required.
	S3Bucket string `env:"S3_BUCKET"`

	// NotificationsTopic is the SNS topic ARN a notification is published
	// to after each spill; required.
	NotificationsTopic string `env:"NOTIFICATIONS_TOPIC"`

	// MaxBytesInMemory bounds the MatchedEventsBuffer before a forced spill.
	MaxBytesInMemory int `env:"MAX_BYTES_IN_MEMORY" envDefault:"100000000"`

	// LoggingLevel is one of DEBUG, INFO, WARN (or WARNING), ERROR; falls
	// back to INFO with a warning if unrecognized.
	LoggingLevel string `env:"LOGGING_LEVEL" envDefault:"INFO"`

	// AWSRegion is passed through to the AWS SDK client constructors when
	// set; when empty the SDK's default credential chain resolves it.
	AWSRegion string `env:"AWS_REGION"`
}

// Sanitize applies defaults and bounds to values loaded from the
// environment. It must be called once after env.Parse.
func (c *Config) Sanitize() {
	if c.CatalogTimeout <= 0 {
		c.CatalogTimeout = 10 * time.Second
	}
	if c.RulesCacheDuration <= 0 {
		c.RulesCacheDuration = 5 * time.Minute
	}
	if c.GlobalsRuleID == "" {
		c.GlobalsRuleID = "aws_globals"
	}
	if c.AlertMergePeriodSeconds <= 0 {
		c.AlertMergePeriodSeconds = 3600
	}
	if c.MaxBytesInMemory <= 0 {
		c.MaxBytesInMemory = 100_000_000
	}
	c.LoggingLevel = strings.ToUpper(strings.TrimSpace(c.LoggingLevel))
	if !validLoggingLevel(c.LoggingLevel) {
		slog.Warn("unrecognized LOGGING_LEVEL, falling back to INFO", "value", c.LoggingLevel)
		c.LoggingLevel = "INFO"
	}
}

func validLoggingLevel(level string) bool {
	switch level {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
		return true
	default:
		return false
	}
}

// Validate checks that the environment variables with no safe default are
// present, returning an apperrors.ErrCodeEnvMissing error naming the first
// one missing.
func (c *Config) Validate() error {
	for _, req := range []struct {
		name  string
		value string
	}{
		{"ALERTS_DEDUP_TABLE", c.AlertsDedupTable},
		{"S3_BUCKET", c.S3Bucket},
		{"NOTIFICATIONS_TOPIC", c.NotificationsTopic},
	} {
		if strings.TrimSpace(req.value) == "" {
			return apperrors.EnvMissing(req.name)
		}
	}
	return nil
}

// MergePeriod returns AlertMergePeriodSeconds as a time.Duration.
func (c *Config) MergePeriod() time.Duration {
	return time.Duration(c.AlertMergePeriodSeconds) * time.Second
}

// String redacts nothing sensitive today but exists so Config can be
// logged directly without dumping internals by accident later.
func (c Config) String() string {
	return fmt.Sprintf("streaming.Config{CatalogBaseURL:%s S3Bucket:%s NotificationsTopic:%s}",
		c.CatalogBaseURL, c.S3Bucket, c.NotificationsTopic)
}
