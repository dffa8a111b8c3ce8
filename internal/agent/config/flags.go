package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/propcheck/internal/flagx"
)

var knownFlags = []string{
	"-u", "-d", "-l",
	"-s3-bucket", "-s3-region", "-s3-endpoint", "-s3-access-key", "-s3-secret-key", "-public-url",
	"-i", "-health",
	"-retries", "-retry-delay", "-submit-timeout", "-strict",
	"-metrics", "-nats", "-log-level", "-log-format",
}

// parseFlags overlays cfg with command-line flags. Unknown arguments are
// filtered out first so other components may define their own.
//
//	-u string            user id recorded as assignee
//	-d string            remote Postgres DSN
//	-l string            local SQLite file
//	-i duration          online check interval
//	-retries int         upload attempts before an item fails
//	-retry-delay dur     base of the linear upload backoff
//	-strict              fail submits on unknown locations/attributes
func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id recorded as assignee")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "remote database DSN")
	fs.StringVar(&cfg.LocalDBPath, "l", cfg.LocalDBPath, "local database file")

	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "attachment bucket")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "bucket region")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3-compatible endpoint")
	fs.StringVar(&cfg.S3AccessKey, "s3-access-key", cfg.S3AccessKey, "access key")
	fs.StringVar(&cfg.S3SecretKey, "s3-secret-key", cfg.S3SecretKey, "secret key")
	fs.StringVar(&cfg.PublicBaseURL, "public-url", cfg.PublicBaseURL, "public base URL of stored attachments")

	fs.DurationVar(&cfg.OnlineCheckInterval, "i", cfg.OnlineCheckInterval, "online check interval")
	fs.StringVar(&cfg.HealthEndpoint, "health", cfg.HealthEndpoint, "gRPC health endpoint used as connectivity probe")

	fs.IntVar(&cfg.RetryLimit, "retries", cfg.RetryLimit, "upload attempts before an item fails")
	fs.DurationVar(&cfg.RetryBaseDelay, "retry-delay", cfg.RetryBaseDelay, "base of the linear upload backoff")
	fs.DurationVar(&cfg.SubmitTimeout, "submit-timeout", cfg.SubmitTimeout, "max wait for uploads during submit")
	fs.BoolVar(&cfg.StrictMapping, "strict", cfg.StrictMapping, "fail submits on unknown locations or attributes")

	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "address of the /metrics listener")
	fs.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL for job events")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")

	if err := fs.Parse(flagx.FilterArgs(args, knownFlags)); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if cfg.RetryLimit <= 0 {
		return fmt.Errorf("retries must be positive, got %d", cfg.RetryLimit)
	}
	return nil
}
