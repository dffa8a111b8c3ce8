package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/flagx"
	"github.com/dmitrijs2005/propcheck/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration. Durations accept
// "3s" style strings or integer nanoseconds. Zero values leave the current
// setting untouched.
type FileConfig struct {
	UserID string `json:"user_id" yaml:"user_id"`

	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`
	LocalDBPath string `json:"local_db_path" yaml:"local_db_path"`

	S3Bucket            string  `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region            string  `json:"s3_region" yaml:"s3_region"`
	S3Endpoint          string  `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKey         string  `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey         string  `json:"s3_secret_key" yaml:"s3_secret_key"`
	PublicBaseURL       string  `json:"public_base_url" yaml:"public_base_url"`
	UploadRatePerSecond float64 `json:"upload_rate_per_second" yaml:"upload_rate_per_second"`

	OnlineCheckInterval timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
	ProbeTimeout        timex.Duration `json:"probe_timeout" yaml:"probe_timeout"`
	HealthEndpoint      string         `json:"health_endpoint" yaml:"health_endpoint"`

	RetryLimit     int            `json:"retry_limit" yaml:"retry_limit"`
	RetryBaseDelay timex.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	SubmitTimeout  timex.Duration `json:"submit_timeout" yaml:"submit_timeout"`
	StrictMapping  *bool          `json:"strict_mapping" yaml:"strict_mapping"`

	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
	NATSURL     string `json:"nats_url" yaml:"nats_url"`
	NATSSubject string `json:"nats_subject" yaml:"nats_subject"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// parseFile overlays cfg with the file named by -c/-config, if any. Files
// ending in .yaml or .yml are read as YAML, everything else as JSON.
func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func (fc *FileConfig) apply(cfg *Config) {
	setString(&cfg.UserID, fc.UserID)
	setString(&cfg.DatabaseDSN, fc.DatabaseDSN)
	setString(&cfg.LocalDBPath, fc.LocalDBPath)
	setString(&cfg.S3Bucket, fc.S3Bucket)
	setString(&cfg.S3Region, fc.S3Region)
	setString(&cfg.S3Endpoint, fc.S3Endpoint)
	setString(&cfg.S3AccessKey, fc.S3AccessKey)
	setString(&cfg.S3SecretKey, fc.S3SecretKey)
	setString(&cfg.PublicBaseURL, fc.PublicBaseURL)
	setString(&cfg.HealthEndpoint, fc.HealthEndpoint)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setString(&cfg.NATSURL, fc.NATSURL)
	setString(&cfg.NATSSubject, fc.NATSSubject)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)

	if fc.UploadRatePerSecond > 0 {
		cfg.UploadRatePerSecond = fc.UploadRatePerSecond
	}
	if fc.RetryLimit > 0 {
		cfg.RetryLimit = fc.RetryLimit
	}
	if fc.StrictMapping != nil {
		cfg.StrictMapping = *fc.StrictMapping
	}

	setDuration(&cfg.OnlineCheckInterval, fc.OnlineCheckInterval)
	setDuration(&cfg.ProbeTimeout, fc.ProbeTimeout)
	setDuration(&cfg.RetryBaseDelay, fc.RetryBaseDelay)
	setDuration(&cfg.SubmitTimeout, fc.SubmitTimeout)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
