package config

import (
	"fmt"
	"time"

	"github.com/veranemoloko/segment-uploader/internal/validation"
)

const (
	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
	StateBackendMemory = "memory"

	ObjectStoreLocal = "local"
	ObjectStoreS3    = "s3"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	HTTPPort    int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	MaxConcurrentUploads int           `envconfig:"MAX_CONCURRENT_UPLOADS" default:"2"`
	MaxRetryAttempts     int           `envconfig:"MAX_RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay       time.Duration `envconfig:"RETRY_BASE_DELAY" default:"2s"`

	StateBackend string `envconfig:"STATE_BACKEND" default:"file"`
	StateDir     string `envconfig:"STATE_DIR" default:"./state"`
	StateKey     string `envconfig:"STATE_KEY" default:"segment_upload_tasks"`

	ObjectStore   string `envconfig:"OBJECT_STORE" default:"local"`
	LocalStoreDir string `envconfig:"LOCAL_STORE_DIR" default:"./objects"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:""`

	S3 S3Config `envconfig:"S3"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// S3Config holds settings for the S3 object store adapter (SU_S3_* variables).
type S3Config struct {
	Bucket          string        `envconfig:"BUCKET" default:""`
	Region          string        `envconfig:"REGION" default:"us-east-1"`
	Endpoint        string        `envconfig:"ENDPOINT" default:""`
	AccessKeyID     string        `envconfig:"ACCESS_KEY_ID" default:""`
	SecretAccessKey string        `envconfig:"SECRET_ACCESS_KEY" default:""`
	UsePathStyle    bool          `envconfig:"USE_PATH_STYLE" default:"false"`
	Timeout         time.Duration `envconfig:"TIMEOUT" default:"30m"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.MaxConcurrentUploads <= 0 {
		return fmt.Errorf("max concurrent uploads must be positive: %d", c.MaxConcurrentUploads)
	}

	if c.MaxRetryAttempts < 0 {
		return fmt.Errorf("max retry attempts cannot be negative: %d", c.MaxRetryAttempts)
	}

	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive: %s", c.RetryBaseDelay)
	}

	switch c.StateBackend {
	case StateBackendFile, StateBackendSQLite:
		if c.StateDir == "" {
			return fmt.Errorf("state directory cannot be empty")
		}
	case StateBackendMemory:
	default:
		return fmt.Errorf("unknown state backend: %q", c.StateBackend)
	}

	if c.StateKey == "" {
		return fmt.Errorf("state key cannot be empty")
	}

	switch c.ObjectStore {
	case ObjectStoreLocal:
		if c.LocalStoreDir == "" {
			return fmt.Errorf("local store directory cannot be empty")
		}
	case ObjectStoreS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required for the s3 object store")
		}
		if c.S3.Timeout <= 0 {
			return fmt.Errorf("S3 timeout must be positive: %s", c.S3.Timeout)
		}
	default:
		return fmt.Errorf("unknown object store: %q", c.ObjectStore)
	}

	if err := validation.ValidatePublicBaseURL(c.PublicBaseURL); err != nil {
		return err
	}

	return nil
}
