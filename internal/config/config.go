// Package config loads the update server configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const defaultMaxUpload = "5GB"

// Load reads and validates the full configuration.
func Load() (Config, error) {
	cfg := Config{}

	cfg.HTTP.Addr = getEnv("UPDATE_HTTP_ADDR", ":8080")
	cfg.HTTP.BaseURL = strings.TrimRight(getEnv("UPDATE_BASE_URL", "http://localhost:8080"), "/")
	cfg.HTTP.AdminToken = os.Getenv("UPDATE_ADMIN_TOKEN")

	cfg.Database.DSN = getEnv("UPDATE_DB_DSN", "data/updates.db")

	backend := BlobBackend(getEnv("UPDATE_BLOB_BACKEND", string(BackendLocal)))
	switch backend {
	case BackendLocal, BackendS3:
		cfg.Blob.Backend = backend
	default:
		return Config{}, fmt.Errorf("invalid UPDATE_BLOB_BACKEND: %q", backend)
	}
	cfg.Blob.Dir = getEnv("UPDATE_BLOB_DIR", "downloads")

	cfg.Blob.S3Endpoint = os.Getenv("UPDATE_S3_ENDPOINT")
	cfg.Blob.S3Bucket = os.Getenv("UPDATE_S3_BUCKET")
	cfg.Blob.S3Prefix = getEnv("UPDATE_S3_PREFIX", "releases")
	cfg.Blob.S3AccessKey = os.Getenv("UPDATE_S3_ACCESS_KEY")
	cfg.Blob.S3SecretKey = os.Getenv("UPDATE_S3_SECRET_KEY")
	cfg.Blob.S3Region = os.Getenv("UPDATE_S3_REGION")
	cfg.Blob.S3DisableTLS = getEnvBool("UPDATE_S3_DISABLE_TLS", false)
	cfg.Blob.S3ForcePathStyle = getEnvBool("UPDATE_S3_FORCE_PATH_STYLE", true)

	if cfg.Blob.Backend == BackendS3 {
		if cfg.Blob.S3Endpoint == "" || cfg.Blob.S3Bucket == "" {
			return Config{}, fmt.Errorf("UPDATE_S3_ENDPOINT and UPDATE_S3_BUCKET are required for the s3 backend")
		}
		if cfg.Blob.S3AccessKey == "" || cfg.Blob.S3SecretKey == "" {
			return Config{}, fmt.Errorf("UPDATE_S3_ACCESS_KEY and UPDATE_S3_SECRET_KEY are required for the s3 backend")
		}
	}

	maxUpload, err := parseByteSize(getEnv("UPDATE_MAX_UPLOAD", defaultMaxUpload))
	if err != nil {
		return Config{}, fmt.Errorf("invalid UPDATE_MAX_UPLOAD: %w", err)
	}
	cfg.Upload.MaxBytes = maxUpload
	cfg.Upload.StagingDir = os.Getenv("UPDATE_STAGING_DIR")

	cfg.NATS.URL = os.Getenv("UPDATE_NATS_URL")
	cfg.Telemetry.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

// parseByteSize understands plain byte counts and the suffixes KB, MB, GB
// (powers of 1024).
func parseByteSize(s string) (int64, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(v, "GB"):
		multiplier = 1 << 30
		v = strings.TrimSuffix(v, "GB")
	case strings.HasSuffix(v, "MB"):
		multiplier = 1 << 20
		v = strings.TrimSuffix(v, "MB")
	case strings.HasSuffix(v, "KB"):
		multiplier = 1 << 10
		v = strings.TrimSuffix(v, "KB")
	case strings.HasSuffix(v, "B"):
		v = strings.TrimSuffix(v, "B")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive, got %q", s)
	}
	if n > (1<<63-1)/multiplier {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return n * multiplier, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}
