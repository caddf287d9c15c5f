package config

type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Blob      BlobConfig
	Upload    UploadConfig
	NATS      NATSConfig
	Telemetry TelemetryConfig
}

type HTTPConfig struct {
	Addr       string
	BaseURL    string
	AdminToken string
}

type DatabaseConfig struct {
	// DSN selects the backend: postgres:// URLs use PostgreSQL, anything
	// else is treated as a SQLite database path.
	DSN string
}

// BlobBackend names a supported artifact storage backend.
type BlobBackend string

const (
	BackendLocal BlobBackend = "local"
	BackendS3    BlobBackend = "s3"
)

type BlobConfig struct {
	Backend BlobBackend
	// Dir is the artifact directory for the local backend.
	Dir string

	S3Endpoint       string
	S3Bucket         string
	S3Prefix         string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string
	S3DisableTLS     bool
	S3ForcePathStyle bool
}

type UploadConfig struct {
	MaxBytes   int64
	StagingDir string
}

type NATSConfig struct {
	// URL is empty when no event bus is deployed.
	URL string
}

type TelemetryConfig struct {
	// OTLPEndpoint enables tracing when set.
	OTLPEndpoint string
}
