package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName     string
	LogLevel        string
	LogFormat       string
	HTTPAddr        string
	ShutdownTimeout time.Duration
	Database        DatabaseConfig
	RabbitMQ        RabbitMQConfig
	Auth            AuthConfig
	Storage         StorageConfig
	OCR             OCRConfig
	Location        LocationConfig
	Proximity       ProximityConfig
	Billing         BillingConfig
	Render          RenderConfig
	Anomaly         AnomalyConfig
	Retention       RetentionConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL                  string
	EventsExchange       string
	ValidatedRoutingKey  string
	BillingQueue         string
	DLQQueue             string
	NotifyExchange       string
	BillIssuedRoutingKey string
	ReminderRoutingKey   string
	PrefetchCount        int
	HandlerTimeout       time.Duration
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// StorageConfig holds S3-compatible object storage settings
type StorageConfig struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	UsePathStyle  bool
	PublicBaseURL string
	ImageMaxBytes int64
}

// OCRConfig holds recognition settings
type OCRConfig struct {
	Enabled         bool
	Timeout         time.Duration
	CredentialsJSON string
	CredentialsFile string
}

// LocationConfig holds geolocation capture settings
type LocationConfig struct {
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

// ProximityConfig holds the meter proximity check settings
type ProximityConfig struct {
	MaxDistanceKm float64
	Policy        string
}

// BillingConfig holds billing engine settings
type BillingConfig struct {
	ConsumptionBasis string
}

// RenderConfig holds bill document rendering settings
type RenderConfig struct {
	ChromeRemoteURL string
	NoSandbox       bool
	Timeout         time.Duration
}

// AnomalyConfig holds anomaly detection settings
type AnomalyConfig struct {
	SpikeThreshold            float64
	MinDataPointsForDetection int
}

// RetentionConfig holds account retention settings
type RetentionConfig struct {
	AccountYears int
}

const (
	ProximityPolicyReject = "reject"
	ProximityPolicyFlag   = "flag"

	ConsumptionBasisReading = "reading"
	ConsumptionBasisDelta   = "delta"
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:     getEnv("SERVICE_NAME", "webill"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Database: DatabaseConfig{
			URL:               getEnv("DATABASE_URL", ""),
			MaxConns:          int32(getEnvAsInt("DATABASE_MAX_CONNS", 10)),
			MinConns:          int32(getEnvAsInt("DATABASE_MIN_CONNS", 0)),
			MaxConnLifetime:   getEnvAsDuration("DATABASE_MAX_CONN_LIFETIME", time.Hour),
			HealthCheckPeriod: getEnvAsDuration("DATABASE_HEALTH_CHECK_PERIOD", time.Minute),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                  getEnv("RABBITMQ_URL", ""),
			EventsExchange:       getEnv("RABBITMQ_EVENTS_EXCHANGE", "webill.readings.exchange"),
			ValidatedRoutingKey:  getEnv("RABBITMQ_VALIDATED_ROUTING_KEY", "reading.validated"),
			BillingQueue:         getEnv("RABBITMQ_BILLING_QUEUE", "webill.billing.queue"),
			DLQQueue:             getEnv("RABBITMQ_DLQ_QUEUE", "webill.billing.dlq"),
			NotifyExchange:       getEnv("RABBITMQ_NOTIFY_EXCHANGE", "webill.notifications.exchange"),
			BillIssuedRoutingKey: getEnv("RABBITMQ_BILL_ISSUED_ROUTING_KEY", "bill.issued"),
			ReminderRoutingKey:   getEnv("RABBITMQ_REMINDER_ROUTING_KEY", "reading.reminder"),
			PrefetchCount:        getEnvAsInt("RABBITMQ_PREFETCH", 10),
			HandlerTimeout:       getEnvAsDuration("RABBITMQ_HANDLER_TIMEOUT", 2*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		Storage: StorageConfig{
			Endpoint:      getEnv("STORAGE_ENDPOINT", ""),
			Region:        getEnv("STORAGE_REGION", "us-east-1"),
			Bucket:        getEnv("STORAGE_BUCKET", "webill"),
			AccessKey:     getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey:     getEnv("STORAGE_SECRET_KEY", ""),
			UseSSL:        getEnvAsBool("STORAGE_USE_SSL", false),
			UsePathStyle:  getEnvAsBool("STORAGE_USE_PATH_STYLE", true),
			PublicBaseURL: getEnv("STORAGE_PUBLIC_BASE_URL", ""),
			ImageMaxBytes: int64(getEnvAsInt("IMAGE_MAX_BYTES", 10*1024*1024)),
		},
		OCR: OCRConfig{
			Enabled:         getEnvAsBool("OCR_ENABLED", true),
			Timeout:         getEnvAsDuration("OCR_TIMEOUT", 15*time.Second),
			CredentialsJSON: getEnv("GOOGLE_CREDENTIALS", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		Location: LocationConfig{
			Timeout:  getEnvAsDuration("LOCATION_TIMEOUT", 10*time.Second),
			Attempts: getEnvAsInt("LOCATION_ATTEMPTS", 2),
			Backoff:  getEnvAsDuration("LOCATION_BACKOFF", 500*time.Millisecond),
		},
		Proximity: ProximityConfig{
			MaxDistanceKm: getEnvAsFloat("PROXIMITY_MAX_DISTANCE_KM", 0.1),
			Policy:        strings.ToLower(getEnv("PROXIMITY_POLICY", ProximityPolicyFlag)),
		},
		Billing: BillingConfig{
			ConsumptionBasis: strings.ToLower(getEnv("BILLING_CONSUMPTION_BASIS", ConsumptionBasisReading)),
		},
		Render: RenderConfig{
			ChromeRemoteURL: getEnv("CHROME_REMOTE_URL", ""),
			NoSandbox:       getEnvAsBool("CHROME_NO_SANDBOX", false),
			Timeout:         getEnvAsDuration("RENDER_TIMEOUT", 30*time.Second),
		},
		Anomaly: AnomalyConfig{
			SpikeThreshold:            getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", 3.0),
			MinDataPointsForDetection: getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 3),
		},
		Retention: RetentionConfig{
			AccountYears: getEnvAsInt("ACCOUNT_RETENTION_YEARS", 5),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	switch c.Proximity.Policy {
	case ProximityPolicyReject, ProximityPolicyFlag:
	default:
		return fmt.Errorf("PROXIMITY_POLICY must be %q or %q, got %q", ProximityPolicyReject, ProximityPolicyFlag, c.Proximity.Policy)
	}
	if c.Proximity.MaxDistanceKm <= 0 {
		return fmt.Errorf("PROXIMITY_MAX_DISTANCE_KM must be positive")
	}
	switch c.Billing.ConsumptionBasis {
	case ConsumptionBasisReading, ConsumptionBasisDelta:
	default:
		return fmt.Errorf("BILLING_CONSUMPTION_BASIS must be %q or %q, got %q", ConsumptionBasisReading, ConsumptionBasisDelta, c.Billing.ConsumptionBasis)
	}
	if c.Database.MaxConns <= 0 || c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("DATABASE_MIN_CONNS must be between 0 and DATABASE_MAX_CONNS (%d)", c.Database.MaxConns)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"json\" or \"console\", got %q", c.LogFormat)
	}
	if c.Storage.ImageMaxBytes <= 0 {
		return fmt.Errorf("IMAGE_MAX_BYTES must be positive")
	}
	return nil
}

// RequireRabbitMQ fails when the broker URL is missing
func (c *Config) RequireRabbitMQ() error {
	if c.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	return nil
}

// RequireAuth fails when the token secret is missing
func (c *Config) RequireAuth() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required but not set in environment variables")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
