package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Tracking sync modes control what happens when a courier API call fails
const (
	SyncModeBestEffort = "best_effort"
	SyncModeStrict     = "strict"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL        string
	Port               string
	GoEnv              string
	Auth0Domain        string
	Auth0Audience      string
	AWSRegion          string
	AWSS3Bucket        string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	LogLevel           string
	CORSAllowedOrigins []string

	// Courier integration
	Couriers         *CourierRegistry
	CourierTimeout   time.Duration
	TrackingSyncMode string

	// Background tracking refresh; PauseIdle stops it while no socket
	// clients are connected
	TrackingRefreshEnabled   bool
	TrackingRefreshMin       time.Duration
	TrackingRefreshMax       time.Duration
	TrackingRefreshPauseIdle bool

	// Realtime backplane; empty brokers means single-instance mode
	KafkaBrokers       []string
	KafkaRealtimeTopic string
}

var appConfig *Config

// Load loads the configuration from environment variables
// It automatically determines which .env file to load based on GO_ENV
func Load() (*Config, error) {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}

	envFile := fmt.Sprintf(".env.%s", env)
	if err := godotenv.Load(envFile); err != nil {
		if err := godotenv.Load(); err != nil {
			// In production environment variables are set directly
			log.Printf("No .env file found, using system environment variables")
		}
	} else {
		log.Printf("Loaded configuration from %s", envFile)
	}

	config := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		Port:               getEnv("PORT", "8080"),
		GoEnv:              getEnv("GO_ENV", "development"),
		Auth0Domain:        getEnv("AUTH0_DOMAIN", ""),
		Auth0Audience:      getEnv("AUTH0_AUDIENCE", ""),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSS3Bucket:        getEnv("AWS_S3_BUCKET", ""),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),

		Couriers:         LoadCourierRegistry(getEnv),
		CourierTimeout:   getDuration("COURIER_TIMEOUT", 60*time.Second),
		TrackingSyncMode: getEnv("TRACKING_SYNC_MODE", SyncModeBestEffort),

		TrackingRefreshEnabled:   getBool("TRACKING_REFRESH_ENABLED", true),
		TrackingRefreshMin:       getDuration("TRACKING_REFRESH_MIN_INTERVAL", 5*time.Minute),
		TrackingRefreshMax:       getDuration("TRACKING_REFRESH_MAX_INTERVAL", time.Hour),
		TrackingRefreshPauseIdle: getBool("TRACKING_REFRESH_PAUSE_IDLE", false),

		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaRealtimeTopic: getEnv("KAFKA_REALTIME_TOPIC", "realtime_events"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	appConfig = config
	return config, nil
}

// GetConfig returns the configuration loaded by Load
func GetConfig() *Config {
	return appConfig
}

// SetConfig sets the configuration instance (primarily for testing)
func SetConfig(cfg *Config) {
	appConfig = cfg
}

// Validate checks that all required configuration values are set
func (c *Config) Validate() error {
	if c.DatabaseURL == "" && !c.IsTest() {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.TrackingSyncMode != SyncModeBestEffort && c.TrackingSyncMode != SyncModeStrict {
		return fmt.Errorf("TRACKING_SYNC_MODE must be %q or %q, got %q", SyncModeBestEffort, SyncModeStrict, c.TrackingSyncMode)
	}
	if c.CourierTimeout <= 0 {
		return fmt.Errorf("COURIER_TIMEOUT must be positive")
	}
	if c.TrackingRefreshMin > c.TrackingRefreshMax {
		return fmt.Errorf("TRACKING_REFRESH_MIN_INTERVAL must not exceed TRACKING_REFRESH_MAX_INTERVAL")
	}
	if c.IsProduction() {
		// the webhook route has no JWT; the secret is its only authentication
		for _, name := range c.Couriers.Names() {
			if courier, _ := c.Couriers.Lookup(name); courier.WebhookSecret == "" {
				return fmt.Errorf("COURIER_%s_WEBHOOK_SECRET is required in production", strings.ToUpper(name))
			}
		}
	}
	return nil
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// IsTest returns true if the application is running in test mode
func (c *Config) IsTest() bool {
	return c.GoEnv == "test"
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// StrictTrackingSync reports whether courier failures must be surfaced to callers
func (c *Config) StrictTrackingSync() bool {
	return c.TrackingSyncMode == SyncModeStrict
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid duration %q for %s, using default %s", value, key, defaultValue)
		return defaultValue
	}
	return d
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
