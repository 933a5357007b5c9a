package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"restaurant-verify/internal/util"
)

// Config holds the full runtime configuration, loaded once at startup.
// Secret values (telephony auth token, CAPTCHA secret, admin key, event
// pepper) are kept in memory only and must never be logged.
type Config struct {
	Environment string

	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Telephony  TelephonyConfig
	Captcha    CaptchaConfig
	Listing    ListingConfig
	Admin      AdminConfig
	Logging    LoggingConfig
	Events     EventsConfig

	// DevEchoMode lets the issue response echo the generated code so
	// end-to-end tests can proceed without a real telephony account.
	// It only has an effect in the development environment AND in
	// binaries built with the devecho tag; everywhere else it is inert.
	DevEchoMode bool

	// PlatformName is the name spoken in call scripts and SMS bodies.
	PlatformName string
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type TelephonyConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// BaseURL overrides the provider API endpoint; used in tests.
	BaseURL string
}

type CaptchaConfig struct {
	Secret string
	// VerifyURL overrides the provider siteverify endpoint; used in tests.
	VerifyURL string
}

type ListingConfig struct {
	BaseURL  string
	APIKey   string
	CacheTTL time.Duration
}

type AdminConfig struct {
	APIKey string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type EventsConfig struct {
	// Pepper keys the HMAC applied to phone numbers before they reach
	// the Kafka/ClickHouse sinks.
	Pepper       string
	PhoneBuckets int
}

var (
	globalConfig *Config
	loadOnce     sync.Once
)

// LoadConfig reads configuration from the environment. In non-production
// environments a .env file is loaded first if present.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		globalConfig = loadFromEnv()
	})
	return globalConfig
}

func loadFromEnv() *Config {
	env := util.GetEnv("ENVIRONMENT", "development")
	if env != "production" {
		_ = godotenv.Load()
		// .env may set ENVIRONMENT itself
		env = util.GetEnv("ENVIRONMENT", env)
	}

	return &Config{
		Environment: env,
		Server: ServerConfig{
			Host:         util.GetEnv("SERVER_HOST", "0.0.0.0"),
			Port:         util.GetEnvInt("SERVER_PORT", 8080),
			TLSPort:      util.GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    util.GetEnvBool("ENABLE_TLS", false),
			AutoCert:     util.GetEnvBool("AUTO_CERT", false),
			Domain:       util.GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     util.GetEnv("TLS_CERT_FILE", ""),
			KeyFile:      util.GetEnv("TLS_KEY_FILE", ""),
			AutoCertDir:  util.GetEnv("AUTO_CERT_DIR", "./certs"),
			Email:        util.GetEnv("TLS_EMAIL", ""),
			ReadTimeout:  util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:     util.GetEnv("DATABASE_HOST", "localhost"),
			Port:     util.GetEnvInt("DATABASE_PORT", 5432),
			User:     util.GetEnv("DATABASE_USER", "postgres"),
			Password: util.GetEnv("DATABASE_PASSWORD", "postgres"),
			DBName:   util.GetEnv("DATABASE_DBNAME", "restaurant_verify"),
			SSLMode:  util.GetEnv("DATABASE_SSLMODE", "disable"),
			MaxConns: util.GetEnvInt("DATABASE_MAX_CONNS", 32),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", ""),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: util.GetEnvList("KAFKA_BROKERS", nil),
			Topic:   util.GetEnv("KAFKA_TOPIC", "verification-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", ""),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "verification"),
		},
		Telephony: TelephonyConfig{
			AccountSID: util.GetEnv("TELEPHONY_ACCOUNT_SID", ""),
			AuthToken:  util.GetEnv("TELEPHONY_AUTH_TOKEN", ""),
			FromNumber: util.GetEnv("TELEPHONY_FROM_NUMBER", ""),
			BaseURL:    util.GetEnv("TELEPHONY_BASE_URL", "https://api.twilio.com"),
		},
		Captcha: CaptchaConfig{
			Secret:    util.GetEnv("CAPTCHA_SECRET", ""),
			VerifyURL: util.GetEnv("CAPTCHA_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
		},
		Listing: ListingConfig{
			BaseURL:  util.GetEnv("LISTING_BASE_URL", ""),
			APIKey:   util.GetEnv("LISTING_API_KEY", ""),
			CacheTTL: util.GetEnvDuration("LISTING_CACHE_TTL", 15*time.Minute),
		},
		Admin: AdminConfig{
			APIKey: util.GetEnv("ADMIN_API_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Events: EventsConfig{
			Pepper:       util.GetEnv("EVENT_PEPPER", ""),
			PhoneBuckets: util.GetEnvInt("EVENT_PHONE_BUCKETS", 64),
		},
		DevEchoMode:  util.GetEnvBool("DEV_ECHO_MODE", false),
		PlatformName: util.GetEnv("PLATFORM_NAME", "DineVerify"),
	}
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GetServerAddress returns the plain HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DSN returns the Postgres connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// Configured reports whether all telephony credentials are present.
// In production every issuance fails when this is false.
func (t *TelephonyConfig) Configured() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.FromNumber != ""
}

// Enabled reports whether CAPTCHA enforcement is on. With no secret
// configured the check is skipped entirely.
func (c *CaptchaConfig) Enabled() bool {
	return c.Secret != ""
}
