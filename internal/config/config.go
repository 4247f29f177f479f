package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"email-auth-service/internal/otp"
)

// Config holds all application configuration loaded from the environment.
type Config struct {
	Environment string

	Server     ServerConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	SMTP       SMTPConfig
	JWT        JWTConfig
	OTP        OTPConfig
	Hashing    HashingConfig
	Delivery   DeliveryConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	AllowedOrigins []string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// OTPConfig carries the tunables of the OTP login lifecycle.
type OTPConfig struct {
	CodeLength           int
	TTL                  time.Duration
	MaxAttempts          int
	RateLimitWindow      time.Duration
	MaxRequestsPerWindow int
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

// DeliveryConfig selects the outbound code delivery backend at startup.
// Provider is "smtp" for real delivery or "log" for the local stand-in.
type DeliveryConfig struct {
	Provider string
}

type LoggingConfig struct {
	Level  string
	Format string
}

var (
	globalConfig *Config
	loadOnce     sync.Once
)

// LoadConfig loads configuration from .env (if present) and the environment.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()

		globalConfig = &Config{
			Environment: getEnv("APP_ENV", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				AutoCertDir:  getEnv("SERVER_AUTO_CERT_DIR", "/var/cache/autocert"),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),

				AllowedOrigins: getEnvList("SERVER_ALLOWED_ORIGINS", []string{"https://*", "http://localhost:*"}),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "email_auth"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Enabled: getEnvBool("KAFKA_ENABLED", false),
				Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
				Topic:   getEnv("KAFKA_AUTH_EVENTS_TOPIC", "auth-events"),
			},
			Clickhouse: ClickhouseConfig{
				Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "email_auth"),
			},
			SMTP: SMTPConfig{
				Host:     getEnv("SMTP_HOST", "localhost"),
				Port:     getEnvInt("SMTP_PORT", 587),
				Username: getEnv("SMTP_USERNAME", ""),
				Password: getEnv("SMTP_PASSWORD", ""),
				From:     getEnv("SMTP_FROM", "no-reply@localhost"),
			},
			JWT: JWTConfig{
				Secret:   getEnv("JWT_SECRET", "dev-only-secret-change-me"),
				Issuer:   getEnv("JWT_ISSUER", "email-auth-service"),
				Audience: getEnv("JWT_AUDIENCE", "email-auth-clients"),
				TTL:      getEnvDuration("JWT_TTL", 24*time.Hour),
			},
			OTP: OTPConfig{
				CodeLength:           getEnvInt("OTP_CODE_LENGTH", otp.DefaultCodeLength),
				TTL:                  getEnvDuration("OTP_TTL", 10*time.Minute),
				MaxAttempts:          getEnvInt("OTP_MAX_ATTEMPTS", 5),
				RateLimitWindow:      getEnvDuration("OTP_RATE_LIMIT_WINDOW", 15*time.Minute),
				MaxRequestsPerWindow: getEnvInt("OTP_MAX_REQUESTS_PER_WINDOW", 3),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
				Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			},
			Delivery: DeliveryConfig{
				Provider: getEnv("DELIVERY_PROVIDER", "log"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		}
	})

	return globalConfig
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

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate catches configuration combinations that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Delivery.Provider != "smtp" && c.Delivery.Provider != "log" {
		return fmt.Errorf("invalid delivery provider: %q (want smtp or log)", c.Delivery.Provider)
	}
	if c.Delivery.Provider == "smtp" && c.SMTP.Host == "" {
		return fmt.Errorf("SMTP_HOST is required when DELIVERY_PROVIDER=smtp")
	}
	if c.IsProduction() && c.JWT.Secret == "dev-only-secret-change-me" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.OTP.MaxAttempts <= 0 || c.OTP.MaxRequestsPerWindow <= 0 {
		return fmt.Errorf("OTP attempt and request limits must be positive")
	}
	if c.OTP.CodeLength < otp.MinCodeLength || c.OTP.CodeLength > otp.MaxCodeLength {
		return fmt.Errorf("OTP_CODE_LENGTH must be between %d and %d, got %d", otp.MinCodeLength, otp.MaxCodeLength, c.OTP.CodeLength)
	}
	// The argon2 API takes parallelism as a uint8, so anything outside
	// 1..255 would silently truncate instead of failing.
	if c.Hashing.Argon2Parallelism < 1 || c.Hashing.Argon2Parallelism > 255 {
		return fmt.Errorf("ARGON2_PARALLELISM must be between 1 and 255, got %d", c.Hashing.Argon2Parallelism)
	}
	if c.Hashing.Argon2MemoryCost <= 0 || c.Hashing.Argon2TimeCost <= 0 {
		return fmt.Errorf("argon2 memory and time costs must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
