/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultSessionTTLHours   = 720 // 30 days
	defaultGatewayTimeoutSec = 30
	defaultRateLimitPrefix   = "agentpay:rate_limit"
)

// Config holds all the configuration variables for the agentpay-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	AutoMigrate bool   `mapstructure:"AUTO_MIGRATE"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	RabbitMQURL                    string `mapstructure:"RABBITMQ_URL"`
	SessionEventQueue              string `mapstructure:"SESSION_EVENT_QUEUE"`
	SessionEventPrefetch           int    `mapstructure:"SESSION_EVENT_PREFETCH"`
	SessionEventDeadLetterExchange string `mapstructure:"SESSION_EVENT_DEAD_LETTER_EXCHANGE"`

	SessionSigningKey string `mapstructure:"SESSION_SIGNING_KEY"`
	SessionTTLHours   int    `mapstructure:"SESSION_TTL_HOURS"`

	GatewayBaseURL        string `mapstructure:"GATEWAY_BASE_URL"`
	GatewayMerchantUID    string `mapstructure:"GATEWAY_MERCHANT_UID"`
	GatewayAPIUserID      string `mapstructure:"GATEWAY_API_USER_ID"`
	GatewayAPIKey         string `mapstructure:"GATEWAY_API_KEY"`
	GatewayChannelName    string `mapstructure:"GATEWAY_CHANNEL_NAME"`
	GatewayServiceName    string `mapstructure:"GATEWAY_SERVICE_NAME"`
	GatewayTimeoutSeconds int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	DefaultCurrency       string `mapstructure:"DEFAULT_CURRENCY"`

	CORSAllowedOrigins        string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LoginRateLimitPerMinute   int    `mapstructure:"LOGIN_RATE_LIMIT_PER_MINUTE"`
	PaymentRateLimitPerMinute int    `mapstructure:"PAYMENT_RATE_LIMIT_PER_MINUTE"`
	IdempotencyKeyTTLHours    int    `mapstructure:"IDEMPOTENCY_KEY_TTL_HOURS"`
	MaintenanceSchedule       string `mapstructure:"MAINTENANCE_SCHEDULE"`

	AdminEmail    string `mapstructure:"ADMIN_EMAIL"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
	AdminFullName string `mapstructure:"ADMIN_FULL_NAME"`
}

// SessionTTL is the validity window of issued session tokens.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// GatewayTimeout bounds a single gateway call.
func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// IdempotencyKeyTTL is how long payment idempotency keys are retained.
func (c Config) IdempotencyKeyTTL() time.Duration {
	return time.Duration(c.IdempotencyKeyTTLHours) * time.Hour
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("AUTO_MIGRATE", false)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("SESSION_EVENT_QUEUE", "agentpay_service.session_revocations")
	viper.SetDefault("SESSION_EVENT_PREFETCH", 10)
	viper.SetDefault("SESSION_EVENT_DEAD_LETTER_EXCHANGE", "agentpay.dead_letter")
	viper.SetDefault("SESSION_TTL_HOURS", defaultSessionTTLHours)
	viper.SetDefault("GATEWAY_CHANNEL_NAME", "WEB")
	viper.SetDefault("GATEWAY_SERVICE_NAME", "API_PURCHASE")
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", defaultGatewayTimeoutSec)
	viper.SetDefault("DEFAULT_CURRENCY", "USD")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "https://*,http://*")
	viper.SetDefault("LOGIN_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("PAYMENT_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("IDEMPOTENCY_KEY_TTL_HOURS", 72)
	viper.SetDefault("MAINTENANCE_SCHEDULE", "@every 15m")
	viper.SetDefault("ADMIN_FULL_NAME", "Administrator")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("AUTO_MIGRATE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "AGENTPAY_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SESSION_EVENT_QUEUE")
	_ = viper.BindEnv("SESSION_EVENT_PREFETCH")
	_ = viper.BindEnv("SESSION_EVENT_DEAD_LETTER_EXCHANGE")
	_ = viper.BindEnv("SESSION_SIGNING_KEY", "SESSION_SIGNING_KEY", "JWT_SECRET")
	_ = viper.BindEnv("SESSION_TTL_HOURS")
	_ = viper.BindEnv("GATEWAY_BASE_URL")
	_ = viper.BindEnv("GATEWAY_MERCHANT_UID")
	_ = viper.BindEnv("GATEWAY_API_USER_ID")
	_ = viper.BindEnv("GATEWAY_API_KEY")
	_ = viper.BindEnv("GATEWAY_CHANNEL_NAME")
	_ = viper.BindEnv("GATEWAY_SERVICE_NAME")
	_ = viper.BindEnv("GATEWAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LOGIN_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PAYMENT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("IDEMPOTENCY_KEY_TTL_HOURS")
	_ = viper.BindEnv("MAINTENANCE_SCHEDULE")
	_ = viper.BindEnv("ADMIN_EMAIL")
	_ = viper.BindEnv("ADMIN_PASSWORD")
	_ = viper.BindEnv("ADMIN_FULL_NAME")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.SessionSigningKey = strings.TrimSpace(config.SessionSigningKey)
	config.SessionEventDeadLetterExchange = strings.TrimSpace(config.SessionEventDeadLetterExchange)
	if config.SessionEventPrefetch < 0 {
		log.Printf("level=warn component=config msg=\"invalid session event prefetch; using broker default\" session_event_prefetch=%d", config.SessionEventPrefetch)
		config.SessionEventPrefetch = 0
	}
	config.GatewayBaseURL = strings.TrimSpace(config.GatewayBaseURL)

	if config.SessionTTLHours <= 0 {
		log.Printf("level=warn component=config msg=\"invalid session ttl; using default\" session_ttl_hours=%d", config.SessionTTLHours)
		config.SessionTTLHours = defaultSessionTTLHours
	}
	if config.GatewayTimeoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"invalid gateway timeout; using default\" gateway_timeout_seconds=%d", config.GatewayTimeoutSeconds)
		config.GatewayTimeoutSeconds = defaultGatewayTimeoutSec
	}
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if len(config.DefaultCurrency) != 3 {
		log.Printf("level=warn component=config msg=\"invalid default currency; using USD\" default_currency=%q", config.DefaultCurrency)
		config.DefaultCurrency = "USD"
	}
	if config.LoginRateLimitPerMinute < 0 {
		config.LoginRateLimitPerMinute = 0
	}
	if config.PaymentRateLimitPerMinute < 0 {
		config.PaymentRateLimitPerMinute = 0
	}
	if config.IdempotencyKeyTTLHours <= 0 {
		config.IdempotencyKeyTTLHours = 72
	}
	if strings.TrimSpace(config.MaintenanceSchedule) == "" {
		config.MaintenanceSchedule = "@every 15m"
	}

	return
}
