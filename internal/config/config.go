package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	ExecutorInterval  time.Duration `mapstructure:"EXECUTOR_INTERVAL"`
	ExecutorBatchSize int           `mapstructure:"EXECUTOR_BATCH_SIZE"`
	DeliveryTimeout   time.Duration `mapstructure:"DELIVERY_TIMEOUT"`
	TwilioAccountSID  string        `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string        `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber  string        `mapstructure:"TWILIO_FROM_NUMBER"`
	TwilioAPIURL      string        `mapstructure:"TWILIO_API_URL"`
	TwilioVoice       string        `mapstructure:"TWILIO_VOICE"`
	TextProvider      string        `mapstructure:"TEXT_PROVIDER"`
	GeminiAPIKey      string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel       string        `mapstructure:"GEMINI_MODEL"`
	GeminiAPIURL      string        `mapstructure:"GEMINI_API_URL"`
	KafkaBrokers      []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic        string        `mapstructure:"KAFKA_TOPIC"`
	SentryDSN         string        `mapstructure:"SENTRY_DSN"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"EXECUTOR_INTERVAL", "EXECUTOR_BATCH_SIZE", "DELIVERY_TIMEOUT",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_API_URL", "TWILIO_VOICE",
	"TEXT_PROVIDER", "GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_API_URL",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"SENTRY_DSN",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("EXECUTOR_INTERVAL", "30s")
	v.SetDefault("EXECUTOR_BATCH_SIZE", 10)
	v.SetDefault("DELIVERY_TIMEOUT", "15s")
	v.SetDefault("TWILIO_API_URL", "https://api.twilio.com")
	v.SetDefault("TWILIO_VOICE", "alice")
	v.SetDefault("TEXT_PROVIDER", "template")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
	v.SetDefault("GEMINI_API_URL", "https://generativelanguage.googleapis.com")
	v.SetDefault("KAFKA_TOPIC", "careline.call-events")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); API authentication is disabled.")
	}

	return cfg, nil
}

// splitList normalises comma separated env values. Viper leaves a single
// element slice when the env var holds "a,b".
func splitList(parsed []string, raw string) []string {
	if len(parsed) > 1 {
		return parsed
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TwilioConfigured reports whether outbound calls can be placed.
func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// Validate checks that the configuration is safe to run. Outside development
// the API requires an HS256 signing key, and the executor settings must be
// positive so a tick can never spin or select nothing.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.ExecutorInterval <= 0 {
		return fmt.Errorf("EXECUTOR_INTERVAL must be positive, got %s", c.ExecutorInterval)
	}
	if c.ExecutorBatchSize <= 0 {
		return fmt.Errorf("EXECUTOR_BATCH_SIZE must be positive, got %d", c.ExecutorBatchSize)
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("DELIVERY_TIMEOUT must be positive, got %s", c.DeliveryTimeout)
	}
	switch c.TextProvider {
	case "template":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when TEXT_PROVIDER is \"gemini\"")
		}
	default:
		return fmt.Errorf("TEXT_PROVIDER must be \"template\" or \"gemini\", got %q", c.TextProvider)
	}
	if c.IsProduction() && !c.TwilioConfigured() {
		return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required in production")
	}
	return nil
}
