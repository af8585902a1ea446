package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"horoscope_dispatcher/internal/domain/contact"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	ClockUTC   = "utc"
	ClockLocal = "local"
)

// EmailConfig selects and authenticates the email transport. An empty
// Provider disables the channel.
type EmailConfig struct {
	Provider       string // smtp | resend | mailgun | sendgrid
	From           string
	FromName       string
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	ResendAPIKey   string
	MailgunAPIKey  string
	MailgunDomain  string
	MailgunRegion  string // us | eu
	SendGridAPIKey string
}

func (c EmailConfig) Enabled() bool { return c.Provider != "" }

// Missing lists the credentials the declared provider still needs.
func (c EmailConfig) Missing() []string {
	var missing []string
	require := func(key, v string) {
		if v == "" {
			missing = append(missing, key)
		}
	}
	switch c.Provider {
	case "smtp":
		require("SMTP_HOST", c.SMTPHost)
		require("EMAIL_FROM", c.From)
	case "resend":
		require("RESEND_API_KEY", c.ResendAPIKey)
		require("EMAIL_FROM", c.From)
	case "mailgun":
		require("MAILGUN_API_KEY", c.MailgunAPIKey)
		require("MAILGUN_DOMAIN", c.MailgunDomain)
		require("EMAIL_FROM", c.From)
	case "sendgrid":
		require("SENDGRID_API_KEY", c.SendGridAPIKey)
		require("EMAIL_FROM", c.From)
	}
	return missing
}

// SMSConfig selects and authenticates the SMS transport. An empty Provider
// disables the channel.
type SMSConfig struct {
	Provider         string // twilio | voipms
	MaxLength        int
	SegmentPrefix    bool
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	VoipmsUsername   string
	VoipmsPassword   string
	VoipmsDID        string
}

func (c SMSConfig) Enabled() bool { return c.Provider != "" }

func (c SMSConfig) Missing() []string {
	var missing []string
	require := func(key, v string) {
		if v == "" {
			missing = append(missing, key)
		}
	}
	switch c.Provider {
	case "twilio":
		require("TWILIO_ACCOUNT_SID", c.TwilioAccountSID)
		require("TWILIO_AUTH_TOKEN", c.TwilioAuthToken)
		require("TWILIO_FROM", c.TwilioFrom)
	case "voipms":
		require("VOIPMS_API_USERNAME", c.VoipmsUsername)
		require("VOIPMS_API_PASSWORD", c.VoipmsPassword)
		require("VOIPMS_DID", c.VoipmsDID)
	}
	return missing
}

type ContentConfig struct {
	Strategy               string // template | generative
	AIProvider             string // openai | anthropic
	AIAPIKey               string
	AIModel                string
	AIBaseURL              string
	CasualCloseProbability float64
	PatternHistory         int
	RandomSeed             int64
}

// AppConfig holds all configuration for the application
type AppConfig struct {
	Environment string
	LogLevel    string

	Store       string
	DatabaseURL string

	HTTPAddr    string
	BaseURL     string
	CronSecret  string
	CORSOrigins []string

	CronSpecTick     string
	TickTimeout      time.Duration
	MorningHour      int
	EveningEnabled   bool
	EveningHour      int
	IdempotencyClock string
	DefaultTimezone  string
	SendBatchSize    int

	RetryAttempts       int
	RetryInitialBackoff time.Duration

	Email   EmailConfig
	SMS     SMSConfig
	Content ContentConfig

	RedisURL        string
	RateLimitMax    int // 0 disables rate limiting
	RateLimitWindow time.Duration

	TokenTTL              time.Duration
	AllowEmailUnsubscribe bool

	TelegramToken   string
	AdminTelegramID int64
}

// TelegramEnabled reports whether the operator chat is configured.
func (c *AppConfig) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.AdminTelegramID != 0
}

type envReader struct {
	errs []error
}

func (r *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *envReader) lower(key, def string) string {
	return strings.ToLower(r.str(key, def))
}

func (r *envReader) int(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return v
}

func (r *envReader) int64(key string) int64 {
	raw := r.str(key, "")
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return v
}

func (r *envReader) float(key string, def float64) float64 {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return v
}

func (r *envReader) bool(key string, def bool) bool {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return v
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return v
}

func (r *envReader) fail(format string, args ...any) {
	r.errs = append(r.errs, fmt.Errorf(format, args...))
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds and validates the configuration from the process environment.
func FromEnv() (*AppConfig, error) {
	r := &envReader{}
	cfg := &AppConfig{
		Environment: r.lower("ENVIRONMENT", "development"),
		LogLevel:    r.lower("LOG_LEVEL", "info"),

		DatabaseURL: r.str("DATABASE_URL", ""),

		HTTPAddr:   r.str("HTTP_ADDR", ":8080"),
		BaseURL:    strings.TrimRight(r.str("BASE_URL", "http://localhost:8080"), "/"),
		CronSecret: r.str("CRON_SECRET", ""),

		CronSpecTick:     r.str("CRON_SPEC_TICK", "0 * * * *"),
		TickTimeout:      r.duration("TICK_TIMEOUT", 50*time.Minute),
		MorningHour:      r.int("MORNING_HOUR", 9),
		EveningEnabled:   r.bool("EVENING_ENABLED", false),
		EveningHour:      r.int("EVENING_HOUR", 19),
		IdempotencyClock: r.lower("IDEMPOTENCY_CLOCK", ClockUTC),
		DefaultTimezone:  r.str("DEFAULT_TIMEZONE", "America/New_York"),
		SendBatchSize:    r.int("SEND_BATCH_SIZE", 200),

		RetryAttempts:       r.int("RETRY_ATTEMPTS", 3),
		RetryInitialBackoff: r.duration("RETRY_INITIAL_BACKOFF", time.Second),

		Email: EmailConfig{
			Provider:       r.lower("EMAIL_PROVIDER", ""),
			From:           r.str("EMAIL_FROM", ""),
			FromName:       r.str("EMAIL_FROM_NAME", "Daily Horoscope"),
			SMTPHost:       r.str("SMTP_HOST", ""),
			SMTPPort:       r.int("SMTP_PORT", 587),
			SMTPUser:       r.str("SMTP_USER", ""),
			SMTPPassword:   r.str("SMTP_PASSWORD", ""),
			ResendAPIKey:   r.str("RESEND_API_KEY", ""),
			MailgunAPIKey:  r.str("MAILGUN_API_KEY", ""),
			MailgunDomain:  r.str("MAILGUN_DOMAIN", ""),
			MailgunRegion:  r.lower("MAILGUN_REGION", "us"),
			SendGridAPIKey: r.str("SENDGRID_API_KEY", ""),
		},
		SMS: SMSConfig{
			Provider:         r.lower("SMS_PROVIDER", ""),
			MaxLength:        r.int("SMS_MAX_LENGTH", 160),
			SegmentPrefix:    r.bool("SMS_SEGMENT_PREFIX", true),
			TwilioAccountSID: r.str("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  r.str("TWILIO_AUTH_TOKEN", ""),
			TwilioFrom:       r.str("TWILIO_FROM", ""),
			VoipmsUsername:   r.str("VOIPMS_API_USERNAME", ""),
			VoipmsPassword:   r.str("VOIPMS_API_PASSWORD", ""),
			VoipmsDID:        r.str("VOIPMS_DID", ""),
		},
		Content: ContentConfig{
			Strategy:               r.lower("CONTENT_STRATEGY", "template"),
			AIProvider:             r.lower("AI_PROVIDER", "openai"),
			AIAPIKey:               r.str("AI_API_KEY", ""),
			AIModel:                r.str("AI_MODEL", ""),
			AIBaseURL:              r.str("AI_BASE_URL", ""),
			CasualCloseProbability: r.float("CASUAL_CLOSE_PROBABILITY", 0.3),
			PatternHistory:         r.int("PATTERN_HISTORY", 10),
			RandomSeed:             r.int64("RANDOM_SEED"),
		},

		RedisURL:        r.str("REDIS_URL", ""),
		RateLimitMax:    r.int("RATE_LIMIT_MAX", 10),
		RateLimitWindow: r.duration("RATE_LIMIT_WINDOW", time.Minute),

		TokenTTL:              r.duration("TOKEN_TTL", 30*24*time.Hour),
		AllowEmailUnsubscribe: r.bool("ALLOW_EMAIL_UNSUBSCRIBE", false),

		TelegramToken:   r.str("TELEGRAM_TOKEN", ""),
		AdminTelegramID: r.int64("ADMIN_TELEGRAM_ID"),
	}

	cfg.Store = r.lower("STORE", "")
	if cfg.Store == "" {
		cfg.Store = StorePostgres
		if cfg.DatabaseURL == "" {
			cfg.Store = StoreMemory
		}
	}
	if origins := r.str("CORS_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	validate(r, cfg)
	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	return cfg, nil
}

func validate(r *envReader, cfg *AppConfig) {
	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			r.fail("DATABASE_URL is not set")
		}
	default:
		r.fail("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}

	if cfg.MorningHour < 0 || cfg.MorningHour > 23 {
		r.fail("MORNING_HOUR must be within 0-23, got %d", cfg.MorningHour)
	}
	if cfg.EveningHour < 0 || cfg.EveningHour > 23 {
		r.fail("EVENING_HOUR must be within 0-23, got %d", cfg.EveningHour)
	}
	if cfg.EveningEnabled && cfg.EveningHour == cfg.MorningHour {
		r.fail("EVENING_HOUR must differ from MORNING_HOUR")
	}
	if cfg.IdempotencyClock != ClockUTC && cfg.IdempotencyClock != ClockLocal {
		r.fail("IDEMPOTENCY_CLOCK must be %q or %q, got %q", ClockUTC, ClockLocal, cfg.IdempotencyClock)
	}
	if !contact.IsValidTimezone(cfg.DefaultTimezone) {
		r.fail("invalid DEFAULT_TIMEZONE %q", cfg.DefaultTimezone)
	}
	if cfg.SendBatchSize <= 0 {
		r.fail("SEND_BATCH_SIZE must be positive")
	}
	if cfg.RetryAttempts < 1 {
		r.fail("RETRY_ATTEMPTS must be at least 1")
	}
	if cfg.SMS.MaxLength < 20 {
		r.fail("SMS_MAX_LENGTH must be at least 20")
	}
	if cfg.RateLimitMax < 0 {
		r.fail("RATE_LIMIT_MAX must not be negative")
	}
	if cfg.RateLimitMax > 0 && cfg.RateLimitWindow <= 0 {
		r.fail("RATE_LIMIT_WINDOW must be positive, got %s", cfg.RateLimitWindow)
	}
	if p := cfg.Content.CasualCloseProbability; p < 0 || p > 1 {
		r.fail("CASUAL_CLOSE_PROBABILITY must be within 0-1, got %v", p)
	}

	switch cfg.Email.Provider {
	case "", "smtp", "resend", "mailgun", "sendgrid":
	default:
		r.fail("EMAIL_PROVIDER must be smtp, resend, mailgun or sendgrid, got %q", cfg.Email.Provider)
	}
	if missing := cfg.Email.Missing(); len(missing) > 0 {
		r.fail("EMAIL_PROVIDER=%s requires %s", cfg.Email.Provider, strings.Join(missing, ", "))
	}

	switch cfg.SMS.Provider {
	case "", "twilio", "voipms":
	default:
		r.fail("SMS_PROVIDER must be twilio or voipms, got %q", cfg.SMS.Provider)
	}
	if missing := cfg.SMS.Missing(); len(missing) > 0 {
		r.fail("SMS_PROVIDER=%s requires %s", cfg.SMS.Provider, strings.Join(missing, ", "))
	}

	switch cfg.Content.Strategy {
	case "template":
	case "generative":
		if cfg.Content.AIAPIKey == "" {
			r.fail("CONTENT_STRATEGY=generative requires AI_API_KEY")
		}
		if cfg.Content.AIProvider != "openai" && cfg.Content.AIProvider != "anthropic" {
			r.fail("AI_PROVIDER must be openai or anthropic, got %q", cfg.Content.AIProvider)
		}
	default:
		r.fail("CONTENT_STRATEGY must be template or generative, got %q", cfg.Content.Strategy)
	}

	if (cfg.TelegramToken == "") != (cfg.AdminTelegramID == 0) {
		r.fail("TELEGRAM_TOKEN and ADMIN_TELEGRAM_ID must be set together")
	}
}
