package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Gateway   GatewayConfig
	Messaging MessagingConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// GatewayConfig points at the messaging gateway daemon that owns the actual
// device connections. The API talks to it over HTTP.
type GatewayConfig struct {
	BaseURL string
	// APIToken authenticates this service to the gateway; never log it.
	APIToken       string
	RequestTimeout time.Duration
}

// MessagingConfig drives recipient normalization, bulk dispatch pacing,
// QR pairing and reconnect behavior. Most env vars are optional; zero
// values get safe defaults in Validate().
type MessagingConfig struct {
	// DefaultCountryPrefix is prepended to local numbers missing a country code.
	DefaultCountryPrefix string
	// LocalNumberLength is the digit count that identifies a local number.
	LocalNumberLength int
	// MinAddressDigits: anything shorter after normalization is invalid.
	MinAddressDigits int

	// BulkMaxRecipients bounds a single bulk campaign.
	BulkMaxRecipients int
	// BulkMessageDelay is applied between consecutive sends (never after the last).
	BulkMessageDelay time.Duration
	// BulkConcurrencyPerAccount caps concurrent detached bulk loops per account.
	BulkConcurrencyPerAccount int

	// QRWaitTimeout bounds the pairing wait; QRPollInterval is the check cadence.
	QRWaitTimeout  time.Duration
	QRPollInterval time.Duration

	// ReconnectBaseDelay doubles per retry up to ReconnectMaxDelay.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.Gateway.BaseURL = strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL"))
	c.Gateway.APIToken = os.Getenv("GATEWAY_API_TOKEN")
	c.Gateway.RequestTimeout = optDuration("GATEWAY_REQUEST_TIMEOUT")

	c.Messaging.DefaultCountryPrefix = strings.TrimSpace(os.Getenv("MSG_COUNTRY_PREFIX"))
	c.Messaging.LocalNumberLength = optInt("MSG_LOCAL_NUMBER_LENGTH")
	c.Messaging.MinAddressDigits = optInt("MSG_MIN_ADDRESS_DIGITS")
	c.Messaging.BulkMaxRecipients = optInt("MSG_BULK_MAX_RECIPIENTS")
	c.Messaging.BulkMessageDelay = optDuration("MSG_BULK_DELAY")
	c.Messaging.BulkConcurrencyPerAccount = optInt("MSG_BULK_CONCURRENCY")
	c.Messaging.QRWaitTimeout = optDuration("MSG_QR_WAIT_TIMEOUT")
	c.Messaging.QRPollInterval = optDuration("MSG_QR_POLL_INTERVAL")
	c.Messaging.ReconnectBaseDelay = optDuration("MSG_RECONNECT_BASE_DELAY")
	c.Messaging.ReconnectMaxDelay = optDuration("MSG_RECONNECT_MAX_DELAY")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("GATEWAY_BASE_URL is required"))
	}
	if c.IsProduction() && c.Gateway.APIToken == "" {
		errs = append(errs, errors.New("GATEWAY_API_TOKEN is required in production"))
	}
	if c.Gateway.RequestTimeout <= 0 {
		c.Gateway.RequestTimeout = 30 * time.Second
	}

	if c.Messaging.DefaultCountryPrefix == "" {
		errs = append(errs, errors.New("MSG_COUNTRY_PREFIX is required"))
	} else if !isDigits(c.Messaging.DefaultCountryPrefix) {
		errs = append(errs, fmt.Errorf("MSG_COUNTRY_PREFIX must be digits only, got %q", c.Messaging.DefaultCountryPrefix))
	}
	if c.Messaging.LocalNumberLength <= 0 {
		c.Messaging.LocalNumberLength = 10
	}
	if c.Messaging.MinAddressDigits <= 0 {
		c.Messaging.MinAddressDigits = 8
	}
	if c.Messaging.BulkMaxRecipients <= 0 {
		c.Messaging.BulkMaxRecipients = 1000
	}
	if c.Messaging.BulkMessageDelay <= 0 {
		c.Messaging.BulkMessageDelay = 2 * time.Second
	}
	if c.Messaging.BulkConcurrencyPerAccount <= 0 {
		c.Messaging.BulkConcurrencyPerAccount = 1
	}
	if c.Messaging.QRWaitTimeout <= 0 {
		c.Messaging.QRWaitTimeout = 20 * time.Second
	}
	if c.Messaging.QRPollInterval <= 0 {
		c.Messaging.QRPollInterval = 500 * time.Millisecond
	}
	if c.Messaging.ReconnectBaseDelay <= 0 {
		c.Messaging.ReconnectBaseDelay = 5 * time.Second
	}
	if c.Messaging.ReconnectMaxDelay <= 0 {
		c.Messaging.ReconnectMaxDelay = 2 * time.Minute
	}
	if c.Messaging.ReconnectMaxDelay < c.Messaging.ReconnectBaseDelay {
		errs = append(errs, errors.New("MSG_RECONNECT_MAX_DELAY must be >= MSG_RECONNECT_BASE_DELAY"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
