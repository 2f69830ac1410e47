package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file loaded by main).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	Store    StoreConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	AI       AIConfig
	Guard    GuardConfig
	Dispatch DispatchConfig
	Events   EventsConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable origin Twilio calls back.
	PublicBaseURL string
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

type StoreConfig struct {
	Driver     string
	SQLitePath string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode  string
	MaxConns int32
}

// RedisConfig is optional outside production; an empty Host selects the
// in-process lock and dedupe implementations.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration

	// AccessKeyHash is the bcrypt hash of the dashboard access key.
	AccessKeyHash     string
	SessionRatePerMin int
}

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	PhoneNumber       string
	ValidateSignature bool
	Voice             string
	Language          string
}

const (
	AIProviderOpenRouter = "openrouter"
	AIProviderOllama     = "ollama"
)

type AIConfig struct {
	Provider       string
	BaseURL        string
	APIKey         string
	Model          string
	SummaryModel   string
	TurnTimeout    time.Duration
	SummaryTimeout time.Duration
	AppName        string
}

type GuardConfig struct {
	DedupeWindow time.Duration
	CallLockTTL  time.Duration
}

type DispatchConfig struct {
	RatePerSec float64
	Burst      int
}

type EventsConfig struct {
	RabbitURL string
	Queue     string
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
	c.App.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))

	c.Store.Driver = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	c.Store.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = optInt(parseErrs, "DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	{
		var n int
		n, parseErrs = optInt(parseErrs, "DB_MAX_CONNS")
		c.DB.MaxConns = int32(n)
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = optInt(parseErrs, "REDIS_PORT")
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL, parseErrs = optDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.AccessKeyHash = strings.TrimSpace(os.Getenv("DASHBOARD_ACCESS_KEY_HASH"))
	c.Auth.SessionRatePerMin, parseErrs = optInt(parseErrs, "SESSION_RATE_PER_MIN")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PhoneNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER"))
	{
		v, set, err := optBool("TWILIO_VALIDATE_SIGNATURE")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		// unset means "on in production only"
		c.Twilio.ValidateSignature = v || (!set && c.App.Env == "production")
	}
	c.Twilio.Voice = strings.TrimSpace(os.Getenv("TWILIO_VOICE"))
	c.Twilio.Language = strings.TrimSpace(os.Getenv("TWILIO_LANGUAGE"))

	c.AI.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER")))
	c.AI.BaseURL = strings.TrimSpace(os.Getenv("AI_BASE_URL"))
	c.AI.APIKey = os.Getenv("AI_API_KEY")
	c.AI.Model = strings.TrimSpace(os.Getenv("AI_MODEL"))
	c.AI.SummaryModel = strings.TrimSpace(os.Getenv("AI_SUMMARY_MODEL"))
	c.AI.TurnTimeout, parseErrs = optDuration(parseErrs, "AI_TURN_TIMEOUT")
	c.AI.SummaryTimeout, parseErrs = optDuration(parseErrs, "AI_SUMMARY_TIMEOUT")
	c.AI.AppName = strings.TrimSpace(os.Getenv("AI_APP_NAME"))

	c.Guard.DedupeWindow, parseErrs = optDuration(parseErrs, "DEDUPE_WINDOW")
	c.Guard.CallLockTTL, parseErrs = optDuration(parseErrs, "CALL_LOCK_TTL")

	c.Dispatch.RatePerSec, parseErrs = optFloat(parseErrs, "DISPATCH_RATE_PER_SEC")
	c.Dispatch.Burst, parseErrs = optInt(parseErrs, "DISPATCH_BURST")

	c.Events.RabbitURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	c.Events.Queue = strings.TrimSpace(os.Getenv("RABBITMQ_QUEUE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
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
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if u, err := url.Parse(c.App.PublicBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) url, got %q", c.App.PublicBaseURL))
	} else if c.IsProduction() && u.Scheme != "https" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL must use https in production"))
	}

	errs = append(errs, c.validateStore()...)

	if c.Redis.Host == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("REDIS_HOST is required in production"))
		}
	} else {
		if c.Redis.Port == 0 {
			c.Redis.Port = 6379
		}
		if c.Redis.Port < 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validateTwilio()...)
	errs = append(errs, c.validateAI()...)

	if c.Guard.DedupeWindow <= 0 {
		c.Guard.DedupeWindow = 2 * time.Minute
	}
	if c.Guard.CallLockTTL <= 0 {
		c.Guard.CallLockTTL = 60 * time.Second
	}
	if c.Guard.CallLockTTL < c.AI.TurnTimeout+c.AI.SummaryTimeout {
		errs = append(errs, errors.New("CALL_LOCK_TTL must cover AI_TURN_TIMEOUT plus AI_SUMMARY_TIMEOUT"))
	}

	if c.Dispatch.RatePerSec < 0 {
		errs = append(errs, errors.New("DISPATCH_RATE_PER_SEC must not be negative"))
	} else if c.Dispatch.RatePerSec == 0 {
		c.Dispatch.RatePerSec = 1
	}
	if c.Dispatch.Burst <= 0 {
		c.Dispatch.Burst = 5
	}

	if c.Events.Queue == "" {
		c.Events.Queue = "call.finalized"
	}

	return joinErrors(errs)
}

func (c *Config) validateStore() []error {
	var errs []error
	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverPostgres
	}
	switch c.Store.Driver {
	case StoreDriverSQLite:
		if c.Store.SQLitePath == "" {
			c.Store.SQLitePath = "phone-agent.db"
		}
		return nil
	case StoreDriverPostgres:
	default:
		return []error{fmt.Errorf("STORE_DRIVER must be one of postgres, sqlite, got %q", c.Store.Driver)}
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.DB.Port < 0 || c.DB.Port > 65535 {
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
	if c.DB.MaxConns < 0 {
		errs = append(errs, errors.New("DB_MAX_CONNS must not be negative"))
	}
	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error
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
		if c.Auth.AccessKeyHash == "" {
			errs = append(errs, errors.New("DASHBOARD_ACCESS_KEY_HASH is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.SessionRatePerMin <= 0 {
		c.Auth.SessionRatePerMin = 10
	}
	return errs
}

func (c *Config) validateTwilio() []error {
	var errs []error
	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.PhoneNumber == "" {
		errs = append(errs, errors.New("TWILIO_PHONE_NUMBER is required"))
	}
	if c.Twilio.Voice == "" {
		c.Twilio.Voice = "Polly.Joanna"
	}
	if c.Twilio.Language == "" {
		c.Twilio.Language = "en-US"
	}
	return errs
}

func (c *Config) validateAI() []error {
	var errs []error
	if c.AI.Provider == "" {
		c.AI.Provider = AIProviderOpenRouter
	}
	switch c.AI.Provider {
	case AIProviderOpenRouter:
		if c.AI.APIKey == "" {
			errs = append(errs, errors.New("AI_API_KEY is required for openrouter"))
		}
		if c.AI.BaseURL == "" {
			c.AI.BaseURL = "https://openrouter.ai/api/v1"
		}
	case AIProviderOllama:
		if c.AI.BaseURL == "" {
			c.AI.BaseURL = "http://localhost:11434"
		}
	default:
		errs = append(errs, fmt.Errorf("AI_PROVIDER must be one of openrouter, ollama, got %q", c.AI.Provider))
	}
	if c.AI.Model == "" {
		errs = append(errs, errors.New("AI_MODEL is required"))
	}
	if c.AI.SummaryModel == "" {
		c.AI.SummaryModel = c.AI.Model
	}
	if c.AI.TurnTimeout <= 0 {
		c.AI.TurnTimeout = 8 * time.Second
	}
	if c.AI.SummaryTimeout <= 0 {
		c.AI.SummaryTimeout = 20 * time.Second
	}
	if c.AI.AppName == "" {
		c.AI.AppName = "phone-agent"
	}
	return errs
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

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
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

func optInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optFloat(errs []error, key string) (float64, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a number, got %q", key, v))
	}
	return f, errs
}

func optDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration like 30s, got %q", key, v))
	}
	return d, errs
}

func optBool(key string) (value, set bool, err error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, true, fmt.Errorf("%s must be true or false, got %q", key, v)
	}
	return b, true, nil
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
