package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var profilesYAML []byte

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	PolicyReject    = "reject"
	PolicyFirstSeen = "first_seen"

	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Env          string // APP_ENV, defaults to production
	Server       ServerConfig
	Identity     IdentityConfig
	OTP          OTPConfig
	Verification VerificationConfig
	Registry     RegistryConfig
	Embedding    EmbeddingConfig
	OpenAI       OpenAIConfig
	Gemini       GeminiConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Roll         RollConfig
	Delivery     DeliveryConfig
	Images       ImagesConfig
	Token        TokenConfig
	Log          LogConfig
	Profiles     ProfilesConfig
}

type ServerConfig struct {
	Host           string   // defaults to 0.0.0.0
	Port           int      // defaults to 8080
	APIKeys        []string // comma separated, required in production
	AdminAPIKeys   []string // keys allowed to enroll and list voters
	AllowedOrigins []string // extra CORS origins, localhost is allowed outside production
}

type IdentityConfig struct {
	Pepper string // HMAC key for identity hashing
}

type OTPConfig struct {
	Length        int           // defaults to 6
	Window        time.Duration // defaults to 10m
	ExposeCode    bool          // return the code in the HTTP response (development only)
	Backend       string        // memory, redis or postgres
	HashMemoryKiB int           // argon2 memory cost, defaults to 19456
	HashTime      int           // argon2 time cost, defaults to 2
}

type VerificationConfig struct {
	Provider         string        // http, openai, gemini or dev
	FallbackProvider string        // optional secondary provider
	Threshold        float64       // 0 means use the provider profile
	Timeout          time.Duration // per provider call, defaults to 10s
	EnrollmentPolicy string        // reject (default) or first_seen
	MaxImageSize     int           // longest edge after resize, defaults to 1024
}

type RegistryConfig struct {
	Backend        string  // memory or postgres
	DedupThreshold float64 // 0 disables the duplicate face check
}

type EmbeddingConfig struct {
	URL   string // defaults to http://localhost:8000
	Model string // overrides the profile model name
}

type OpenAIConfig struct {
	Token string
	Model string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type RedisConfig struct {
	Addr     string // defaults to localhost:6379
	Password string
	DB       int
}

type RollConfig struct {
	DatabaseURL string // MariaDB DSN of the electoral roll (optional)
	Table       string // defaults to electoral_roll
}

type DeliveryConfig struct {
	Mode          string // log, direct or queue
	SMSGatewayURL string
	SMSAPIKey     string
	SMSSender     string
	ResendAPIKey  string
	EmailFrom     string
	Concurrency   int // worker concurrency, defaults to 10
}

type ImagesConfig struct {
	Backend               string // file or azure
	Dir                   string // defaults to ./data/images
	AzureConnectionString string
	AzureContainer        string
}

type TokenConfig struct {
	Secret string        // empty disables ballot access tokens
	TTL    time.Duration // defaults to 5m
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

type ProfilesConfig struct {
	Providers map[string]ProviderProfile `yaml:"providers"`
}

type ProviderProfile struct {
	Model        string  `yaml:"model"`
	Dim          int     `yaml:"dim"`
	Threshold    float64 `yaml:"threshold"`
	LengthPolicy string  `yaml:"length_policy"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() *Config {
	var profiles ProfilesConfig
	if err := yaml.Unmarshal(profilesYAML, &profiles); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded profiles.yaml: " + err.Error())
	}

	return &Config{
		Env: strings.ToLower(envString("APP_ENV", EnvProduction)),
		Server: ServerConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			APIKeys:        envList("API_KEYS"),
			AdminAPIKeys:   envList("ADMIN_API_KEYS"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Identity: IdentityConfig{
			Pepper: os.Getenv("IDENTITY_PEPPER"),
		},
		OTP: OTPConfig{
			Length:        envInt("OTP_LENGTH", 6),
			Window:        envDuration("OTP_WINDOW", 10*time.Minute),
			ExposeCode:    envBool("OTP_EXPOSE_CODE", false),
			Backend:       envString("OTP_BACKEND", BackendMemory),
			HashMemoryKiB: envInt("OTP_HASH_MEMORY_KIB", 19456),
			HashTime:      envInt("OTP_HASH_TIME", 2),
		},
		Verification: VerificationConfig{
			Provider:         envString("VERIFY_PROVIDER", "http"),
			FallbackProvider: os.Getenv("VERIFY_FALLBACK_PROVIDER"),
			Threshold:        envFloat("VERIFY_THRESHOLD", 0),
			Timeout:          envDuration("VERIFY_PROVIDER_TIMEOUT", 10*time.Second),
			EnrollmentPolicy: envString("VERIFY_ENROLLMENT_POLICY", PolicyReject),
			MaxImageSize:     envInt("VERIFY_MAX_IMAGE_SIZE", 1024),
		},
		Registry: RegistryConfig{
			Backend:        envString("REGISTRY_BACKEND", BackendMemory),
			DedupThreshold: envFloat("REGISTRY_DEDUP_THRESHOLD", 0),
		},
		Embedding: EmbeddingConfig{
			URL:   envString("EMBEDDING_URL", "http://localhost:8000"),
			Model: os.Getenv("EMBEDDING_MODEL"),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
			Model: os.Getenv("OPENAI_MODEL"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  os.Getenv("GEMINI_MODEL"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		Roll: RollConfig{
			DatabaseURL: os.Getenv("ROLL_DATABASE_URL"),
			Table:       envString("ROLL_TABLE", "electoral_roll"),
		},
		Delivery: DeliveryConfig{
			Mode:          envString("DELIVERY_MODE", "log"),
			SMSGatewayURL: os.Getenv("SMS_GATEWAY_URL"),
			SMSAPIKey:     os.Getenv("SMS_API_KEY"),
			SMSSender:     envString("SMS_SENDER", "VOTEGATE"),
			ResendAPIKey:  os.Getenv("RESEND_API_KEY"),
			EmailFrom:     os.Getenv("EMAIL_FROM"),
			Concurrency:   envInt("DELIVERY_CONCURRENCY", 10),
		},
		Images: ImagesConfig{
			Backend:               envString("IMAGES_BACKEND", "file"),
			Dir:                   envString("IMAGES_DIR", "./data/images"),
			AzureConnectionString: os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
			AzureContainer:        envString("AZURE_STORAGE_CONTAINER", "voter-references"),
		},
		Token: TokenConfig{
			Secret: os.Getenv("BALLOT_TOKEN_SECRET"),
			TTL:    envDuration("BALLOT_TOKEN_TTL", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		Profiles: profiles,
	}
}

func (c *Config) IsProduction() bool {
	return c.Env != EnvDevelopment
}

// Profile returns the provider profile, falling back to a strict zero profile
// for unknown providers.
func (c *Config) Profile(name string) ProviderProfile {
	p, ok := c.Profiles.Providers[name]
	if !ok {
		return ProviderProfile{Model: name, LengthPolicy: "strict"}
	}
	if p.LengthPolicy == "" {
		p.LengthPolicy = "strict"
	}
	switch name {
	case "http":
		if c.Embedding.Model != "" {
			p.Model = c.Embedding.Model
		}
	case "openai":
		if c.OpenAI.Model != "" {
			p.Model = c.OpenAI.Model
		}
	case "gemini":
		if c.Gemini.Model != "" {
			p.Model = c.Gemini.Model
		}
	}
	return p
}

// Threshold returns the configured decision threshold or the primary provider's default.
func (c *Config) Threshold() float64 {
	if c.Verification.Threshold != 0 {
		return c.Verification.Threshold
	}
	return c.Profile(c.Verification.Provider).Threshold
}

// Validate checks the configuration. Production deployments get extra fences:
// no exposed codes, no dev provider and no in-memory stores.
func (c *Config) Validate() error {
	var errs []error

	if c.Env != EnvProduction && c.Env != EnvDevelopment {
		errs = append(errs, fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvProduction, EnvDevelopment, c.Env))
	}
	if c.Identity.Pepper == "" {
		errs = append(errs, errors.New("IDENTITY_PEPPER is required"))
	}
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		errs = append(errs, fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTP.Length))
	}
	if t := c.Threshold(); t < -1 || t > 1 {
		errs = append(errs, fmt.Errorf("decision threshold must be within [-1, 1], got %v", t))
	}
	switch c.Verification.EnrollmentPolicy {
	case PolicyReject, PolicyFirstSeen:
	default:
		errs = append(errs, fmt.Errorf("unknown VERIFY_ENROLLMENT_POLICY %q", c.Verification.EnrollmentPolicy))
	}
	switch c.OTP.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown OTP_BACKEND %q", c.OTP.Backend))
	}
	switch c.Registry.Backend {
	case BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown REGISTRY_BACKEND %q", c.Registry.Backend))
	}
	if (c.OTP.Backend == BackendPostgres || c.Registry.Backend == BackendPostgres) && c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
	}
	if c.Verification.FallbackProvider != "" && c.Verification.FallbackProvider == c.Verification.Provider {
		errs = append(errs, errors.New("VERIFY_FALLBACK_PROVIDER must differ from VERIFY_PROVIDER"))
	}

	if c.IsProduction() {
		if len(c.Server.APIKeys) == 0 {
			errs = append(errs, errors.New("API_KEYS is required in production"))
		}
		if c.OTP.ExposeCode {
			errs = append(errs, errors.New("OTP_EXPOSE_CODE is not allowed in production"))
		}
		if c.Verification.Provider == "dev" || c.Verification.FallbackProvider == "dev" {
			errs = append(errs, errors.New("the dev provider is not allowed in production"))
		}
		if c.OTP.Backend == BackendMemory || c.Registry.Backend == BackendMemory {
			errs = append(errs, errors.New("in-memory stores are not durable and not allowed in production"))
		}
		if c.Delivery.Mode == "log" {
			errs = append(errs, errors.New("DELIVERY_MODE=log is not allowed in production"))
		}
	}

	return errors.Join(errs...)
}
