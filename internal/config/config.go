// Package config loads server configuration.
//
// LOAD ORDER:
//  1. Built-in defaults (see Default)
//  2. An optional YAML file (passed with --config)
//  3. Environment variables, which always win
//
// Every field has a matching env var so a container can run with no file at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	Identity IdentityConfig `yaml:"identity"`
	Signup   SignupConfig   `yaml:"signup"`
	Redis    RedisConfig    `yaml:"redis"`
	Limits   LimitsConfig   `yaml:"limits"`
	Mail     MailConfig     `yaml:"mail"`
}

type AppConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	Env         string `yaml:"env"` // development | production
	LogLevel    string `yaml:"log_level"`
	FrontendURL string `yaml:"frontend_url"`
	PublicURL   string `yaml:"public_url"`
	CORSOrigin  string `yaml:"cors_origin"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite | pgx
	DSN    string `yaml:"dsn"`
}

type IdentityConfig struct {
	Provider      string        `yaml:"provider"` // local | gotrue
	GoTrueURL     string        `yaml:"gotrue_url"`
	GoTrueAnonKey string        `yaml:"gotrue_anon_key"`
	JWTSecret     string        `yaml:"jwt_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	LinkTTL       time.Duration `yaml:"link_ttl"`
}

type SignupConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepTimeout  time.Duration `yaml:"sweep_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type LimitsConfig struct {
	Auth  Rate `yaml:"auth"`
	Write Rate `yaml:"write"`
}

type MailConfig struct {
	SMTPAddr     string `yaml:"smtp_addr"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	From         string `yaml:"from"`
}

// Rate is a request budget such as "10/min".
type Rate struct {
	Limit  int
	Window time.Duration
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

// ParseRate accepts "<n>/<unit>" where unit is sec, min, hour or a Go duration ("30s").
func ParseRate(s string) (Rate, error) {
	n, unit, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rate{}, fmt.Errorf("config: rate %q must look like 10/min", s)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil || limit <= 0 {
		return Rate{}, fmt.Errorf("config: rate %q has an invalid count", s)
	}

	var window time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "s", "sec", "second":
		window = time.Second
	case "m", "min", "minute":
		window = time.Minute
	case "h", "hour":
		window = time.Hour
	default:
		window, err = time.ParseDuration(unit)
		if err != nil || window <= 0 {
			return Rate{}, fmt.Errorf("config: rate %q has an invalid window", s)
		}
	}
	return Rate{Limit: limit, Window: window}, nil
}

// UnmarshalYAML lets the file use the same "10/min" shorthand as the env vars.
func (r *Rate) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseRate(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		App: AppConfig{
			HTTPAddr:    ":3000",
			Env:         "development",
			LogLevel:    "info",
			FrontendURL: "http://localhost:3001",
			PublicURL:   "http://localhost:3000",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/codeguides.db",
		},
		Identity: IdentityConfig{
			Provider:   "local",
			SessionTTL: time.Hour,
			LinkTTL:    15 * time.Minute,
		},
		Signup: SignupConfig{
			TTL:           15 * time.Minute,
			SweepInterval: time.Hour,
			SweepTimeout:  30 * time.Second,
		},
		Limits: LimitsConfig{
			Auth:  Rate{Limit: 10, Window: time.Minute},
			Write: Rate{Limit: 60, Window: time.Minute},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path,
// and the environment. It does not validate; call Validate before use.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if cfg.App.CORSOrigin == "" {
		cfg.App.CORSOrigin = cfg.App.FrontendURL
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.App.HTTPAddr = getenv("HTTP_ADDR", c.App.HTTPAddr)
	c.App.Env = getenv("APP_ENV", c.App.Env)
	c.App.LogLevel = getenv("LOG_LEVEL", c.App.LogLevel)
	c.App.FrontendURL = strings.TrimRight(getenv("FRONTEND_URL", c.App.FrontendURL), "/")
	c.App.PublicURL = strings.TrimRight(getenv("PUBLIC_URL", c.App.PublicURL), "/")
	c.App.CORSOrigin = getenv("CORS_ORIGIN", c.App.CORSOrigin)

	c.Database.Driver = getenv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getenv("DB_DSN", c.Database.DSN)

	c.Identity.Provider = getenv("IDENTITY_PROVIDER", c.Identity.Provider)
	c.Identity.GoTrueURL = strings.TrimRight(getenv("GOTRUE_URL", c.Identity.GoTrueURL), "/")
	c.Identity.GoTrueAnonKey = getenv("GOTRUE_ANON_KEY", c.Identity.GoTrueAnonKey)
	c.Identity.JWTSecret = getenv("JWT_SECRET", c.Identity.JWTSecret)
	c.Identity.SessionTTL = getenvDuration("SESSION_TTL", c.Identity.SessionTTL)
	c.Identity.LinkTTL = getenvDuration("LINK_TTL", c.Identity.LinkTTL)

	c.Signup.TTL = getenvDuration("SIGNUP_TTL", c.Signup.TTL)
	c.Signup.SweepInterval = getenvDuration("SWEEP_INTERVAL", c.Signup.SweepInterval)
	c.Signup.SweepTimeout = getenvDuration("SWEEP_TIMEOUT", c.Signup.SweepTimeout)

	c.Redis.Addr = getenv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenv("REDIS_PASSWORD", c.Redis.Password)

	c.Mail.SMTPAddr = getenv("SMTP_ADDR", c.Mail.SMTPAddr)
	c.Mail.SMTPUser = getenv("SMTP_USER", c.Mail.SMTPUser)
	c.Mail.SMTPPassword = getenv("SMTP_PASSWORD", c.Mail.SMTPPassword)
	c.Mail.From = getenv("MAIL_FROM", c.Mail.From)

	var err error
	if c.Limits.Auth, err = getenvRate("RATE_LIMIT_AUTH", c.Limits.Auth); err != nil {
		return err
	}
	if c.Limits.Write, err = getenvRate("RATE_LIMIT_WRITE", c.Limits.Write); err != nil {
		return err
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.App.Env != "development" && c.App.Env != "production" {
		errs = append(errs, fmt.Errorf("APP_ENV must be development or production, got %q", c.App.Env))
	}
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or pgx, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}

	switch c.Identity.Provider {
	case "local":
		if len(c.Identity.JWTSecret) < 16 {
			errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters for the local identity provider"))
		}
	case "gotrue":
		if c.Identity.GoTrueURL == "" || c.Identity.GoTrueAnonKey == "" {
			errs = append(errs, errors.New("GOTRUE_URL and GOTRUE_ANON_KEY are required for the gotrue identity provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("IDENTITY_PROVIDER must be local or gotrue, got %q", c.Identity.Provider))
	}
	if c.Identity.SessionTTL <= 0 || c.Identity.LinkTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL and LINK_TTL must be positive"))
	}

	if c.Signup.TTL <= 0 {
		errs = append(errs, errors.New("SIGNUP_TTL must be positive"))
	}
	if c.Signup.SweepInterval <= 0 || c.Signup.SweepTimeout <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL and SWEEP_TIMEOUT must be positive"))
	}

	if c.Mail.SMTPAddr != "" && c.Mail.From == "" {
		errs = append(errs, errors.New("MAIL_FROM is required when SMTP_ADDR is set"))
	}

	return errors.Join(errs...)
}

func (c Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvRate(key string, fallback Rate) (Rate, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	return ParseRate(val)
}
