// Package config собирает настройки процесса: значения по умолчанию,
// затем переменные окружения AUTHGATE_*, затем флаги командной строки.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Поддерживаемые хранилища
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

// envPrefix префикс переменных окружения
const envPrefix = "AUTHGATE_"

// ErrMissingJWTSecret возвращается, если ключ подписи access tokens не задан.
// Без него сервер не запускается.
var ErrMissingJWTSecret = errors.New("jwt secret is not configured (set AUTHGATE_JWT_SECRET or -jwt-secret)")

// Config хранит настройки сервера и authctl
type Config struct {
	CORSAllowedOrigins []string

	Addr          string
	MetricsAddr   string // пустая строка отключает отдельный listener метрик
	StorageDriver string
	DatabaseDSN   string
	JWTSecret     string
	LogLevel      string
	LogFormat     string

	RefreshTokenTTL        time.Duration
	RateLimitWindow        time.Duration
	RateLimitSweepInterval time.Duration
	ReadTimeout            time.Duration
	WriteTimeout           time.Duration
	ShutdownTimeout        time.Duration

	AuthenticatedLimit int
	AnonymousLimit     int
	BcryptCost         int

	RotateRefreshTokens bool
	TrustProxyHeaders   bool
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Addr:                   ":8080",
		MetricsAddr:            ":9090",
		StorageDriver:          DriverSQLite,
		DatabaseDSN:            "authgate.db",
		LogLevel:               "info",
		LogFormat:              "text",
		RefreshTokenTTL:        720 * time.Hour,
		RateLimitWindow:        60 * time.Second,
		RateLimitSweepInterval: 5 * time.Minute,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		ShutdownTimeout:        10 * time.Second,
		AuthenticatedLimit:     100,
		AnonymousLimit:         20,
		BcryptCost:             10,
		RotateRefreshTokens:    true,
	}
}

// Load собирает конфигурацию сервера из окружения и args (без имени программы).
// Пустой JWTSecret дает ErrMissingJWTSecret.
func Load(args []string) (*Config, error) {
	cfg, _, err := parse("authgate-server", args)
	if err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, ErrMissingJWTSecret
	}

	return cfg, nil
}

// LoadCommand собирает конфигурацию для authctl.
// Возвращает аргументы после глобальных флагов (подкоманду и ее флаги).
// Ключ подписи здесь не обязателен: операторские команды не выпускают токены.
func LoadCommand(args []string) (*Config, []string, error) {
	return parse("authctl", args)
}

func parse(name string, args []string) (*Config, []string, error) {
	cfg := Default()

	if err := cfg.applyEnv(); err != nil {
		return nil, nil, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.registerFlags(fs)

	if err := fs.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return cfg, fs.Args(), nil
}

// Validate проверяет значения, которые не могут быть исправлены молча
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverSQLite, DriverPostgres, DriverBolt:
	default:
		return fmt.Errorf("unknown storage driver %q (want sqlite, postgres or bolt)", c.StorageDriver)
	}

	if c.DatabaseDSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.AuthenticatedLimit <= 0 || c.AnonymousLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("refresh token ttl must be positive")
	}

	return nil
}

func (c *Config) applyEnv() error {
	c.Addr = getEnvString("ADDR", c.Addr)
	c.MetricsAddr = getEnvString("METRICS_ADDR", c.MetricsAddr)
	c.StorageDriver = getEnvString("STORAGE", c.StorageDriver)
	c.DatabaseDSN = getEnvString("DATABASE_DSN", c.DatabaseDSN)
	c.JWTSecret = getEnvString("JWT_SECRET", c.JWTSecret)
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvString("LOG_FORMAT", c.LogFormat)

	if v, ok := os.LookupEnv(envPrefix + "CORS_ALLOWED_ORIGINS"); ok {
		c.CORSAllowedOrigins = splitList(v)
	}

	var err error
	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&c.RefreshTokenTTL, "REFRESH_TOKEN_TTL"},
		{&c.RateLimitWindow, "RATE_LIMIT_WINDOW"},
		{&c.RateLimitSweepInterval, "RATE_LIMIT_SWEEP_INTERVAL"},
		{&c.ReadTimeout, "READ_TIMEOUT"},
		{&c.WriteTimeout, "WRITE_TIMEOUT"},
		{&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT"},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		dst *int
		key string
	}{
		{&c.AuthenticatedLimit, "AUTHENTICATED_LIMIT"},
		{&c.AnonymousLimit, "ANONYMOUS_LIMIT"},
		{&c.BcryptCost, "BCRYPT_COST"},
	}
	for _, i := range ints {
		if *i.dst, err = getEnvInt(i.key, *i.dst); err != nil {
			return err
		}
	}

	if c.RotateRefreshTokens, err = getEnvBool("ROTATE_REFRESH_TOKENS", c.RotateRefreshTokens); err != nil {
		return err
	}
	if c.TrustProxyHeaders, err = getEnvBool("TRUST_PROXY_HEADERS", c.TrustProxyHeaders); err != nil {
		return err
	}

	return nil
}

func (c *Config) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "metrics listen address (empty disables)")
	fs.StringVar(&c.StorageDriver, "storage", c.StorageDriver, "storage driver: sqlite, postgres or bolt")
	fs.StringVar(&c.DatabaseDSN, "dsn", c.DatabaseDSN, "database DSN or file path")
	fs.StringVar(&c.JWTSecret, "jwt-secret", c.JWTSecret, "HMAC key for access tokens")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text or json")

	fs.DurationVar(&c.RefreshTokenTTL, "refresh-ttl", c.RefreshTokenTTL, "refresh token lifetime")
	fs.DurationVar(&c.RateLimitWindow, "rate-window", c.RateLimitWindow, "rate limit window")
	fs.DurationVar(&c.RateLimitSweepInterval, "rate-sweep", c.RateLimitSweepInterval, "rate limiter sweep interval (0 disables)")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "HTTP read timeout")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "HTTP write timeout")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "graceful shutdown timeout")

	fs.IntVar(&c.AuthenticatedLimit, "rate-auth", c.AuthenticatedLimit, "requests per window for authenticated callers")
	fs.IntVar(&c.AnonymousLimit, "rate-anon", c.AnonymousLimit, "requests per window for anonymous callers")
	fs.IntVar(&c.BcryptCost, "bcrypt-cost", c.BcryptCost, "bcrypt cost for new passwords")

	fs.BoolVar(&c.RotateRefreshTokens, "rotate-refresh", c.RotateRefreshTokens, "issue a new refresh token on every refresh")
	fs.BoolVar(&c.TrustProxyHeaders, "trust-proxy", c.TrustProxyHeaders, "take client address from X-Forwarded-For / X-Real-IP")

	fs.Func("cors-origins", "comma separated allowed CORS origins (* for any)", func(v string) error {
		c.CORSAllowedOrigins = splitList(v)
		return nil
	})
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	return i, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
