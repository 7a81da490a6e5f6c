package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Sessions  SessionConfig
	QR        QRConfig
	Ledger    LedgerConfig
	RateLimit RateLimitConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SessionConfig bounds attendance windows opened by teachers.
type SessionConfig struct {
	MinDuration     time.Duration
	MaxDuration     time.Duration
	DefaultDuration time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration
}

// QRConfig controls the payload carried in attendance QR codes.
// An empty SigningSecret keeps payloads unsigned.
type QRConfig struct {
	SigningSecret string
	MaxAge        time.Duration
}

// LedgerConfig points at the external attendance ledger gateway.
// An empty BaseURL runs the adapter in simulated mode.
type LedgerConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	ResponseWait time.Duration
	Workers      int
	BufferSize   int
}

// RateLimitConfig throttles redemption attempts per client.
type RateLimitConfig struct {
	RedeemPerMinute int
	RedeemBurst     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Sessions = SessionConfig{
		MinDuration:     parseDuration(v.GetString("SESSION_MIN_DURATION"), time.Minute),
		MaxDuration:     parseDuration(v.GetString("SESSION_MAX_DURATION"), 120*time.Minute),
		DefaultDuration: parseDuration(v.GetString("SESSION_DEFAULT_DURATION"), 15*time.Minute),
		LockTTL:         parseDuration(v.GetString("SESSION_LOCK_TTL"), 5*time.Second),
		LockWait:        parseDuration(v.GetString("SESSION_LOCK_WAIT"), 2*time.Second),
	}
	if cfg.Sessions.MaxDuration < cfg.Sessions.MinDuration {
		cfg.Sessions.MaxDuration = cfg.Sessions.MinDuration
	}

	cfg.QR = QRConfig{
		SigningSecret: v.GetString("QR_SIGNING_SECRET"),
		MaxAge:        parseDuration(v.GetString("QR_MAX_AGE"), cfg.Sessions.MaxDuration+time.Minute),
	}

	cfg.Ledger = LedgerConfig{
		BaseURL:      strings.TrimRight(v.GetString("LEDGER_BASE_URL"), "/"),
		APIKey:       v.GetString("LEDGER_API_KEY"),
		Timeout:      parseDuration(v.GetString("LEDGER_TIMEOUT"), 10*time.Second),
		ResponseWait: parseDuration(v.GetString("LEDGER_RESPONSE_WAIT"), 3*time.Second),
		Workers:      v.GetInt("LEDGER_WORKERS"),
		BufferSize:   v.GetInt("LEDGER_BUFFER_SIZE"),
	}

	cfg.RateLimit = RateLimitConfig{
		RedeemPerMinute: v.GetInt("REDEEM_RATE_PER_MINUTE"),
		RedeemBurst:     v.GetInt("REDEEM_RATE_BURST"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lumina_attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SESSION_MIN_DURATION", "1m")
	v.SetDefault("SESSION_MAX_DURATION", "120m")
	v.SetDefault("SESSION_DEFAULT_DURATION", "15m")
	v.SetDefault("SESSION_LOCK_TTL", "5s")
	v.SetDefault("SESSION_LOCK_WAIT", "2s")

	v.SetDefault("QR_SIGNING_SECRET", "")
	v.SetDefault("QR_MAX_AGE", "")

	v.SetDefault("LEDGER_BASE_URL", "")
	v.SetDefault("LEDGER_API_KEY", "")
	v.SetDefault("LEDGER_TIMEOUT", "10s")
	v.SetDefault("LEDGER_RESPONSE_WAIT", "3s")
	v.SetDefault("LEDGER_WORKERS", 4)
	v.SetDefault("LEDGER_BUFFER_SIZE", 64)

	v.SetDefault("REDEEM_RATE_PER_MINUTE", 30)
	v.SetDefault("REDEEM_RATE_BURST", 10)
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
