package config

import (
	"errors"
	"io/fs"
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

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	BookingWindow BookingWindowConfig
	Waitlist      WaitlistConfig
	Notifications NotificationsConfig
	Capacity      CapacityConfig
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
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BookingWindowConfig holds the rolling "max N bookings of one type within D" rule.
type BookingWindowConfig struct {
	MaxBookings    int
	WindowDuration time.Duration
	GracePeriod    time.Duration
}

// WaitlistConfig drives invitation expiry and the background scheduler.
type WaitlistConfig struct {
	InviteTTL      time.Duration
	ExpiryInterval time.Duration
	SweepInterval  time.Duration
	LeaderLockKey  int64
	SchedulerOn    bool
}

// NotificationsConfig configures asynchronous delivery of enrollment events.
type NotificationsConfig struct {
	Enabled       bool
	NATSURL       string
	SubjectPrefix string
	Workers       int
	Retries       int
	RetryDelay    time.Duration
}

// CapacityConfig governs the read-side capacity cache.
type CapacityConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		TokenTTL: parseDuration(v.GetString("JWT_TOKEN_TTL"), 15*time.Minute),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.BookingWindow = BookingWindowConfig{
		MaxBookings:    v.GetInt("BOOKING_MAX_BOOKINGS"),
		WindowDuration: parseDuration(v.GetString("BOOKING_WINDOW_DURATION"), 28*24*time.Hour),
		GracePeriod:    parseDuration(v.GetString("BOOKING_GRACE_PERIOD"), 7*24*time.Hour),
	}

	cfg.Waitlist = WaitlistConfig{
		InviteTTL:      parseDuration(v.GetString("WAITLIST_INVITE_TTL"), 48*time.Hour),
		ExpiryInterval: parseDuration(v.GetString("WAITLIST_EXPIRY_INTERVAL"), 5*time.Minute),
		SweepInterval:  parseDuration(v.GetString("WAITLIST_SWEEP_INTERVAL"), time.Hour),
		LeaderLockKey:  v.GetInt64("WAITLIST_LEADER_LOCK_KEY"),
		SchedulerOn:    v.GetBool("ENABLE_WAITLIST_SCHEDULER"),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled:       v.GetBool("ENABLE_NOTIFICATIONS"),
		NATSURL:       v.GetString("NATS_URL"),
		SubjectPrefix: v.GetString("NOTIFICATIONS_SUBJECT_PREFIX"),
		Workers:       v.GetInt("NOTIFICATIONS_WORKERS"),
		Retries:       v.GetInt("NOTIFICATIONS_RETRIES"),
		RetryDelay:    parseDuration(v.GetString("NOTIFICATIONS_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Capacity = CapacityConfig{
		CacheEnabled: v.GetBool("ENABLE_CAPACITY_CACHE"),
		CacheTTL:     parseDuration(v.GetString("CAPACITY_CACHE_TTL"), time.Minute),
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
	v.SetDefault("DB_NAME", "trainings")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "training-enrollment-api")
	v.SetDefault("JWT_TOKEN_TTL", "15m")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BOOKING_MAX_BOOKINGS", 3)
	v.SetDefault("BOOKING_WINDOW_DURATION", "672h")
	v.SetDefault("BOOKING_GRACE_PERIOD", "168h")

	v.SetDefault("WAITLIST_INVITE_TTL", "48h")
	v.SetDefault("WAITLIST_EXPIRY_INTERVAL", "5m")
	v.SetDefault("WAITLIST_SWEEP_INTERVAL", "1h")
	v.SetDefault("WAITLIST_LEADER_LOCK_KEY", 734201)
	v.SetDefault("ENABLE_WAITLIST_SCHEDULER", true)

	v.SetDefault("ENABLE_NOTIFICATIONS", false)
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NOTIFICATIONS_SUBJECT_PREFIX", "trainings.enrollment")
	v.SetDefault("NOTIFICATIONS_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_RETRIES", 3)
	v.SetDefault("NOTIFICATIONS_RETRY_DELAY", "2s")

	v.SetDefault("ENABLE_CAPACITY_CACHE", false)
	v.SetDefault("CAPACITY_CACHE_TTL", "1m")
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
