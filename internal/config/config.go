package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string        `validate:"required"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`

	GTFSURL            string        `validate:"required,url"`
	GTFSUpdateInterval time.Duration `validate:"gt=0"`
	GTFSCacheDir       string

	PositionsURL      string        `validate:"required,url"`
	PositionsFormat   string        `validate:"oneof=gtfsrt json"`
	PollInterval      time.Duration `validate:"gt=0"`
	VehicleStaleAfter time.Duration `validate:"gte=0"`
	ServiceTimezone   string        `validate:"required,timezone"`
	ServiceLocation   *time.Location

	RedisEnabled  bool
	RedisAddr     string `validate:"required_if=RedisEnabled true"`
	RedisPassword string
	RedisDB       int           `validate:"gte=0"`
	CacheTTL      time.Duration `validate:"gt=0"`

	NATSURL           string `validate:"omitempty,url"`
	NATSSubjectPrefix string `validate:"required_with=NATSURL"`
	JourneysFile      string

	RateLimitPerWindow int           `validate:"gt=0"`
	RateLimitWindow    time.Duration `validate:"gt=0"`
	RateLimitWhitelist []string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present; variables already set
// take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		GTFSURL:            getEnv("GTFS_URL", "https://api.data.gov.my/gtfs-static/ktmb"),
		GTFSUpdateInterval: getDurationEnv("GTFS_UPDATE_INTERVAL", time.Hour),
		GTFSCacheDir:       getEnv("GTFS_CACHE_DIR", ""),

		PositionsURL:      getEnv("POSITIONS_URL", "https://api.data.gov.my/gtfs-realtime/vehicle-position/ktmb"),
		PositionsFormat:   strings.ToLower(getEnv("POSITIONS_FORMAT", "gtfsrt")),
		PollInterval:      getDurationEnv("POLL_INTERVAL", 15*time.Second),
		VehicleStaleAfter: getDurationEnv("VEHICLE_STALE_AFTER", 5*time.Minute),
		ServiceTimezone:   getEnv("SERVICE_TIMEZONE", "Asia/Kuala_Lumpur"),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		CacheTTL:      getDurationEnv("CACHE_TTL", 24*time.Hour),

		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "ktmtrack.journeys"),
		JourneysFile:      getEnv("JOURNEYS_FILE", ""),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loc, err := time.LoadLocation(cfg.ServiceTimezone)
	if err != nil {
		return nil, fmt.Errorf("SERVICE_TIMEZONE: %w", err)
	}
	cfg.ServiceLocation = loc

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
