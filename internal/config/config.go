package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"

	BrokerDriverPostgres = "postgres"
	BrokerDriverRedis    = "redis"
	BrokerDriverMemory   = "memory"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	BrokerDriver string
	RedisURL     string

	JWTSecret          string
	AccessTokenMinutes int

	CORSOrigins []string
	LogLevel    string
	Debug       bool

	FeedLimit         int
	LiveFriendsWindow time.Duration
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbUser := getEnv("POSTGRES_USER", "postgres")
	dbPass := getEnv("POSTGRES_PASSWORD", "postgres")
	dbName := getEnv("POSTGRES_DB", "circle")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=disable",
	}

	cfg := &Config{
		AppName: getEnv("APP_NAME", "Circle API"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL: u.String(),
		SQLitePath:  getEnv("SQLITE_PATH", "circle.db"),

		BrokerDriver: strings.ToLower(getEnv("BROKER_DRIVER", "")),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Debug:    getEnvAsBool("DEBUG", true),

		FeedLimit:         getEnvAsInt("FEED_LIMIT", 50),
		LiveFriendsWindow: time.Duration(getEnvAsInt("LIVE_FRIENDS_WINDOW_MINUTES", 120)) * time.Minute,
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.BrokerDriver == "" {
		if cfg.StoreDriver == StoreDriverPostgres {
			cfg.BrokerDriver = BrokerDriverPostgres
		} else {
			cfg.BrokerDriver = BrokerDriverMemory
		}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverSQLite:
	default:
		return nil, fmt.Errorf("STORE_DRIVER %q is not supported", cfg.StoreDriver)
	}
	switch cfg.BrokerDriver {
	case BrokerDriverPostgres:
		if cfg.StoreDriver != StoreDriverPostgres {
			return nil, fmt.Errorf("BROKER_DRIVER postgres needs STORE_DRIVER postgres")
		}
	case BrokerDriverRedis, BrokerDriverMemory:
		// Postgres writes are only observed through its own NOTIFY triggers.
		if cfg.StoreDriver == StoreDriverPostgres {
			return nil, fmt.Errorf("BROKER_DRIVER %s needs STORE_DRIVER sqlite", cfg.BrokerDriver)
		}
	default:
		return nil, fmt.Errorf("BROKER_DRIVER %q is not supported", cfg.BrokerDriver)
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
