package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	Logger LoggerConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	Imagery ImageryConfig
}

type LoggerConfig struct {
	Level string
}

// ImageryConfig configures the external imagery-processing service.
type ImageryConfig struct {
	TokenURL     string
	ProcessURL   string
	ClientID     string
	ClientSecret string
	Source       string
	RequestTimeout time.Duration
	ResultTTL      time.Duration
	TileWidth      int
	TileHeight     int
	CostPerCall    float64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "fieldscope"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "fieldscope"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),
		RedisAddr:         getenv("REDIS_ADDR", ""),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		Imagery: ImageryConfig{
			TokenURL:       getenv("IMAGERY_TOKEN_URL", "https://services.sentinel-hub.com/oauth/token"),
			ProcessURL:     getenv("IMAGERY_PROCESS_URL", "https://services.sentinel-hub.com/api/v1/process"),
			ClientID:       strings.TrimSpace(getenv("IMAGERY_CLIENT_ID", "")),
			ClientSecret:   strings.TrimSpace(getenv("IMAGERY_CLIENT_SECRET", "")),
			Source:         getenv("IMAGERY_SOURCE", "Sentinel-2 L2A"),
			RequestTimeout: getenvDuration("IMAGERY_REQUEST_TIMEOUT", 30*time.Second),
			ResultTTL:      getenvDuration("IMAGERY_RESULT_TTL", time.Hour),
			TileWidth:      getenvInt("IMAGERY_TILE_WIDTH", 64),
			TileHeight:     getenvInt("IMAGERY_TILE_HEIGHT", 64),
			CostPerCall:    getenvFloat("IMAGERY_COST_PER_CALL", 1.0),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

// Module wires application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewQuotaConfigHolder),
)
