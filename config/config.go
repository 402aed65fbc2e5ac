package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	StorageType    string
	DataSourceName string
	PostgresURL    string
	S3BucketName   string
	DBMaxConns     int

	SaveDebounce   time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// Load reads the configuration from the environment. Variables from a .env
// file in the working directory are applied first without overriding the
// ones already set.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}

	return Config{
		StorageType:    getEnv("STORAGE_TYPE", "memory"),
		DataSourceName: getEnv("DATA_SOURCE_NAME", "codecollab.db"),
		PostgresURL:    os.Getenv("POSTGRES_URL"),
		S3BucketName:   os.Getenv("S3_BUCKET_NAME"),
		DBMaxConns:     getEnvInt("DB_MAX_CONNS", 4),
		SaveDebounce:   time.Duration(getEnvInt("SAVE_DEBOUNCE_MS", 2000)) * time.Millisecond,
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_MS", 10000)) * time.Millisecond,
		AllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getEnvInt falls back to def for unset, malformed or non-positive values.
func getEnvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		logrus.WithFields(logrus.Fields{"key": k, "value": v}).Warn("Ignoring invalid integer setting")
		return def
	}
	return i
}

func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
