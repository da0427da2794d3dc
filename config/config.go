package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port             string
	Env              string
	DataDir          string
	LockDir          string
	MaxUploadSize    int64
	MinUploadSize    int64
	MinOutputSize    int64
	WorkerCount      int
	RetentionGrace   time.Duration
	TransformTimeout time.Duration
	SubsetterBin     string
}

func Load() *Config {
	return &Config{
		Port:             getEnv("SERVICE_PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DataDir:          getEnv("DATA_DIR", "data/blobs"),
		LockDir:          getEnv("LOCK_DIR", "data/locks"),
		MaxUploadSize:    getEnvAsInt64("MAX_UPLOAD_SIZE", 16*1024*1024),
		MinUploadSize:    getEnvAsInt64("MIN_UPLOAD_SIZE", 1024),
		MinOutputSize:    getEnvAsInt64("MIN_OUTPUT_SIZE", 256),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 4),
		RetentionGrace:   getEnvAsDuration("RETENTION_GRACE", 10*time.Minute),
		TransformTimeout: getEnvAsDuration("TRANSFORM_TIMEOUT", 2*time.Minute),
		SubsetterBin:     getEnv("SUBSETTER_BIN", "hb-subset"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
