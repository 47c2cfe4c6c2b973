package app

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	TorrentDataDir     string
	StorageMode        string
	MemoryLimitBytes   int64
	MemorySpillDir     string
	MaxSessions        int // 0 = unlimited
	ReadaheadBytes     int64
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TorrentDataDir:     getEnv("TORRENT_DATA_DIR", "data"),
		StorageMode:        strings.ToLower(getEnv("TORRENT_STORAGE_MODE", "disk")),
		MemoryLimitBytes:   getEnvInt64("TORRENT_MEMORY_LIMIT_BYTES", 0),
		MemorySpillDir:     getEnv("TORRENT_MEMORY_SPILL_DIR", ""),
		MaxSessions:        int(getEnvInt64("TORRENT_MAX_SESSIONS", 0)),
		ReadaheadBytes:     getEnvInt64("STREAM_READAHEAD_BYTES", 8<<20),
		RateLimitRPS:       getEnvFloat("HTTP_RATE_LIMIT_RPS", 50),
		RateLimitBurst:     int(getEnvInt64("HTTP_RATE_LIMIT_BURST", 100)),
		CORSAllowedOrigins: parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func parseCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
