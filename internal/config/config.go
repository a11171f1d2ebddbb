package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr        string
	EditToken   string
	DataDir     string
	DefaultFile string
	CORSOrigin  string
	// Redis fanout for multi-instance live sync; empty disables it.
	RedisURL string
	// Git-backed write history; empty disables it.
	HistoryDir string
	Debug      bool
}

func Load() Config {
	return Config{
		Addr:        ":" + getenv("PORT", "3000"),
		EditToken:   getenv("EDIT_TOKEN", "changeme"),
		DataDir:     getenv("DATA_DIR", "./data"),
		DefaultFile: getenv("DEFAULT_FILE", "./default.json"),
		CORSOrigin:  getenv("CORS_ORIGIN", "*"),
		RedisURL:    getenv("REDIS_URL", ""),
		HistoryDir:  getenv("HISTORY_DIR", ""),
		Debug:       getenvInt("DEBUG", 0) != 0,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
