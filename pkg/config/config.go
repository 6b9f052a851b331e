package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven process settings. Trading rules live in
// the engine file (see LoadEngine).
type Config struct {
	Port string

	// Logging
	LogLevel string
	LogJSON  bool

	// Engine file with symbols, risk limits and strategies
	EngineFile string

	// Market data
	FeedURL     string
	UseMockFeed bool
	Symbols     []string // overrides the engine file symbol list when set

	// Order manager
	QueueSize int
	PoolSize  int
	IDPrefix  string

	// Paper venue
	PaperSlippageBps  float64
	PaperLatencyMinMs int
	PaperLatencyMaxMs int

	// Database
	DBPath string

	// Risk reporting
	ReportPath     string
	ReportInterval time.Duration

	// Ops API
	JWTSecret    string
	APIRateLimit float64 // requests per second per client
	APIRateBurst int
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/execution.db")
	}

	return &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogJSON:           getEnv("LOG_JSON", "false") == "true",
		EngineFile:        getEnv("ENGINE_FILE", "./engine.yaml"),
		FeedURL:           getEnv("FEED_URL", ""),
		UseMockFeed:       getEnv("USE_MOCK_FEED", "true") == "true",
		Symbols:           splitAndTrim(getEnv("SYMBOLS", "")),
		QueueSize:         getEnvInt("ORDER_QUEUE_SIZE", 1024),
		PoolSize:          getEnvInt("ORDER_POOL_SIZE", 4096),
		IDPrefix:          getEnv("ORDER_ID_PREFIX", "EC"),
		PaperSlippageBps:  getEnvFloat("PAPER_SLIPPAGE_BPS", 2),
		PaperLatencyMinMs: getEnvInt("PAPER_LATENCY_MIN_MS", 0),
		PaperLatencyMaxMs: getEnvInt("PAPER_LATENCY_MAX_MS", 0),
		DBPath:            dbPath,
		ReportPath:        getEnv("RISK_REPORT_PATH", "./data/risk_report.txt"),
		ReportInterval:    getEnvDuration("RISK_REPORT_INTERVAL", time.Minute),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		APIRateLimit:      getEnvFloat("API_RATE_LIMIT", 20),
		APIRateBurst:      getEnvInt("API_RATE_BURST", 40),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToUpper(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
