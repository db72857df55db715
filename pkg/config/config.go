package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Evaluation modes for the trading pipeline.
const (
	EvalBarOnly   = "bar_only"   // strategies fire on completed bars, fills at bar close
	EvalTickGated = "tick_gated" // second price feed runs; fills use the latest tick price
)

// Config holds environment-driven settings for the paper-trading core.
type Config struct {
	Port string

	// Database
	DBPath string

	// CoinDCX endpoints
	CoinDCXBaseURL string
	CoinDCXWSURL   string
	UseMockFeed    bool // synthetic random-walk feed instead of the live stream

	// Trading
	InitialBalance float64 // wallet seed for newly registered users
	FeeRate        float64 // decimal (0.001 = 10 bps)
	BuyFraction    float64 // share of available balance per BUY when qty not given
	EvalMode       string  // bar_only or tick_gated

	// Session lifecycle
	IdleTTL       time.Duration // stale threshold before the sweeper may stop a session
	SweepInterval time.Duration

	// Market hours (local-exchange time, fixed offset from UTC)
	MarketOpen      string // "09:15"
	MarketClose     string // "15:30"
	MarketUTCOffset time.Duration

	// Strategy presets
	StrategyPresetPath string

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	mode := strings.ToLower(getEnv("EVAL_MODE", EvalBarOnly))
	if mode != EvalBarOnly && mode != EvalTickGated {
		mode = EvalBarOnly
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DBPath:             getEnv("DB_PATH", "./data/papertrade.db"),
		CoinDCXBaseURL:     getEnv("COINDCX_BASE_URL", "https://api.coindcx.com"),
		CoinDCXWSURL:       getEnv("COINDCX_WS_URL", "wss://stream.coindcx.com/ws"),
		UseMockFeed:        getEnvBool("USE_MOCK_FEED", false),
		InitialBalance:     getEnvFloat("INITIAL_BALANCE", 1000.0),
		FeeRate:            getEnvFloat("FEE_RATE", 0.001),
		BuyFraction:        getEnvFloat("BUY_FRACTION", 0.1),
		EvalMode:           mode,
		IdleTTL:            getEnvDuration("SESSION_IDLE_TTL", 24*time.Hour),
		SweepInterval:      getEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour),
		MarketOpen:         getEnv("MARKET_OPEN", "09:15"),
		MarketClose:        getEnv("MARKET_CLOSE", "15:30"),
		MarketUTCOffset:    getEnvDuration("MARKET_UTC_OFFSET", 5*time.Hour+30*time.Minute),
		StrategyPresetPath: getEnv("STRATEGY_PRESET_PATH", "strategies.yaml"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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
