// Package config loads and validates environment-driven settings for the
// trading core.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting the trading core reads at
// startup. Nothing here is reloaded at runtime; a config change requires a
// restart.
type Config struct {
	// Venue credentials
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string

	// Instrument universe
	Symbols        []string
	CandleInterval string
	QuoteAsset     string

	// Risk
	RiskPerTradePct      float64
	MaxDailyLossPct      float64
	MaxPositionLossPct   float64
	MaxDrawdownPct       float64
	MaxSymbolExposurePct float64
	MaxSlippagePct       float64
	MaxPositions         int
	MinLiquidity         float64
	MinQuoteReserve      float64
	LossCooldown         time.Duration
	MinOrderSize         float64
	MaxOrderSize         float64

	// TWAP / order routing
	TWAPThreshold float64
	TWAPChunks    int
	TWAPInterval  time.Duration

	// Orchestration
	CycleSchedule           string // cron spec, e.g. "@every 1m"
	PositionPollInterval    time.Duration
	OrderStatusPollInterval time.Duration

	// Emergency
	KillSwitchPath string

	// Persistence
	DBPath    string
	AuditPath string

	// Execution
	DryRun           bool
	ExecutionEnabled bool
}

var symbolPattern = regexp.MustCompile(`^[A-Z]{6,12}$`)

// Load reads environment variables (optionally from a .env file) into a
// Config and validates it. All validation failures are collected and
// returned together via errors.Join so a misconfigured deployment fails
// once, loudly, with every problem listed.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BinanceTestnet:   getBool("BINANCE_TESTNET", false),
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		Symbols:          splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		CandleInterval:   getEnv("CANDLE_INTERVAL", "5m"),
		QuoteAsset:       getEnv("QUOTE_ASSET", "USDT"),

		RiskPerTradePct:      getFloat("RISK_PER_TRADE_PCT", 1.0),
		MaxDailyLossPct:      getFloat("MAX_DAILY_LOSS_PCT", 5.0),
		MaxPositionLossPct:   getFloat("MAX_POSITION_LOSS_PCT", 3.0),
		MaxDrawdownPct:       getFloat("MAX_DRAWDOWN_PCT", 10.0),
		MaxSymbolExposurePct: getFloat("MAX_SYMBOL_EXPOSURE_PCT", 30.0),
		MaxSlippagePct:       getFloat("MAX_SLIPPAGE_PCT", 1.0),
		MaxPositions:         getInt("MAX_POSITIONS", 5),
		MinLiquidity:         getFloat("MIN_LIQUIDITY", 10000.0),
		MinQuoteReserve:      getFloat("MIN_QUOTE_RESERVE", 50.0),
		LossCooldown:         getDuration("LOSS_COOLDOWN", 5*time.Minute),
		MinOrderSize:         getFloat("MIN_ORDER_SIZE", 10.0),
		MaxOrderSize:         getFloat("MAX_ORDER_SIZE", 5000.0),

		TWAPThreshold: getFloat("TWAP_THRESHOLD", 2000.0),
		TWAPChunks:    getInt("TWAP_CHUNKS", 5),
		TWAPInterval:  getDuration("TWAP_INTERVAL", 30*time.Second),

		CycleSchedule:           getEnv("CYCLE_SCHEDULE", "@every 1m"),
		PositionPollInterval:    getDuration("POSITION_POLL_INTERVAL", 5*time.Second),
		OrderStatusPollInterval: getDuration("ORDER_STATUS_POLL_INTERVAL", 2*time.Second),

		KillSwitchPath: getEnv("KILL_SWITCH_PATH", "./data/HALT"),

		DBPath:    getEnv("DB_PATH", "./data/trading.db"),
		AuditPath: getEnv("AUDIT_PATH", "./data/audit.log"),

		DryRun:           getBool("DRY_RUN", true),
		ExecutionEnabled: getBool("EXECUTION_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate aggregates every rule from the configuration contract into a
// single joined error so a misconfigured deployment is told everything
// wrong with it at once, not one field at a time across repeated restarts.
func (c *Config) validate() error {
	var errs []error

	if len(c.Symbols) == 0 {
		errs = append(errs, errors.New("SYMBOLS: at least one instrument is required"))
	}
	for _, s := range c.Symbols {
		if !symbolPattern.MatchString(s) {
			errs = append(errs, fmt.Errorf("SYMBOLS: %q is not 6-12 uppercase letters", s))
		}
	}

	if c.RiskPerTradePct <= 0 || c.RiskPerTradePct > 100 {
		errs = append(errs, fmt.Errorf("RISK_PER_TRADE_PCT: %.4f out of bounds (0,100]", c.RiskPerTradePct))
	}
	if c.MaxDailyLossPct <= 0 || c.MaxDailyLossPct > 100 {
		errs = append(errs, fmt.Errorf("MAX_DAILY_LOSS_PCT: %.4f out of bounds (0,100]", c.MaxDailyLossPct))
	}
	if c.MaxPositionLossPct <= 0 || c.MaxPositionLossPct > 100 {
		errs = append(errs, fmt.Errorf("MAX_POSITION_LOSS_PCT: %.4f out of bounds (0,100]", c.MaxPositionLossPct))
	}
	if c.MaxDrawdownPct <= 0 || c.MaxDrawdownPct > 100 {
		errs = append(errs, fmt.Errorf("MAX_DRAWDOWN_PCT: %.4f out of bounds (0,100]", c.MaxDrawdownPct))
	}
	if c.MaxSymbolExposurePct <= 0 || c.MaxSymbolExposurePct > 100 {
		errs = append(errs, fmt.Errorf("MAX_SYMBOL_EXPOSURE_PCT: %.4f out of bounds (0,100]", c.MaxSymbolExposurePct))
	}
	if c.MaxSlippagePct <= 0 || c.MaxSlippagePct > 100 {
		errs = append(errs, fmt.Errorf("MAX_SLIPPAGE_PCT: %.4f out of bounds (0,100]", c.MaxSlippagePct))
	}
	if c.MaxPositions < 1 {
		errs = append(errs, fmt.Errorf("MAX_POSITIONS: %d must be at least 1", c.MaxPositions))
	}
	if c.MinLiquidity < 0 {
		errs = append(errs, fmt.Errorf("MIN_LIQUIDITY: %.4f must not be negative", c.MinLiquidity))
	}
	if c.MinQuoteReserve < 0 {
		errs = append(errs, fmt.Errorf("MIN_QUOTE_RESERVE: %.4f must not be negative", c.MinQuoteReserve))
	}
	if c.MinOrderSize <= 0 {
		errs = append(errs, fmt.Errorf("MIN_ORDER_SIZE: %.4f must be positive", c.MinOrderSize))
	}
	if c.MaxOrderSize <= c.MinOrderSize {
		errs = append(errs, fmt.Errorf("MAX_ORDER_SIZE: %.4f must exceed MIN_ORDER_SIZE %.4f", c.MaxOrderSize, c.MinOrderSize))
	}
	if c.TWAPChunks < 2 {
		errs = append(errs, fmt.Errorf("TWAP_CHUNKS: %d must be at least 2", c.TWAPChunks))
	}

	if !c.DryRun {
		if len(c.BinanceAPIKey) < 20 || isPlaceholder(c.BinanceAPIKey) {
			errs = append(errs, errors.New("BINANCE_API_KEY: missing or looks like a placeholder"))
		}
		if len(c.BinanceAPISecret) < 20 || isPlaceholder(c.BinanceAPISecret) {
			errs = append(errs, errors.New("BINANCE_API_SECRET: missing or looks like a placeholder"))
		}
	}

	return errors.Join(errs...)
}

func isPlaceholder(v string) bool {
	lower := strings.ToLower(v)
	return strings.Contains(lower, "changeme") || strings.Contains(lower, "your_api_key") || strings.Contains(lower, "xxxxxxxx")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true")
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(strings.ToUpper(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
