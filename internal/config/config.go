package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// TonAPI
	TonAPIKey     string
	TonAPIBaseURL string

	// Ledger backend
	BackendBaseURL string
	BackendAPIKey  string

	// HTTP API
	ListenPort int

	// Database
	DBPath string

	// Payment
	TokenSymbol     string
	MerchantAddress string

	// Fixed message amounts. GasAmountTON is attached to the jetton wallet
	// call, ForwardAmountNano is forwarded to the recipient with the comment.
	GasAmountTON      string
	ForwardAmountNano int64

	// Wallet bridge request validity window
	SignatureWindow time.Duration

	// Exchange deposit expiry window
	DepositWindow time.Duration

	// Deposit watcher poll interval
	WatchInterval time.Duration
}

func Load() *Config {
	return &Config{
		// TonAPI
		TonAPIKey:     getEnv("TONAPI_API_KEY", ""),
		TonAPIBaseURL: strings.TrimSuffix(getEnv("TONAPI_BASE_URL", "https://tonapi.io/v2"), "/"),

		// Ledger backend
		BackendBaseURL: strings.TrimSuffix(getEnv("BACKEND_BASE_URL", ""), "/"),
		BackendAPIKey:  getEnv("BACKEND_API_KEY", ""),

		// HTTP API
		ListenPort: getEnvInt("LISTEN_PORT", 8080),

		// Database
		DBPath: getEnv("DB_PATH", "./checkout.db"),

		// Payment
		TokenSymbol:     getEnv("TOKEN_SYMBOL", "USDT"),
		MerchantAddress: getEnv("MERCHANT_ADDRESS", ""),

		GasAmountTON:      getEnv("GAS_AMOUNT_TON", "0.05"),
		ForwardAmountNano: getEnvInt64("FORWARD_AMOUNT_NANO", 1),

		SignatureWindow: getEnvDuration("SIGNATURE_WINDOW", 600*time.Second),
		DepositWindow:   getEnvDuration("DEPOSIT_WINDOW", 1800*time.Second),
		WatchInterval:   getEnvDuration("WATCH_INTERVAL", 10*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDuration accepts either plain seconds ("600") or a Go duration ("10m").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
