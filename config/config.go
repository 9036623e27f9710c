package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string

	MongoURI             string
	MongoDB              string
	MongoUseTransactions bool

	RedisURL string

	JWTSecret string

	// eSewa ePay integration
	EsewaPaymentURL string
	EsewaStatusURL  string
	EsewaMerchant   string
	EsewaSecretKey  string
	GatewayTimeout  time.Duration

	FrontendURL string

	// Rate limiting (fixed window)
	PaymentRateLimit   int
	PaymentRateWindow  time.Duration
	CallbackRateLimit  int
	CallbackRateWindow time.Duration
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8085"),
		Environment: getEnv("ENVIRONMENT", "development"),

		MongoURI:             os.Getenv("MONGO_URI"),
		MongoDB:              getEnv("MONGO_DB", "kix"),
		MongoUseTransactions: getEnv("MONGO_USE_TRANSACTIONS", "false") == "true",

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		EsewaPaymentURL: getEnv("ESEWA_PAYMENT_URL", "https://rc-epay.esewa.com.np/api/epay/main/v2/form"),
		EsewaStatusURL:  getEnv("ESEWA_STATUS_URL", "https://rc.esewa.com.np/api/epay/transaction/status/"),
		EsewaMerchant:   os.Getenv("ESEWA_MERCHANT_CODE"),
		EsewaSecretKey:  os.Getenv("ESEWA_SECRET_KEY"),
		GatewayTimeout:  getDuration("GATEWAY_TIMEOUT", 15*time.Second),

		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		PaymentRateLimit:   getInt("PAYMENT_RATE_LIMIT", 10),
		PaymentRateWindow:  getDuration("PAYMENT_RATE_WINDOW", time.Minute),
		CallbackRateLimit:  getInt("CALLBACK_RATE_LIMIT", 60),
		CallbackRateWindow: getDuration("CALLBACK_RATE_WINDOW", time.Minute),
	}

	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGO_URI is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
