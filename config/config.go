package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}
}

type Config struct {
	RedisAddr string
	RedisPwd  string
	WebOrigin string

	IdentityBaseURL string
	CatalogBaseURL  string

	PeerCallTimeout     time.Duration
	BreakerWindow       int
	BreakerThreshold    float64
	BreakerMinRequests  int
	BreakerResetTimeout time.Duration
	CacheTTL            time.Duration

	Port string
}

func Load() Config {
	get := func(k, def string) string {
		v := os.Getenv(k)
		if v == "" {
			return def
		}
		return v
	}
	getInt := func(k string, def int) int {
		if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
			return n
		}
		return def
	}
	getSec := func(k string, def time.Duration) time.Duration {
		if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
			return time.Duration(n) * time.Second
		}
		return def
	}

	threshold := 0.5
	if f, err := strconv.ParseFloat(os.Getenv("BREAKER_ERROR_THRESHOLD"), 64); err == nil {
		threshold = f
	}

	return Config{
		RedisAddr: get("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPwd:  os.Getenv("REDIS_PASSWORD"),
		WebOrigin: get("WEB_ORIGIN", "http://localhost:3000"),

		IdentityBaseURL: get("IDENTITY_SERVICE_URL", "http://localhost:8081"),
		CatalogBaseURL:  get("CATALOG_SERVICE_URL", "http://localhost:8082"),

		PeerCallTimeout:     getSec("PEER_TIMEOUT_SECONDS", 3*time.Second),
		BreakerWindow:       getInt("BREAKER_WINDOW", 10),
		BreakerThreshold:    threshold,
		BreakerMinRequests:  getInt("BREAKER_MIN_REQUESTS", 4),
		BreakerResetTimeout: getSec("BREAKER_RESET_SECONDS", 10*time.Second),
		CacheTTL:            getSec("PEER_CACHE_TTL_SECONDS", 5*time.Minute),

		Port: get("PORT", "8083"),
	}
}
