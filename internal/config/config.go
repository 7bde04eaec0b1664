package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr            string
	DBDSN               string
	JWTIssuer           string
	JWTSecret           string
	InternalToken       string
	RedisAddr           string
	QuoteFeedURL        string
	SweepInterval       time.Duration
	MarginCheckInterval time.Duration
	LockedQuoteMaxAge   time.Duration
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	// Optional: without redis the engine falls back to in-memory
	// throttle/cache, without a feed URL quotes arrive only via SetQuote.
	c.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	c.QuoteFeedURL = strings.TrimSpace(os.Getenv("QUOTE_FEED_URL"))

	var err error
	if c.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 5*time.Second); err != nil {
		return c, err
	}
	if c.MarginCheckInterval, err = durationEnv("MARGIN_CHECK_INTERVAL", 5*time.Second); err != nil {
		return c, err
	}
	if c.LockedQuoteMaxAge, err = durationEnv("LOCKED_QUOTE_MAX_AGE", 2*time.Second); err != nil {
		return c, err
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return d, nil
}
