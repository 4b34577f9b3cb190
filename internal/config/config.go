package config // package config loads application configuration from environment variables

import (
	"log" // log is used to report configuration errors and halt execution
	"os"  // os provides access to environment variables
	"time"
)

// Config holds all runtime configuration values. Each field corresponds
// to an environment variable. Required variables are enforced by must()
// at startup so a misconfigured deployment fails fast instead of
// limping along with defaults.
type Config struct {
	Env           string        // application environment (e.g. "dev", "prod")
	Port          string        // HTTP port to listen on
	DBUser        string        // database username
	DBPass        string        // database password (optional)
	DBHost        string        // database host address
	DBPort        string        // database port number
	DBName        string        // database name
	JWTSecret     string        // secret used to verify client JWTs
	WebhookSecret string        // shared secret for payment webhook callbacks (optional)
	HoldTTL       time.Duration // default seat hold duration
	HoldTTLMax    time.Duration // ceiling for client overrides and deferred-payment extension
	SweepInterval time.Duration // reconciliation sweep cadence
	ProjectionTTL time.Duration // availability snapshot cache lifetime
	LockTTL       time.Duration // per-seat distributed lock lease
}

// Load reads configuration values from environment variables and returns
// a Config. Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message. Durations accept
// Go duration syntax ("15m", "10s").
func Load() Config {
	return Config{
		Env:           must("APP_ENV"),
		Port:          must("APP_PORT"),
		DBUser:        must("DB_USER"),
		DBPass:        os.Getenv("DB_PASS"), // empty allowed
		DBHost:        must("DB_HOST"),
		DBPort:        must("DB_PORT"),
		DBName:        must("DB_NAME"),
		JWTSecret:     must("JWT_SECRET"),
		WebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		HoldTTL:       envDur("HOLD_TTL", 15*time.Minute),
		HoldTTLMax:    envDur("HOLD_TTL_MAX", 20*time.Minute),
		SweepInterval: envDur("SWEEP_INTERVAL", 10*time.Second),
		ProjectionTTL: envDur("PROJECTION_TTL", 5*time.Minute),
		LockTTL:       envDur("SEAT_LOCK_TTL", 1500*time.Millisecond),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
