// Package config loads runtime settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/basculapp/fieldsync/internal/errors"
	"github.com/basculapp/fieldsync/internal/logging"
)

// Config holds every tunable the sync core needs.
type Config struct {
	// DataDir holds the sqlite database and local photos.
	DataDir string
	// APIBaseURL is the reception API root.
	APIBaseURL string
	// APIToken is the bearer token for the reception API.
	APIToken string

	LogLevel string
	// LogFile enables rotating file output when set; empty logs to stdout.
	LogFile string

	MaxRetries int
	BatchSize  int
	// OpDelay spaces consecutive operations within a drain.
	OpDelay time.Duration

	// Debounce absorbs connectivity flapping before a scheduled sync fires.
	Debounce time.Duration
	// MinSyncInterval is the floor between automatic syncs.
	MinSyncInterval time.Duration
	// MinScore is the connectivity score required for automatic sync.
	MinScore int
	// StabilityTimeout bounds the wait for the link to settle.
	StabilityTimeout time.Duration
	// ProbeInterval spaces connectivity samples.
	ProbeInterval time.Duration
	// PeriodicInterval spaces background catch-up syncs.
	PeriodicInterval time.Duration

	// RetentionDays bounds how long synced records and audit rows are kept.
	RetentionDays int
}

// Load reads configuration from a .env file when present, then the process
// environment. Unset values fall back to defaults suitable for a field
// terminal.
func Load() (*Config, error) {
	// A missing .env file is normal outside development.
	if err := godotenv.Load(); err == nil {
		logging.Debug("Loaded .env file")
	}

	cfg := &Config{
		DataDir:          getEnv("FIELDSYNC_DATA_DIR", "./data"),
		APIBaseURL:       getEnv("FIELDSYNC_API_URL", "http://localhost:5000"),
		APIToken:         os.Getenv("FIELDSYNC_API_TOKEN"),
		LogLevel:         getEnv("FIELDSYNC_LOG_LEVEL", "info"),
		LogFile:          os.Getenv("FIELDSYNC_LOG_FILE"),
		MaxRetries:       getEnvInt("FIELDSYNC_MAX_RETRIES", 3),
		BatchSize:        getEnvInt("FIELDSYNC_BATCH_SIZE", 20),
		OpDelay:          getEnvDuration("FIELDSYNC_OP_DELAY", 250*time.Millisecond),
		Debounce:         getEnvDuration("FIELDSYNC_DEBOUNCE", 3*time.Second),
		MinSyncInterval:  getEnvDuration("FIELDSYNC_MIN_SYNC_INTERVAL", 30*time.Second),
		MinScore:         getEnvInt("FIELDSYNC_MIN_SCORE", 50),
		StabilityTimeout: getEnvDuration("FIELDSYNC_STABILITY_TIMEOUT", 10*time.Second),
		ProbeInterval:    getEnvDuration("FIELDSYNC_PROBE_INTERVAL", 30*time.Second),
		PeriodicInterval: getEnvDuration("FIELDSYNC_PERIODIC_INTERVAL", 15*time.Minute),
		RetentionDays:    getEnvInt("FIELDSYNC_RETENTION_DAYS", 30),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxRetries < 1 {
		return errors.New(errors.ErrInvalid, "FIELDSYNC_MAX_RETRIES must be at least 1")
	}
	if c.BatchSize < 1 {
		return errors.New(errors.ErrInvalid, "FIELDSYNC_BATCH_SIZE must be at least 1")
	}
	if c.MinScore < 0 || c.MinScore > 100 {
		return errors.New(errors.ErrInvalid, "FIELDSYNC_MIN_SCORE must be between 0 and 100")
	}
	if c.RetentionDays < 1 {
		return errors.New(errors.ErrInvalid, "FIELDSYNC_RETENTION_DAYS must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warn("Ignoring unparseable setting", map[string]interface{}{
			"key": key, "value": v,
		})
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logging.Warn("Ignoring unparseable setting", map[string]interface{}{
			"key": key, "value": v,
		})
		return fallback
	}
	return d
}
