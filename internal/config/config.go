package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string

	// StoreTimeout bounds every persistence call; a deadline hit is treated
	// as a storage error and the evaluation fails open.
	StoreTimeout time.Duration

	// ScoreWindow is the rolling span over which per-IP scores are summed.
	ScoreWindow time.Duration
	// BlacklistThreshold is the cumulative score at which an IP gets blocked.
	BlacklistThreshold int
	// BackoffSchedule holds ascending lockout durations indexed by prior
	// offenses within OffenseLookback; the last step repeats.
	BackoffSchedule []time.Duration
	OffenseLookback time.Duration

	ScoreFailedLogin int
	ScoreBadUsername int
	ScoreXMLRPC      int
	BadUsernames     []string

	RetentionDays int
	NotifyURL     string
}

// DefaultBadUsernames lists account names that brute-force tools try first.
var DefaultBadUsernames = []string{
	"admin", "administrator", "root", "user", "test", "guest", "demo",
	"webmaster", "sysadmin",
}

var defaultBackoffSchedule = []time.Duration{
	10 * time.Minute,
	time.Hour,
	6 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
}

// Load reads env vars and falls back to defaults so the engine can boot with
// zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:        getEnv("GATEKEEP_ENV", "development"),
		HTTPPort:           getEnv("GATEKEEP_HTTP_PORT", "8080"),
		DatabasePath:       getEnv("GATEKEEP_DB_PATH", filepath.Join("data", "gatekeep.db")),
		StoreTimeout:       getEnvDuration("GATEKEEP_STORE_TIMEOUT", 2*time.Second),
		ScoreWindow:        getEnvDuration("GATEKEEP_SCORE_WINDOW", time.Hour),
		BlacklistThreshold: getEnvInt("GATEKEEP_BLACKLIST_THRESHOLD", 3),
		BackoffSchedule:    getEnvDurations("GATEKEEP_BACKOFF_SCHEDULE", defaultBackoffSchedule),
		OffenseLookback:    getEnvDuration("GATEKEEP_OFFENSE_LOOKBACK", 7*24*time.Hour),
		ScoreFailedLogin:   getEnvInt("GATEKEEP_SCORE_FAILED_LOGIN", 1),
		ScoreBadUsername:   getEnvInt("GATEKEEP_SCORE_BAD_USERNAME", 1),
		ScoreXMLRPC:        getEnvInt("GATEKEEP_SCORE_XMLRPC", 10),
		BadUsernames:       getEnvList("GATEKEEP_BAD_USERNAMES", DefaultBadUsernames),
		RetentionDays:      getEnvInt("GATEKEEP_RETENTION_DAYS", 90),
		NotifyURL:          getEnv("GATEKEEP_NOTIFY_URL", ""),
	}

	if cfg.BlacklistThreshold < 1 {
		return Config{}, fmt.Errorf("blacklist threshold must be positive, got %d", cfg.BlacklistThreshold)
	}
	if len(cfg.BackoffSchedule) == 0 {
		return Config{}, fmt.Errorf("backoff schedule must have at least one step")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}

	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}

	return fallback
}

func getEnvDurations(key string, fallback []time.Duration) []time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	var out []time.Duration
	for _, part := range strings.Split(val, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d <= 0 {
			return fallback
		}
		out = append(out, d)
	}

	return out
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}

	return out
}
