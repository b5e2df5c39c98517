package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`
	DBPath   string `envconfig:"DB_PATH" default:"./data/reminder.db"`
	RedisURL string `envconfig:"REDIS_URL" default:""` // empty disables the cache layer
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Read API.
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	APIToken      string `envconfig:"API_TOKEN" default:""` // empty disables auth
	APIRatePerMin int    `envconfig:"API_RATE_PER_MIN" default:"60"`

	// Profile defaults for first contact.
	DefaultTZ          string   `envconfig:"DEFAULT_TZ" default:"Asia/Tashkent"`
	DefaultRemindTimes []string `envconfig:"DEFAULT_REMIND_TIMES" default:"20:00"`

	// Scheduler engine.
	TickInterval    time.Duration `envconfig:"TICK_INTERVAL" default:"60s"`
	TickDeadline    time.Duration `envconfig:"TICK_DEADLINE" default:"45s"`
	FreshnessWindow time.Duration `envconfig:"FRESHNESS_WINDOW" default:"5m"`
	Workers         int           `envconfig:"WORKERS" default:"8"`

	// LeetCode client throttling and retries.
	LCTimeout     time.Duration `envconfig:"LC_TIMEOUT" default:"15s"`
	LCMaxAttempts int           `envconfig:"LC_MAX_ATTEMPTS" default:"3"`
	LCBaseDelay   time.Duration `envconfig:"LC_BASE_DELAY" default:"500ms"`
	LCMaxDelay    time.Duration `envconfig:"LC_MAX_DELAY" default:"5s"`
	LCRatePerSec  float64       `envconfig:"LC_RATE_PER_SEC" default:"2"`
	LCConcurrency int           `envconfig:"LC_CONCURRENCY" default:"4"`

	// Verification record retention.
	VerifyCacheTTL time.Duration `envconfig:"VERIFY_CACHE_TTL" default:"48h"`
	PruneAfterDays int           `envconfig:"PRUNE_AFTER_DAYS" default:"14"`
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
