package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the availability checker
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Browser  BrowserConfig
	Checker  CheckerConfig
	Run      RunConfig
	Schedule ScheduleConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Name        string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	ProgressChan   string
	RelayInterval  time.Duration
	RelayBatchSize int
}

// NATSConfig is optional; an empty URL disables the NATS progress bridge.
type NATSConfig struct {
	URL     string
	Subject string
}

// BrowserConfig holds browser configuration
type BrowserConfig struct {
	ProfileDir     string
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	UserAgent      string
}

// CheckerConfig holds listing check configuration
type CheckerConfig struct {
	MarketplaceDomain string
	QueryParams       string
	NavigationTimeout time.Duration
	TitleTimeout      time.Duration
}

// RunConfig holds run pacing configuration
type RunConfig struct {
	PauseMin       time.Duration
	PauseMax       time.Duration
	PauseAfterLast bool
	EventBuffer    int
}

// ScheduleConfig holds an optional cron expression for recurring runs.
type ScheduleConfig struct {
	Cron string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8084),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 0),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Database: DatabaseConfig{
			Host:        getEnvOrDefault("DB_HOST", "localhost"),
			Port:        getIntOrDefault("DB_PORT", 5432),
			User:        getEnvOrDefault("DB_USER", "postgres"),
			Password:    getEnvOrDefault("DB_PASSWORD", ""),
			Name:        getEnvOrDefault("DB_NAME", "vendor_dashboard"),
			SSLMode:     getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns:    int32(getIntOrDefault("DB_MAX_CONNS", 5)),
			MinConns:    int32(getIntOrDefault("DB_MIN_CONNS", 1)),
			MaxConnLife: getDurationOrDefault("DB_MAX_CONN_LIFE", time.Hour),
			MaxConnIdle: getDurationOrDefault("DB_MAX_CONN_IDLE", 10*time.Minute),
		},
		Redis: RedisConfig{
			Addr:           getEnvOrDefault("REDIS_ADDR", ""),
			Password:       getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:             getIntOrDefault("REDIS_DB", 0),
			ProgressChan:   getEnvOrDefault("REDIS_PROGRESS_CHANNEL", "scraper:events"),
			RelayInterval:  getDurationOrDefault("REDIS_RELAY_INTERVAL", 5*time.Second),
			RelayBatchSize: getIntOrDefault("REDIS_RELAY_BATCH_SIZE", 100),
		},
		NATS: NATSConfig{
			URL:     getEnvOrDefault("NATS_URL", ""),
			Subject: getEnvOrDefault("NATS_PROGRESS_SUBJECT", "scraper.events"),
		},
		Browser: BrowserConfig{
			ProfileDir:     getEnvOrDefault("BROWSER_PROFILE_DIR", "./browser-profile"),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
		},
		Checker: CheckerConfig{
			MarketplaceDomain: getEnvOrDefault("CHECKER_MARKETPLACE_DOMAIN", "www.amazon.com"),
			QueryParams:       getEnvOrDefault("CHECKER_QUERY_PARAMS", "th=1&psc=1"),
			NavigationTimeout: getDurationOrDefault("CHECKER_NAVIGATION_TIMEOUT", 45*time.Second),
			TitleTimeout:      getDurationOrDefault("CHECKER_TITLE_TIMEOUT", 5*time.Second),
		},
		Run: RunConfig{
			PauseMin:       getDurationOrDefault("RUN_PAUSE_MIN", 3*time.Second),
			PauseMax:       getDurationOrDefault("RUN_PAUSE_MAX", 3*time.Second),
			PauseAfterLast: getBoolOrDefault("RUN_PAUSE_AFTER_LAST", true),
			EventBuffer:    getIntOrDefault("RUN_EVENT_BUFFER", 64),
		},
		Schedule: ScheduleConfig{
			Cron: getEnvOrDefault("SCHEDULE_CRON", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Browser.ProfileDir == "" {
		return fmt.Errorf("BROWSER_PROFILE_DIR is required")
	}

	if c.Checker.MarketplaceDomain == "" {
		return fmt.Errorf("CHECKER_MARKETPLACE_DOMAIN is required")
	}

	if c.Checker.NavigationTimeout <= 0 || c.Checker.TitleTimeout <= 0 {
		return fmt.Errorf("checker timeouts must be positive")
	}

	if c.Run.PauseMin < 0 {
		return fmt.Errorf("RUN_PAUSE_MIN cannot be negative")
	}

	if c.Run.PauseMin > c.Run.PauseMax {
		return fmt.Errorf("RUN_PAUSE_MIN cannot be greater than RUN_PAUSE_MAX")
	}

	if c.Run.EventBuffer < 1 {
		return fmt.Errorf("RUN_EVENT_BUFFER must be at least 1")
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// ParseLevel maps LOG_LEVEL values onto slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
}

// NewLogger builds the process logger from the logging section.
func (l LoggingConfig) NewLogger() *slog.Logger {
	level, _ := ParseLevel(l.Level)
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
