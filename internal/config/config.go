// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string // empty disables the gRPC health server
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration
	LogLevel    slog.Level
	Question    QuestionConfig
	Battle      BattleConfig
	Retry       RetryConfig
	Timeout     TimeoutConfig
}

// QuestionConfig controls the remote question generator.
type QuestionConfig struct {
	APIURL        string // empty serves the built-in bank only
	Timeout       time.Duration
	MaxAttempts   int
	RetryDelay    time.Duration
	RatePerMinute int
}

// BattleConfig holds the default combatant stats and pacing.
type BattleConfig struct {
	PlayerMaxHP      int
	PlayerAttack     int
	OpponentMaxHP    int
	OpponentAttack   int
	CounterAttack    bool
	CounterDelay     time.Duration
	TerminationDelay time.Duration
	EndDelay         time.Duration
}

// RetryConfig controls SQLite busy retries.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// TimeoutConfig holds operation timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "9090"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/battle.db"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 60*time.Minute),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		Question: QuestionConfig{
			APIURL:        strings.TrimRight(getEnv("QUESTION_API_URL", ""), "/"),
			Timeout:       getEnvDuration("QUESTION_API_TIMEOUT", 10*time.Second),
			MaxAttempts:   getEnvInt("QUESTION_MAX_ATTEMPTS", 3),
			RetryDelay:    getEnvDuration("QUESTION_RETRY_DELAY", time.Second),
			RatePerMinute: getEnvInt("QUESTION_RATE_PER_MINUTE", 60),
		},
		Battle: BattleConfig{
			PlayerMaxHP:      getEnvInt("BATTLE_PLAYER_MAX_HP", 40),
			PlayerAttack:     getEnvInt("BATTLE_PLAYER_ATTACK", 20),
			OpponentMaxHP:    getEnvInt("BATTLE_OPPONENT_MAX_HP", 120),
			OpponentAttack:   getEnvInt("BATTLE_OPPONENT_ATTACK", 10),
			CounterAttack:    getEnvBool("BATTLE_COUNTER_ATTACK", false),
			CounterDelay:     getEnvDuration("BATTLE_COUNTER_DELAY", time.Second),
			TerminationDelay: getEnvDuration("BATTLE_TERMINATION_DELAY", 300*time.Millisecond),
			EndDelay:         getEnvDuration("BATTLE_END_DELAY", time.Second),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be > 0"))
	}
	if c.Question.MaxAttempts <= 0 {
		errs = append(errs, errors.New("QUESTION_MAX_ATTEMPTS must be > 0"))
	}
	if c.Question.RetryDelay < 0 {
		errs = append(errs, errors.New("QUESTION_RETRY_DELAY cannot be negative"))
	}
	if c.Question.RatePerMinute < 0 {
		errs = append(errs, errors.New("QUESTION_RATE_PER_MINUTE cannot be negative"))
	}
	if c.Battle.PlayerMaxHP <= 0 || c.Battle.OpponentMaxHP <= 0 {
		errs = append(errs, errors.New("battle max HP must be > 0"))
	}
	if c.Battle.PlayerAttack < 0 || c.Battle.OpponentAttack < 0 {
		errs = append(errs, errors.New("battle attack cannot be negative"))
	}
	if c.Battle.TerminationDelay < 0 || c.Battle.EndDelay < 0 || c.Battle.CounterDelay < 0 {
		errs = append(errs, errors.New("battle delays cannot be negative"))
	}
	if c.Retry.DatabaseMaxRetries <= 0 {
		errs = append(errs, errors.New("DB_MAX_RETRIES must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
