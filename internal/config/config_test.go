package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"LOG_LEVEL", "QUESTION_API_URL", "BATTLE_COUNTER_ATTACK"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("Expected 1h session TTL, got %v", cfg.SessionTTL)
	}
	if cfg.Battle.PlayerMaxHP != 40 || cfg.Battle.OpponentMaxHP != 120 {
		t.Errorf("Unexpected battle defaults %+v", cfg.Battle)
	}
	if cfg.Battle.TerminationDelay != 300*time.Millisecond || cfg.Battle.EndDelay != time.Second {
		t.Errorf("Unexpected battle pacing %+v", cfg.Battle)
	}
	if cfg.Battle.CounterAttack {
		t.Error("Expected counter-attack to be off by default")
	}
	if cfg.Question.MaxAttempts != 3 || cfg.Question.RetryDelay != time.Second {
		t.Errorf("Unexpected question defaults %+v", cfg.Question)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Expected info level for empty LOG_LEVEL, got %v", cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("QUESTION_API_URL", "http://questions.local/")
	t.Setenv("QUESTION_RETRY_DELAY", "250ms")
	t.Setenv("BATTLE_COUNTER_ATTACK", "yes")
	t.Setenv("BATTLE_OPPONENT_ATTACK", "15")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SESSION_TTL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Question.APIURL != "http://questions.local" {
		t.Errorf("Expected trailing slash trimmed, got %q", cfg.Question.APIURL)
	}
	if cfg.Question.RetryDelay != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", cfg.Question.RetryDelay)
	}
	if !cfg.Battle.CounterAttack || cfg.Battle.OpponentAttack != 15 {
		t.Errorf("Unexpected battle overrides %+v", cfg.Battle)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", cfg.LogLevel)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("Expected fallback TTL for invalid duration, got %v", cfg.SessionTTL)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:       "8080",
			DBPath:     ":memory:",
			SessionTTL: time.Hour,
			Question:   QuestionConfig{MaxAttempts: 3, RetryDelay: time.Second},
			Battle:     BattleConfig{PlayerMaxHP: 40, PlayerAttack: 20, OpponentMaxHP: 120, OpponentAttack: 10},
			Retry:      RetryConfig{DatabaseMaxRetries: 3},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"empty db path", func(c *Config) { c.DBPath = "" }, true},
		{"zero attempts", func(c *Config) { c.Question.MaxAttempts = 0 }, true},
		{"zero player hp", func(c *Config) { c.Battle.PlayerMaxHP = 0 }, true},
		{"negative delay", func(c *Config) { c.Battle.EndDelay = -time.Second }, true},
		{"zero retries", func(c *Config) { c.Retry.DatabaseMaxRetries = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "")
	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"https://quiz.example", false},
	}
	for _, tt := range tests {
		c := &Config{FrontendURL: tt.url}
		if got := c.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
