package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")
	defer os.Unsetenv("JWT_SECRET")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.JWTSecret != "test-secret" {
		t.Errorf("Expected JWTSecret 'test-secret', got '%s'", cfg.JWTSecret)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("JWT_SECRET")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when JWT_SECRET is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")
	defer os.Unsetenv("JWT_SECRET")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.TokenTTLHours != 24 {
		t.Errorf("Expected default TokenTTLHours 24, got %d", cfg.TokenTTLHours)
	}

	if cfg.MaxSpeakers != 4 {
		t.Errorf("Expected default MaxSpeakers 4, got %d", cfg.MaxSpeakers)
	}

	if cfg.MinSegmentSeconds != 1.0 {
		t.Errorf("Expected default MinSegmentSeconds 1.0, got %f", cfg.MinSegmentSeconds)
	}

	if cfg.PollInterval != 30 {
		t.Errorf("Expected default PollInterval 30, got %d", cfg.PollInterval)
	}

	if cfg.BotStatusTimeout != 10 {
		t.Errorf("Expected default BotStatusTimeout 10, got %d", cfg.BotStatusTimeout)
	}

	if cfg.BotFetchTimeout != 30 {
		t.Errorf("Expected default BotFetchTimeout 30, got %d", cfg.BotFetchTimeout)
	}

	if cfg.OllamaModel != "gemma:2b" {
		t.Errorf("Expected default OllamaModel 'gemma:2b', got '%s'", cfg.OllamaModel)
	}

	if cfg.BotBaseURL != "https://api.meetingbaas.com" {
		t.Errorf("Expected default BotBaseURL 'https://api.meetingbaas.com', got '%s'", cfg.BotBaseURL)
	}
}

func TestLoad_InvalidBounds(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")
	os.Setenv("MAX_SPEAKERS", "0")
	defer os.Unsetenv("JWT_SECRET")
	defer os.Unsetenv("MAX_SPEAKERS")

	if _, err := Load(); err == nil {
		t.Error("Expected error when MAX_SPEAKERS is 0")
	}
}
