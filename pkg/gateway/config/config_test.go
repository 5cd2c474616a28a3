package config

import (
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-catalog/pkg/realtime/credentials"
	"github.com/vango-go/vai-catalog/pkg/realtime/negotiate"
)

var catalogEnvKeys = []string{
	"VAI_CATALOG_ADDR",
	"VAI_CATALOG_CORS_ORIGINS",
	"VAI_CATALOG_OPENAI_API_KEY",
	"OPENAI_API_KEY",
	"VAI_CATALOG_TOKEN_URL",
	"VAI_CATALOG_SESSIONS_URL",
	"VAI_CATALOG_REALTIME_URL",
	"VAI_CATALOG_MODEL",
	"VAI_CATALOG_VOICE",
	"VAI_CATALOG_ICE_SERVERS",
	"VAI_CATALOG_INSTRUCTIONS_FILE",
	"VAI_CATALOG_MAX_LOGS",
	"VAI_CATALOG_FILE",
	"VAI_CATALOG_WATCH",
	"VAI_CATALOG_PREDICATE",
	"VAI_CATALOG_DATABASE_URL",
	"VAI_CATALOG_DATABASE_SEED",
	"VAI_CATALOG_PLACEHOLDER_IMAGE",
	"VAI_CATALOG_MIC_FILE",
	"VAI_CATALOG_RECORD_DIR",
	"VAI_CATALOG_EVENTS_PING_INTERVAL",
	"VAI_CATALOG_EVENTS_WRITE_TIMEOUT",
	"VAI_CATALOG_EVENTS_BUFFER",
	"VAI_CATALOG_EVENTS_MAX_SUBSCRIBERS",
	"VAI_CATALOG_SERVICE_NAME",
	"VAI_CATALOG_ENVIRONMENT",
	"VAI_CATALOG_READ_HEADER_TIMEOUT",
	"VAI_CATALOG_READ_TIMEOUT",
	"VAI_CATALOG_HANDLER_TIMEOUT",
	"VAI_CATALOG_SHUTDOWN_GRACE_PERIOD",
	"VAI_CATALOG_CONNECT_TIMEOUT",
	"VAI_CATALOG_UPSTREAM_TIMEOUT",
}

func clearCatalogEnv(t *testing.T) {
	t.Helper()
	for _, key := range catalogEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearCatalogEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != "127.0.0.1:8080" {
		t.Fatalf("Addr = %q, want 127.0.0.1:8080", cfg.Addr)
	}
	if cfg.Model != credentials.DefaultModel {
		t.Fatalf("Model = %q", cfg.Model)
	}
	if cfg.Voice != "coral" {
		t.Fatalf("Voice = %q, want coral", cfg.Voice)
	}
	if cfg.SessionsURL != credentials.DefaultSessionsURL {
		t.Fatalf("SessionsURL = %q", cfg.SessionsURL)
	}
	if cfg.RealtimeURL != negotiate.DefaultBaseURL {
		t.Fatalf("RealtimeURL = %q", cfg.RealtimeURL)
	}
	if cfg.MaxLogs != 200 {
		t.Fatalf("MaxLogs = %d, want 200", cfg.MaxLogs)
	}
	if cfg.PlaceholderImage != "/images/default-product.jpg" {
		t.Fatalf("PlaceholderImage = %q", cfg.PlaceholderImage)
	}
	if cfg.DatabaseSeed {
		t.Fatalf("DatabaseSeed = true, want false")
	}
	if cfg.EventsPingInterval != 20*time.Second {
		t.Fatalf("EventsPingInterval = %v, want 20s", cfg.EventsPingInterval)
	}
	if cfg.EventsWriteTimeout != 5*time.Second {
		t.Fatalf("EventsWriteTimeout = %v, want 5s", cfg.EventsWriteTimeout)
	}
	if cfg.EventsBuffer != 64 || cfg.EventsMaxSubscribers != 8 {
		t.Fatalf("events buffer=%d subscribers=%d", cfg.EventsBuffer, cfg.EventsMaxSubscribers)
	}
	if cfg.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 10s", cfg.ShutdownGracePeriod)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins = %v, want empty", cfg.CORSAllowedOrigins)
	}
	if cfg.CanConnect() {
		t.Fatalf("CanConnect() = true without key or token url")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearCatalogEnv(t)
	t.Setenv("VAI_CATALOG_ADDR", ":9090")
	t.Setenv("VAI_CATALOG_CORS_ORIGINS", "http://localhost:3000, https://shop.example.com")
	t.Setenv("VAI_CATALOG_ICE_SERVERS", "stun:stun.l.google.com:19302")
	t.Setenv("VAI_CATALOG_VOICE", "verse")
	t.Setenv("VAI_CATALOG_FILE", "catalog.yaml")
	t.Setenv("VAI_CATALOG_WATCH", "yes")
	t.Setenv("VAI_CATALOG_EVENTS_PING_INTERVAL", "3s")
	t.Setenv("VAI_CATALOG_MAX_LOGS", "10")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://shop.example.com"]; !ok || len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("ICEServers = %v", cfg.ICEServers)
	}
	if cfg.Voice != "verse" || !cfg.CatalogWatch || cfg.CatalogFile != "catalog.yaml" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.EventsPingInterval != 3*time.Second || cfg.MaxLogs != 10 {
		t.Fatalf("ping=%v max_logs=%d", cfg.EventsPingInterval, cfg.MaxLogs)
	}
}

func TestLoadFromEnv_FallsBackToOpenAIKey(t *testing.T) {
	clearCatalogEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-fallback" {
		t.Fatalf("OpenAIAPIKey = %q", cfg.OpenAIAPIKey)
	}
	if !cfg.CanConnect() {
		t.Fatalf("CanConnect() = false with api key")
	}

	t.Setenv("VAI_CATALOG_OPENAI_API_KEY", "sk-explicit")
	cfg, err = LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-explicit" {
		t.Fatalf("OpenAIAPIKey = %q, want explicit key to win", cfg.OpenAIAPIKey)
	}
}

func TestLoadFromEnv_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearCatalogEnv(t)
	t.Setenv("VAI_CATALOG_READ_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("ReadTimeout = %v, want 30s", cfg.ReadTimeout)
	}
}

func TestLoadFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "non-positive max logs",
			env:     map[string]string{"VAI_CATALOG_MAX_LOGS": "0"},
			wantErr: "VAI_CATALOG_MAX_LOGS",
		},
		{
			name:    "negative ping interval",
			env:     map[string]string{"VAI_CATALOG_EVENTS_PING_INTERVAL": "-1s"},
			wantErr: "VAI_CATALOG_EVENTS_PING_INTERVAL",
		},
		{
			name:    "watch without file",
			env:     map[string]string{"VAI_CATALOG_WATCH": "true"},
			wantErr: "VAI_CATALOG_WATCH requires",
		},
		{
			name: "watch with database",
			env: map[string]string{
				"VAI_CATALOG_WATCH":        "true",
				"VAI_CATALOG_FILE":         "catalog.yaml",
				"VAI_CATALOG_DATABASE_URL": "postgres://localhost/catalog",
			},
			wantErr: "cannot be combined",
		},
		{
			name:    "token url without scheme",
			env:     map[string]string{"VAI_CATALOG_TOKEN_URL": "localhost:3000/api/session"},
			wantErr: "VAI_CATALOG_TOKEN_URL",
		},
		{
			name:    "realtime url without scheme",
			env:     map[string]string{"VAI_CATALOG_REALTIME_URL": "api.openai.com/v1/realtime"},
			wantErr: "VAI_CATALOG_REALTIME_URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearCatalogEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("splitCSV = %v", got)
	}
	if splitCSV("   ") != nil {
		t.Fatalf("splitCSV(blank) should be nil")
	}
}
